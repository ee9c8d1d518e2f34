package media

import (
	"context"
	"errors"
	"testing"

	"github.com/abduss/gomedia/internal/sniff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullHDProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "12.500000"}
}`

const silentProbe = `{
  "streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 480}],
  "format": {"duration": "4.0"}
}`

func mp4Bytes() []byte {
	data := []byte{0x00, 0x00, 0x00, 0x18}
	data = append(data, []byte("ftypisom")...)
	data = append(data, 0x00, 0x00, 0x02, 0x00)
	data = append(data, []byte("isomiso2avc1mp41")...)
	return append(data, make([]byte, 64)...)
}

func TestProcessVideoDefersWithProvisionalInfo(t *testing.T) {
	tools := &fakeTools{probeJSON: fullHDProbe}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	res, err := g.Process(context.Background(), path, "clip.mp4", Options{})
	require.NoError(t, err)

	assert.Equal(t, sniff.Video, res.MediaType)
	assert.True(t, res.Deferred())
	assert.Empty(t, res.Previews)
	assert.Equal(t, map[string]string{"": path}, res.Files)
	require.NotNil(t, res.Width)
	assert.Equal(t, 1920, *res.Width)
	require.NotNil(t, res.Duration)
	assert.InDelta(t, 12.5, *res.Duration, 0.001)
	assert.Zero(t, tools.ranTool("ffmpeg"))
}

func TestProcessVideoDefersEvenWhenProbeFails(t *testing.T) {
	tools := &fakeTools{probeErr: errors.New("no ffprobe")}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	res, err := g.Process(context.Background(), path, "clip.mp4", Options{})
	require.NoError(t, err)

	assert.True(t, res.Deferred())
	assert.Nil(t, res.Width)
}

func TestProcessVideoSyncRendersPosterAndPreview(t *testing.T) {
	tools := &fakeTools{probeJSON: fullHDProbe}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	res, err := g.Process(context.Background(), path, "clip.mp4", Options{Sync: true})
	require.NoError(t, err)
	defer res.Cleanup()

	assert.False(t, res.Deferred())
	assert.Equal(t, Previews{
		sniff.Video: {
			"":   {Width: 1920, Height: 1080, Ext: "mp4"},
			"v1": {Width: 1280, Height: 720, Ext: "mp4"},
		},
		sniff.Image: {
			"p1": {Width: 622, Height: 350, Ext: "jpg"},
		},
	}, res.Previews)
	assert.Contains(t, res.Files, "p1")
	assert.Contains(t, res.Files, "v1")
	assert.NotContains(t, res.Meta, MetaSilent)
	assert.Equal(t, 2, tools.ranTool("ffmpeg"))
	assert.Contains(t, tools.callContaining("libx264"), "aac")
}

func TestProcessSilentVideo(t *testing.T) {
	tools := &fakeTools{probeJSON: silentProbe}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	res, err := g.Process(context.Background(), path, "clip.mp4", Options{Sync: true})
	require.NoError(t, err)
	defer res.Cleanup()

	assert.Equal(t, true, res.Meta[MetaSilent])
	assert.Equal(t, PreviewSize{Width: 640, Height: 480, Ext: "mp4"}, res.Previews[sniff.Video]["v1"])
	assert.Contains(t, tools.callContaining("libx264"), "-an")
}

func TestProcessVideoSyncFailureIsReturned(t *testing.T) {
	tools := &fakeTools{probeJSON: fullHDProbe, ffmpegErr: errors.New("encoder crashed")}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	_, err := g.Process(context.Background(), path, "clip.mp4", Options{Sync: true})
	assert.Error(t, err)
}

func TestProcessAudioOnlyContainer(t *testing.T) {
	tools := &fakeTools{probeJSON: `{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"30"}}`}
	g := newTestGenerator(t, tools)
	path := writeBytes(t, mp4Bytes())

	res, err := g.Process(context.Background(), path, "voice.m4a", Options{})
	require.NoError(t, err)

	assert.Equal(t, sniff.Audio, res.MediaType)
	assert.Equal(t, "audio/mp4", res.MimeType)
	assert.Equal(t, "m4a", res.FileExtension)
	assert.False(t, res.Deferred())
}
