package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/abduss/gomedia/internal/config"
	"github.com/stretchr/testify/require"
)

// fakeTools stands in for ffprobe and ffmpeg.
type fakeTools struct {
	mu        sync.Mutex
	probeJSON string
	probeErr  error
	ffmpegErr error
	calls     [][]string
}

func (f *fakeTools) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	switch filepath.Base(name) {
	case "ffprobe":
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(f.probeJSON), nil
	case "ffmpeg":
		if f.ffmpegErr != nil {
			return nil, f.ffmpegErr
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("rendered"), 0o600)
	}
	return nil, errors.New("unexpected tool " + name)
}

func (f *fakeTools) ranTool(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c[0] == name {
			n++
		}
	}
	return n
}

func (f *fakeTools) callContaining(arg string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(strings.Join(c, " "), arg) {
			return c
		}
	}
	return nil
}

func testMediaConfig(t *testing.T) config.MediaConfig {
	t.Helper()
	return config.MediaConfig{
		ImageBounds: []config.Bound{
			{Name: "thumbnails", Width: 525, Height: 175},
			{Name: "thumbnails2", Width: 1050, Height: 350},
		},
		PosterBound:       config.Bound{Name: "p1", Width: 1050, Height: 350},
		VideoBound:        config.Bound{Name: "v1", Width: 1280, Height: 720},
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		TempDir:           t.TempDir(),
		RenderConcurrency: 2,
		JPEGQuality:       85,
	}
}

func newTestGenerator(t *testing.T, tools *fakeTools) *Generator {
	t.Helper()
	return New(testMediaConfig(t), tools, nil, nil)
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func writeGIF(t *testing.T, frames int) string {
	t.Helper()
	anim := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 40, 20), palette.Plan9)
		frame.SetColorIndex(i%40, 5, uint8(i+1))
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func writeBytes(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}
