package sniff

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetectUsesContentOverName(t *testing.T) {
	path := writeFile(t, "upload", pngBytes(t))

	assert.Equal(t, "image/png", Detect(path, "holiday.mp3"))
}

func TestDetectID3AsMPEGAudio(t *testing.T) {
	data := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
	path := writeFile(t, "upload", data)

	assert.Equal(t, "audio/mpeg", Detect(path, "track"))
}

func TestDetectEmptyFileFallsBackToName(t *testing.T) {
	path := writeFile(t, "upload", nil)

	assert.Equal(t, "audio/mpeg", Detect(path, "song.MP3"))
	assert.Equal(t, Octet, Detect(path, "mystery.qqq"))
}

func TestDetectMissingFileNeverFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")

	assert.Equal(t, "application/pdf", Detect(missing, "doc.pdf"))
	assert.Equal(t, Octet, Detect(missing, ""))
}

func TestDetectStripsParameters(t *testing.T) {
	path := writeFile(t, "upload", []byte("just some words\n"))

	assert.Equal(t, "text/plain", Detect(path, ""))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("image/jpeg", "photo.jpeg"))
	assert.Equal(t, "mp3", Extension("audio/mpeg", ""))
	assert.Equal(t, "psd", Extension(Octet, "layers.PSD"))
	assert.Equal(t, "", Extension(Octet, "weird.ex$t"))
	assert.Equal(t, "", Extension(Octet, "noext"))
}

func TestMediaTypeOf(t *testing.T) {
	cases := map[string]string{
		"image/png":                 Image,
		"image/svg+xml":             Image,
		"image/heic":                General,
		"audio/mpeg":                Audio,
		"video/mp4":                 Video,
		"text/plain; charset=utf-8": General,
		Octet:                       General,
	}
	for mimeType, want := range cases {
		assert.Equal(t, want, MediaTypeOf(mimeType), mimeType)
	}
}

func TestLegacyFallbackOnlyAcceptsID3(t *testing.T) {
	id3 := writeFile(t, "upload", append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 32)...))
	assert.True(t, legacyID3(id3))

	// net/http types these as image/png and text/html; neither may win.
	assert.False(t, legacyID3(writeFile(t, "a", pngBytes(t))))
	assert.False(t, legacyID3(writeFile(t, "b", []byte("<html><body>hi</body></html>"))))
	assert.False(t, legacyID3(filepath.Join(t.TempDir(), "gone")))
}
