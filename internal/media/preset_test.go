package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPresetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
presets:
  small:
    video_codec: libx264
    video_bitrate: 800k
    audio_codec: aac
    pixel_format: yuv420p
    extra_args: ["-crf", "30"]
`), 0o600))

	lib, err := LoadPresetFile(path)
	require.NoError(t, err)

	small := lib.Get("small")
	assert.Equal(t, "small", small.Name)
	assert.Equal(t, []string{"-c:v", "libx264", "-b:v", "800k", "-pix_fmt", "yuv420p", "-c:a", "aac", "-crf", "30"}, small.Args(false))
	assert.Equal(t, []string{"-c:v", "libx264", "-b:v", "800k", "-pix_fmt", "yuv420p", "-an", "-crf", "30"}, small.Args(true))

	assert.Equal(t, DefaultPresetName, lib.Get("missing").Name, "unknown presets fall back to the default")
}

func TestLoadPresetFileErrors(t *testing.T) {
	_, err := LoadPresetFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets: [oops"), 0o600))
	_, err = LoadPresetFile(path)
	assert.Error(t, err)
}
