package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageLocal, cfg.Storage.Kind)
	require.Len(t, cfg.Media.ImageBounds, 2)
	assert.Equal(t, Bound{Name: "thumbnails", Width: 525, Height: 175}, cfg.Media.ImageBounds[0])
	assert.Equal(t, Bound{Name: "thumbnails2", Width: 1050, Height: 350}, cfg.Media.ImageBounds[1])
	assert.Equal(t, "v1", cfg.Media.VideoBound.Name)
	assert.Equal(t, 5, cfg.Quota.MaxInProgress)
	assert.Contains(t, cfg.Sanitize.Remove, "*:GPS*")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("GOMEDIA_STORAGE", "S3")
	t.Setenv("MINIO_BUCKET", "media")
	t.Setenv("GOMEDIA_IMAGE_BOUNDS", "small:100x100")
	t.Setenv("GOMEDIA_INLINE_TYPES", "image/png, image/jpeg")
	t.Setenv("GOMEDIA_MAX_IN_PROGRESS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageS3, cfg.Storage.Kind)
	assert.Equal(t, []Bound{{Name: "small", Width: 100, Height: 100}}, cfg.Media.ImageBounds)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.Storage.InlineTypes)
	assert.Equal(t, 2, cfg.Quota.MaxInProgress)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	t.Setenv("GOMEDIA_STORAGE", "ftp")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage kind")
}

func TestParseBounds(t *testing.T) {
	cases := []struct {
		raw     string
		want    []Bound
		wantErr bool
	}{
		{raw: "", want: nil},
		{raw: "t:10x20", want: []Bound{{Name: "t", Width: 10, Height: 20}}},
		{raw: "a:1x1, b:2X3", want: []Bound{{Name: "a", Width: 1, Height: 1}, {Name: "b", Width: 2, Height: 3}}},
		{raw: "10x20", wantErr: true},
		{raw: "t:0x20", wantErr: true},
		{raw: "t:10", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseBounds(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestLoadRejectsSmallPoolForWorkers(t *testing.T) {
	t.Setenv("GOMEDIA_WORKERS", "8")
	t.Setenv("POSTGRES_MAX_CONNS", "6")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_MAX_CONNS must be at least 10")
}

func TestLoadLockPool(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.Postgres.LockConns)

	t.Setenv("POSTGRES_LOCK_CONNS", "0")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_LOCK_CONNS must be positive")
}
