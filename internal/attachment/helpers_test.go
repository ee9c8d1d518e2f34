package attachment

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/filestore"
	"github.com/abduss/gomedia/internal/lock"
	"github.com/abduss/gomedia/internal/media"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeRepo implements recordStore in memory.
type fakeRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]Attachment
	updates int
}

var _ recordStore = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[uuid.UUID]Attachment{}}
}

func (r *fakeRepo) Create(ctx context.Context, a Attachment) (Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[a.ID] = a
	return a, nil
}

func (r *fakeRepo) Get(ctx context.Context, id uuid.UUID) (Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.records[id]
	if !ok {
		return Attachment{}, ErrNotFound
	}
	return a, nil
}

func (r *fakeRepo) Update(ctx context.Context, a Attachment) (Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.records[a.ID]
	if !ok {
		return Attachment{}, ErrNotFound
	}
	if old.Sanitized > a.Sanitized {
		a.Sanitized = old.Sanitized
	}
	r.records[a.ID] = a
	r.updates++
	return a, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) InProgressCount(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.records {
		if a.UserID == userID && a.InProgress() {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type fakeEvents struct {
	mu      sync.Mutex
	created []uuid.UUID
	updated []uuid.UUID
	posts   []uuid.UUID
}

func (e *fakeEvents) AttachmentCreated(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, id)
	return nil
}

func (e *fakeEvents) AttachmentUpdated(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updated = append(e.updated, id)
	return nil
}

func (e *fakeEvents) PostUpdated(ctx context.Context, postID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posts = append(e.posts, postID)
	return nil
}

type fakeJobs struct {
	mu       sync.Mutex
	payloads []FinalizePayload
	err      error
}

func (j *fakeJobs) Enqueue(ctx context.Context, jobType string, payload any) (uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return uuid.Nil, j.err
	}
	j.payloads = append(j.payloads, payload.(FinalizePayload))
	return uuid.New(), nil
}

type fakePrefs struct {
	sanitize bool
}

func (p fakePrefs) SanitizeMetadata(ctx context.Context, userID uuid.UUID) (bool, error) {
	return p.sanitize, nil
}

type fakeSanitizer struct {
	mu      sync.Mutex
	calls   int
	changed bool
	err     error
}

func (s *fakeSanitizer) Strip(ctx context.Context, filePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.changed, s.err
}

// fakeTools stands in for ffprobe and ffmpeg.
type fakeTools struct {
	mu        sync.Mutex
	probeJSON string
	probeErr  error
}

func (f *fakeTools) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch filepath.Base(name) {
	case "ffprobe":
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(f.probeJSON), nil
	case "ffmpeg":
		return nil, os.WriteFile(args[len(args)-1], []byte("rendered"), 0o600)
	}
	return nil, errors.New("unexpected tool " + name)
}

func (f *fakeTools) failProbe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

// recordingStore counts placements and can fail keys containing failOn.
type recordingStore struct {
	*filestore.Local
	mu     sync.Mutex
	places []string
	failOn string
}

func (s *recordingStore) Place(ctx context.Context, localPath, key string, opts filestore.PutOptions) error {
	s.mu.Lock()
	fail := s.failOn != "" && strings.Contains(key, s.failOn)
	s.places = append(s.places, key)
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Local.Place(ctx, localPath, key, opts)
}

func (s *recordingStore) placed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.places)
}

const fullHDProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "12.500000"}
}`

type harness struct {
	svc       *Service
	repo      *fakeRepo
	events    *fakeEvents
	jobs      *fakeJobs
	sanitizer *fakeSanitizer
	tools     *fakeTools
	store     *recordingStore
	mediaCfg  config.MediaConfig
	tempDir   string
	sharedDir string
	userID    uuid.UUID
}

type harnessOption func(*Config, *Dependencies, *config.MediaConfig)

func withQuota(n int) harnessOption {
	return func(c *Config, _ *Dependencies, _ *config.MediaConfig) { c.MaxInProgress = n }
}

func withSanitizePreference() harnessOption {
	return func(_ *Config, d *Dependencies, _ *config.MediaConfig) { d.Prefs = fakePrefs{sanitize: true} }
}

func withBounds(bounds ...config.Bound) harnessOption {
	return func(_ *Config, _ *Dependencies, m *config.MediaConfig) { m.ImageBounds = bounds }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		repo:      newFakeRepo(),
		events:    &fakeEvents{},
		jobs:      &fakeJobs{},
		sanitizer: &fakeSanitizer{},
		tools:     &fakeTools{probeJSON: fullHDProbe},
		tempDir:   t.TempDir(),
		sharedDir: t.TempDir(),
		userID:    uuid.New(),
	}
	local, err := filestore.NewLocal(t.TempDir(), "http://files.test", h.tempDir)
	require.NoError(t, err)
	h.store = &recordingStore{Local: local}

	cfg := Config{
		PathPrefix:    "attachments/",
		InlineTypes:   []string{"image/png", "video/mp4"},
		MaxInProgress: 5,
		TempDir:       h.tempDir,
		SharedDir:     h.sharedDir,
	}
	mediaCfg := config.MediaConfig{
		ImageBounds: []config.Bound{
			{Name: "thumbnails", Width: 525, Height: 175},
			{Name: "thumbnails2", Width: 1050, Height: 350},
		},
		PosterBound:       config.Bound{Name: "p1", Width: 1050, Height: 350},
		VideoBound:        config.Bound{Name: "v1", Width: 1280, Height: 720},
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		TempDir:           h.tempDir,
		RenderConcurrency: 2,
		JPEGQuality:       85,
	}
	deps := Dependencies{
		Repo:      h.repo,
		Store:     h.store,
		Sanitizer: h.sanitizer,
		Prefs:     fakePrefs{},
		Events:    h.events,
		Jobs:      h.jobs,
		Locker:    lock.NewLocal(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps, &mediaCfg)
	}
	h.mediaCfg = mediaCfg
	deps.Generator = media.New(mediaCfg, h.tools, nil, nil)
	h.svc = NewService(cfg, deps)
	return h
}

func (h *harness) create(t *testing.T, data []byte, name string) (Attachment, string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload-"+name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	a, err := h.svc.Create(context.Background(), CreateInput{FilePath: path, FileName: name, UserID: h.userID})
	return a, path, err
}

func (h *harness) stored(t *testing.T, key string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(h.store.Root(), filepath.FromSlash(key)))
	return err == nil
}

func (h *harness) readStored(t *testing.T, key string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.store.Root(), filepath.FromSlash(key)))
	require.NoError(t, err)
	return data
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 10, G: 120, B: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mp4Bytes() []byte {
	data := []byte{0x00, 0x00, 0x00, 0x18}
	data = append(data, []byte("ftypisom")...)
	data = append(data, 0x00, 0x00, 0x02, 0x00)
	data = append(data, []byte("isomiso2avc1mp41")...)
	return append(data, make([]byte, 64)...)
}

func id3Frame(id, text string) []byte {
	var buf bytes.Buffer
	buf.WriteString(id)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(text)+1))
	buf.Write([]byte{0, 0, 0})
	buf.WriteString(text)
	return buf.Bytes()
}

func mp3Bytes(title, artist string) []byte {
	var frames bytes.Buffer
	frames.Write(id3Frame("TIT2", title))
	frames.Write(id3Frame("TPE1", artist))
	frames.Write(make([]byte, 10))

	size := frames.Len()
	var buf bytes.Buffer
	buf.WriteString("ID3")
	buf.Write([]byte{3, 0, 0})
	buf.Write([]byte{byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)})
	buf.Write(frames.Bytes())
	buf.Write(make([]byte, 128))
	return buf.Bytes()
}
