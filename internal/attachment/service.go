// Package attachment turns uploads into stored attachments: it sanitizes the
// upload, renders derivatives, places every file and persists the record.
// Slow media is stored as an in-progress stub and finished by a background
// finalize job.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abduss/gomedia/internal/filestore"
	"github.com/abduss/gomedia/internal/media"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/abduss/gomedia/internal/sanitize"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobFinalize is the job type whose payload is a FinalizePayload.
const JobFinalize = "finalize"

const (
	lockAttachment  = "attachment"
	lockUploadQuota = "upload-quota"
)

// FinalizePayload is the payload of a finalize job.
type FinalizePayload struct {
	AttachmentID uuid.UUID `json:"attachmentId"`
	FilePath     string    `json:"filePath"`
}

// recordStore is the attachment record store.
type recordStore interface {
	Create(ctx context.Context, a Attachment) (Attachment, error)
	Get(ctx context.Context, id uuid.UUID) (Attachment, error)
	Update(ctx context.Context, a Attachment) (Attachment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InProgressCount(ctx context.Context, userID uuid.UUID) (int, error)
}

// EventBus receives change notifications. Delivery is best effort.
type EventBus interface {
	AttachmentCreated(ctx context.Context, id uuid.UUID) error
	AttachmentUpdated(ctx context.Context, id uuid.UUID) error
	PostUpdated(ctx context.Context, postID uuid.UUID) error
}

// JobQueue schedules background work.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload any) (uuid.UUID, error)
}

// PreferenceStore tells whether a user opted into metadata sanitizing.
type PreferenceStore interface {
	SanitizeMetadata(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Locker serializes work on a scope/id pair.
type Locker interface {
	Lock(ctx context.Context, scope, id string) (func(), error)
}

// Sanitizer strips sensitive metadata from a file in place.
type Sanitizer interface {
	Strip(ctx context.Context, filePath string) (bool, error)
}

// Generator classifies a file and renders its derivatives.
type Generator interface {
	Process(ctx context.Context, filePath, fileName string, opts media.Options) (*media.Result, error)
}

// Config parameterizes the Service.
type Config struct {
	PathPrefix    string
	InlineTypes   []string
	MaxInProgress int
	MaxUploadSize int64
	TempDir       string
	SharedDir     string
}

// Dependencies groups the collaborators of the Service.
type Dependencies struct {
	Repo      recordStore
	Store     filestore.Backend
	Generator Generator
	Sanitizer Sanitizer
	Prefs     PreferenceStore
	Events    EventBus
	Jobs      JobQueue
	Locker    Locker
	Log       *zap.Logger
}

// Service implements the attachment use cases.
type Service struct {
	cfg    Config
	repo   recordStore
	store  filestore.Backend
	gen    Generator
	san    Sanitizer
	prefs  PreferenceStore
	events EventBus
	jobs   JobQueue
	locker Locker
	quota  *QuotaTracker
	log    *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg Config, deps Dependencies) *Service {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.SharedDir == "" {
		cfg.SharedDir = cfg.TempDir
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		repo:   deps.Repo,
		store:  deps.Store,
		gen:    deps.Generator,
		san:    deps.Sanitizer,
		prefs:  deps.Prefs,
		events: deps.Events,
		jobs:   deps.Jobs,
		locker: deps.Locker,
		quota:  NewQuotaTracker(deps.Repo),
		log:    log,
	}
}

// Requester identifies who is acting on an attachment.
type Requester struct {
	UserID uuid.UUID
	Admin  bool
}

func (r Requester) owns(a Attachment) bool {
	return r.Admin || a.UserID == r.UserID
}

// CreateInput describes one upload. Once the input validates, the service
// takes ownership of FilePath: it is moved into storage or removed before
// Create returns. A rejected input is left untouched.
type CreateInput struct {
	FilePath string
	FileName string
	UserID   uuid.UUID
	PostID   *uuid.UUID
}

// Create ingests an upload. Images, audio and general files are stored
// completely before it returns. Video and animated images are stored as an
// in-progress stub and finished by a finalize job; ErrQuotaExceeded is
// returned when the user already has too many of those.
func (s *Service) Create(ctx context.Context, in CreateInput) (Attachment, error) {
	start := time.Now()
	defer metrics.ObserveStage("ingest", start)

	name, err := validateUpload(in)
	if err != nil {
		metrics.Ingested(sniff.General, "invalid")
		return Attachment{}, err
	}
	defer func() { _ = removeIfExists(in.FilePath) }()
	log := s.log.With(zap.String("user_id", in.UserID.String()), zap.String("file_name", name))

	sanitized := s.sanitizeUpload(ctx, in.UserID, in.FilePath, log)

	res, err := s.gen.Process(ctx, in.FilePath, name, media.Options{})
	if err != nil {
		return Attachment{}, fmt.Errorf("process upload: %w", err)
	}
	defer res.Cleanup()

	checksum, err := fileChecksum(res.Files[media.Original])
	if err != nil {
		return Attachment{}, err
	}

	a := Attachment{
		ID:        uuid.New(),
		UserID:    in.UserID,
		PostID:    in.PostID,
		FileName:  name,
		Sanitized: sanitized,
		Checksum:  checksum,
	}
	a.apply(res)
	log = log.With(zap.String("attachment_id", a.ID.String()), zap.String("media_type", a.MediaType))

	if res.Deferred() {
		return s.createDeferred(ctx, a, in.FilePath, log)
	}
	return s.createImmediate(ctx, a, res.Files, log)
}

func (s *Service) createImmediate(ctx context.Context, a Attachment, files map[string]string, log *zap.Logger) (Attachment, error) {
	undo := newUndoStack(log)
	if err := s.placeFiles(ctx, a, files, undo, nil); err != nil {
		undo.unwind(ctx)
		metrics.Ingested(a.MediaType, "failed")
		return Attachment{}, err
	}

	stored, err := s.repo.Create(ctx, a)
	if err != nil {
		undo.unwind(ctx)
		metrics.Ingested(a.MediaType, "failed")
		return Attachment{}, fmt.Errorf("persist attachment: %w", err)
	}

	s.emitCreated(ctx, stored, log)
	metrics.Ingested(stored.MediaType, "complete")
	log.Info("attachment created", zap.Int("variants", len(files)))
	return stored, nil
}

func (s *Service) createDeferred(ctx context.Context, a Attachment, uploadPath string, log *zap.Logger) (Attachment, error) {
	unlock, err := s.locker.Lock(ctx, lockUploadQuota, a.UserID.String())
	if err != nil {
		return Attachment{}, fmt.Errorf("lock upload quota: %w", err)
	}
	defer unlock()

	ok, err := s.quota.TryReserve(ctx, a.UserID, s.cfg.MaxInProgress)
	if err != nil {
		return Attachment{}, err
	}
	if !ok {
		metrics.Ingested(a.MediaType, "rejected")
		log.Info("upload rejected, too many in progress", zap.Int("limit", s.cfg.MaxInProgress))
		return Attachment{}, ErrQuotaExceeded
	}

	undo := newUndoStack(log)
	fail := func(err error) (Attachment, error) {
		undo.unwind(ctx)
		metrics.Ingested(a.MediaType, "failed")
		return Attachment{}, err
	}

	placeholder, err := s.writePlaceholder()
	if err != nil {
		return fail(err)
	}
	defer func() { _ = removeIfExists(placeholder) }()

	key := s.key(a, media.Original)
	if err := s.store.Place(ctx, placeholder, key, placeholderOptions); err != nil {
		return fail(&StorageError{Op: "place", Key: key, Err: err})
	}
	undo.push("delete placeholder", func(ctx context.Context) error { return s.store.Delete(ctx, key) })

	staged, err := s.stage(uploadPath, a)
	if err != nil {
		return fail(err)
	}
	undo.push("remove staged upload", func(context.Context) error { return removeIfExists(staged) })

	stored, err := s.repo.Create(ctx, a)
	if err != nil {
		return fail(fmt.Errorf("persist stub: %w", err))
	}
	undo.push("delete stub", func(ctx context.Context) error { return s.repo.Delete(ctx, stored.ID) })

	payload := FinalizePayload{AttachmentID: stored.ID, FilePath: staged}
	if _, err := s.jobs.Enqueue(ctx, JobFinalize, payload); err != nil {
		return fail(fmt.Errorf("enqueue finalize: %w", err))
	}

	s.emitCreated(ctx, stored, log)
	metrics.Ingested(stored.MediaType, "deferred")
	log.Info("attachment stub created", zap.String("staged", staged))
	return stored, nil
}

// Get returns the attachment if the requester may see it.
func (s *Service) Get(ctx context.Context, id uuid.UUID, who Requester) (Attachment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if !who.owns(a) {
		return Attachment{}, ErrForbidden
	}
	return a, nil
}

// View is an attachment with download URLs for the original and every
// preview variant.
type View struct {
	Attachment
	URL      string            `json:"url"`
	Variants map[string]string `json:"variants,omitempty"`
}

// View resolves the download URLs of a.
func (s *Service) View(ctx context.Context, a Attachment) (View, error) {
	v := View{Attachment: a, Variants: map[string]string{}}
	for variant, key := range a.Keys(s.cfg.PathPrefix) {
		opts := s.putOptions(a, variant)
		u, err := s.store.URL(ctx, key, opts.ContentDisposition)
		if err != nil {
			return View{}, &StorageError{Op: "url", Key: key, Err: err}
		}
		if variant == media.Original {
			v.URL = u
		} else {
			v.Variants[variant] = u
		}
	}
	return v, nil
}

// Delete removes every stored file of the attachment, then its record.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, who Requester) error {
	unlock, err := s.locker.Lock(ctx, lockAttachment, id.String())
	if err != nil {
		return fmt.Errorf("lock attachment: %w", err)
	}
	defer unlock()

	a, err := s.Get(ctx, id, who)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(a.Keys(s.cfg.PathPrefix)) {
		if err := s.store.Delete(ctx, key); err != nil {
			return &StorageError{Op: "delete", Key: key, Err: err}
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	log := s.log.With(zap.String("attachment_id", id.String()))
	if a.PostID != nil {
		if err := s.events.PostUpdated(ctx, *a.PostID); err != nil {
			log.Warn("emit post updated", zap.Error(err))
		}
	}
	log.Info("attachment deleted")
	return nil
}

// Resanitize strips metadata from a stored original that was never
// sanitized, or was sanitized under an older tag policy.
func (s *Service) Resanitize(ctx context.Context, id uuid.UUID) (Attachment, error) {
	unlock, err := s.locker.Lock(ctx, lockAttachment, id.String())
	if err != nil {
		return Attachment{}, fmt.Errorf("lock attachment: %w", err)
	}
	defer unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if a.InProgress() {
		return Attachment{}, ErrInProgress
	}
	if a.Sanitized >= sanitize.Version {
		return a, nil
	}
	log := s.log.With(zap.String("attachment_id", id.String()))

	key := s.key(a, media.Original)
	local, err := s.store.FetchToLocal(ctx, key)
	if err != nil {
		return Attachment{}, &StorageError{Op: "fetch", Key: key, Err: err}
	}
	defer func() { _ = removeIfExists(local) }()

	changed, err := s.san.Strip(ctx, local)
	if err != nil {
		return Attachment{}, fmt.Errorf("sanitize original: %w", err)
	}
	if changed {
		info, err := os.Stat(local)
		if err != nil {
			return Attachment{}, fmt.Errorf("stat sanitized original: %w", err)
		}
		checksum, err := fileChecksum(local)
		if err != nil {
			return Attachment{}, err
		}
		if err := s.store.Place(ctx, local, key, s.putOptions(a, media.Original)); err != nil {
			return Attachment{}, &StorageError{Op: "place", Key: key, Err: err}
		}
		a.FileSize, a.Checksum = info.Size(), checksum
	}
	a.Sanitized = sanitize.Version

	stored, err := s.repo.Update(ctx, a)
	if err != nil {
		return Attachment{}, fmt.Errorf("update attachment: %w", err)
	}
	log.Info("attachment resanitized", zap.Bool("changed", changed))
	s.emitUpdated(ctx, stored, log)
	return stored, nil
}

// RegeneratePreviews renders every derivative again from the stored original
// with the current bounds and presets. Variants that no longer apply are
// removed from storage.
func (s *Service) RegeneratePreviews(ctx context.Context, id uuid.UUID) (Attachment, error) {
	unlock, err := s.locker.Lock(ctx, lockAttachment, id.String())
	if err != nil {
		return Attachment{}, fmt.Errorf("lock attachment: %w", err)
	}
	defer unlock()

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Attachment{}, err
	}
	if a.InProgress() {
		return Attachment{}, ErrInProgress
	}
	log := s.log.With(zap.String("attachment_id", id.String()))

	oldKeys := a.Keys(s.cfg.PathPrefix)
	local, err := s.store.FetchToLocal(ctx, oldKeys[media.Original])
	if err != nil {
		return Attachment{}, &StorageError{Op: "fetch", Key: oldKeys[media.Original], Err: err}
	}
	defer func() { _ = removeIfExists(local) }()

	res, err := s.gen.Process(ctx, local, a.FileName, media.Options{Sync: true})
	if err != nil {
		return Attachment{}, fmt.Errorf("regenerate previews: %w", err)
	}
	defer res.Cleanup()

	updated := a
	updated.apply(res)
	if updated.Checksum, err = fileChecksum(res.Files[media.Original]); err != nil {
		return Attachment{}, err
	}

	keep := map[string]bool{}
	for _, key := range oldKeys {
		keep[key] = true
	}
	undo := newUndoStack(log)
	if err := s.placeFiles(ctx, updated, res.Files, undo, keep); err != nil {
		undo.unwind(ctx)
		return Attachment{}, err
	}
	stored, err := s.repo.Update(ctx, updated)
	if err != nil {
		undo.unwind(ctx)
		return Attachment{}, fmt.Errorf("update attachment: %w", err)
	}

	s.deleteStale(ctx, oldKeys, stored, log)
	log.Info("previews regenerated", zap.Int("variants", len(res.Files)))
	s.emitUpdated(ctx, stored, log)
	return stored, nil
}

// tempPatterns match every file this package and its collaborators stage in
// the temp and shared directories.
var tempPatterns = []string{"upload-*", "derive-*", "fetch-*", "placeholder-*", "finalize-*", "staged-*"}

// SweepTemp removes staged files older than maxAge left behind by crashed
// processes and returns how many were removed.
func (s *Service) SweepTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	dirs := []string{s.cfg.TempDir}
	if s.cfg.SharedDir != s.cfg.TempDir {
		dirs = append(dirs, s.cfg.SharedDir)
	}

	removed := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if entry.IsDir() || !matchesAny(tempPatterns, entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := removeIfExists(filepath.Join(dir, entry.Name())); err != nil {
				s.log.Warn("sweep temp file", zap.String("file", entry.Name()), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("swept stale temp files", zap.Int("removed", removed))
	}
	return removed, nil
}

// placeFiles stores every variant in files. Each placement pushes its
// rollback unless the key is in keep, which holds keys that already carried
// a file the record points to.
func (s *Service) placeFiles(ctx context.Context, a Attachment, files map[string]string, undo *undoStack, keep map[string]bool) error {
	for _, variant := range sortedVariants(files) {
		key := s.key(a, variant)
		if err := s.store.Place(ctx, files[variant], key, s.putOptions(a, variant)); err != nil {
			return &StorageError{Op: "place", Key: key, Err: err}
		}
		if keep[key] {
			continue
		}
		undo.push("delete "+key, func(ctx context.Context) error { return s.store.Delete(ctx, key) })
	}
	return nil
}

// deleteStale removes keys of before that the updated record no longer uses.
func (s *Service) deleteStale(ctx context.Context, before map[string]string, after Attachment, log *zap.Logger) {
	current := map[string]bool{}
	for _, key := range after.Keys(s.cfg.PathPrefix) {
		current[key] = true
	}
	for _, key := range sortedKeys(before) {
		if current[key] {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			log.Warn("delete stale file", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Service) key(a Attachment, variant string) string {
	return filestore.Key(s.cfg.PathPrefix, variant, a.ID.String(), a.extension(variant))
}

var placeholderOptions = filestore.PutOptions{ContentType: "text/plain", ContentDisposition: "inline"}

func (s *Service) putOptions(a Attachment, variant string) filestore.PutOptions {
	ext := a.extension(variant)
	contentType := a.MimeType
	if variant != media.Original {
		contentType = sniff.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = sniff.Octet
	}
	name := variantFileName(a.FileName, variant, ext)
	return filestore.PutOptions{
		ContentType:        contentType,
		ContentDisposition: filestore.ContentDisposition(filestore.Inline(s.cfg.InlineTypes, contentType), name),
	}
}

func (s *Service) sanitizeUpload(ctx context.Context, userID uuid.UUID, path string, log *zap.Logger) int {
	if s.prefs == nil || s.san == nil {
		return 0
	}
	want, err := s.prefs.SanitizeMetadata(ctx, userID)
	if err != nil {
		log.Warn("load sanitize preference", zap.Error(err))
		return 0
	}
	if !want {
		return 0
	}

	start := time.Now()
	changed, err := s.san.Strip(ctx, path)
	metrics.ObserveStage("sanitize", start)
	if err != nil {
		log.Warn("sanitize failed, storing upload as is", zap.Error(err))
		return 0
	}
	log.Debug("upload sanitized", zap.Bool("changed", changed))
	return sanitize.Version
}

func (s *Service) emitCreated(ctx context.Context, a Attachment, log *zap.Logger) {
	if err := s.events.AttachmentCreated(ctx, a.ID); err != nil {
		log.Warn("emit attachment created", zap.Error(err))
	}
}

func (s *Service) emitUpdated(ctx context.Context, a Attachment, log *zap.Logger) {
	if err := s.events.AttachmentUpdated(ctx, a.ID); err != nil {
		log.Warn("emit attachment updated", zap.Error(err))
	}
	if a.PostID != nil {
		if err := s.events.PostUpdated(ctx, *a.PostID); err != nil {
			log.Warn("emit post updated", zap.Error(err))
		}
	}
}

func validateUpload(in CreateInput) (string, error) {
	if in.UserID == uuid.Nil {
		return "", fmt.Errorf("%w: missing owner", ErrValidation)
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return "", fmt.Errorf("%w: no file", ErrValidation)
	}
	f, err := os.Open(in.FilePath)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable file", ErrValidation)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: unreadable file", ErrValidation)
	}
	return cleanFileName(in.FileName), nil
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "upload"
	}
	return name
}

func variantFileName(name, variant, ext string) string {
	if variant == media.Original {
		return name
	}
	base := strings.TrimSuffix(name, filepath.Ext(name)) + "-" + variant
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func sortedVariants(files map[string]string) []string {
	out := make([]string, 0, len(files))
	for v := range files {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(keys map[string]string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
