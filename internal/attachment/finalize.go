package attachment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/abduss/gomedia/internal/jobs"
	"github.com/abduss/gomedia/internal/media"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleFinalizeJob is the jobs.Handler for JobFinalize.
func (s *Service) HandleFinalizeJob(ctx context.Context, job jobs.Job) error {
	var p FinalizePayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	return s.FinalizeCreation(ctx, p.AttachmentID, p.FilePath)
}

// FinalizeCreation finishes a stub created by Create from the staged file.
// Attachments that are gone or already final are left alone, so duplicate
// deliveries are harmless. When the staged file cannot be processed the
// attachment is stored as a general file instead; only storage and record
// store failures are returned, and those leave the staged file for a retry.
func (s *Service) FinalizeCreation(ctx context.Context, id uuid.UUID, filePath string) error {
	start := time.Now()
	defer metrics.ObserveStage("finalize", start)
	log := s.log.With(zap.String("attachment_id", id.String()))

	unlock, err := s.locker.Lock(ctx, lockAttachment, id.String())
	if err != nil {
		return fmt.Errorf("lock attachment: %w", err)
	}
	defer unlock()

	a, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		log.Info("attachment deleted before finalization")
		_ = removeIfExists(filePath)
		return nil
	}
	if err != nil {
		return err
	}
	if !a.InProgress() {
		log.Info("attachment already finalized")
		_ = removeIfExists(filePath)
		return nil
	}

	final, err := s.finalize(ctx, a, filePath, log)
	if err != nil {
		return err
	}
	_ = removeIfExists(filePath)

	log.Info("attachment finalized", zap.String("media_type", final.MediaType))
	s.emitUpdated(ctx, final, log)
	return nil
}

func (s *Service) finalize(ctx context.Context, a Attachment, filePath string, log *zap.Logger) (Attachment, error) {
	stubKey := s.key(a, media.Original)

	res, err := s.gen.Process(ctx, filePath, a.FileName, media.Options{Sync: true})
	if err != nil {
		if ctx.Err() != nil {
			return Attachment{}, err
		}
		log.Warn("processing failed, storing as general file", zap.Error(err))
		metrics.Ingested(sniff.General, "degraded")
		return s.finalizeGeneral(ctx, a, filePath, stubKey, log)
	}
	defer res.Cleanup()

	files, release, err := s.detachOriginal(res.Files, filePath)
	if err != nil {
		return Attachment{}, err
	}
	defer release()

	final := a
	final.apply(res)
	if final.Checksum, err = fileChecksum(files[media.Original]); err != nil {
		return Attachment{}, err
	}

	stored, err := s.commitFinal(ctx, final, files, stubKey, log)
	if err != nil {
		return Attachment{}, err
	}
	metrics.Ingested(stored.MediaType, "finalized")
	return stored, nil
}

// finalizeGeneral stores the staged file, or a placeholder when it has
// vanished, as a general file typed by its extension alone.
func (s *Service) finalizeGeneral(ctx context.Context, a Attachment, filePath, stubKey string, log *zap.Logger) (Attachment, error) {
	var (
		src string
		err error
	)
	if _, statErr := os.Stat(filePath); statErr == nil {
		src, err = copyToTemp(s.cfg.TempDir, filePath, "finalize-*")
	} else {
		log.Warn("staged file missing, storing placeholder", zap.Error(statErr))
		src, err = s.writePlaceholder()
	}
	if err != nil {
		return Attachment{}, err
	}
	defer func() { _ = removeIfExists(src) }()

	info, err := os.Stat(src)
	if err != nil {
		return Attachment{}, fmt.Errorf("stat fallback file: %w", err)
	}

	ext := sniff.SafeExtension(filePath)
	if ext == "" {
		ext = a.FileExtension
	}
	mimeType := sniff.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = sniff.Octet
	}

	final := a
	final.apply(&media.Result{
		MediaType:     sniff.General,
		MimeType:      mimeType,
		FileExtension: ext,
		FileSize:      info.Size(),
	})
	if final.Checksum, err = fileChecksum(src); err != nil {
		return Attachment{}, err
	}
	return s.commitFinal(ctx, final, map[string]string{media.Original: src}, stubKey, log)
}

// commitFinal places files, writes the final record and drops the stub
// placeholder when the original landed under a different key.
func (s *Service) commitFinal(ctx context.Context, final Attachment, files map[string]string, stubKey string, log *zap.Logger) (Attachment, error) {
	undo := newUndoStack(log)
	if err := s.placeFiles(ctx, final, files, undo, map[string]bool{stubKey: true}); err != nil {
		undo.unwind(ctx)
		return Attachment{}, err
	}
	stored, err := s.repo.Update(ctx, final)
	if err != nil {
		undo.unwind(ctx)
		return Attachment{}, fmt.Errorf("update attachment: %w", err)
	}

	if s.key(stored, media.Original) != stubKey {
		if err := s.store.Delete(ctx, stubKey); err != nil {
			log.Warn("delete stub placeholder", zap.String("key", stubKey), zap.Error(err))
		}
	}
	return stored, nil
}
