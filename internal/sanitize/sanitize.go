// Package sanitize strips privacy-sensitive metadata tags from media files
// with exiftool.
package sanitize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/abduss/gomedia/internal/spawn"
	"go.uber.org/zap"
)

// Version identifies the current tag policy. Attachments record the version
// they were sanitized with; re-sanitizing is only needed when it grows.
const Version = 1

// Config selects which tags are removed.
type Config struct {
	ExiftoolPath string
	// Remove lists Group:Tag globs to strip.
	Remove []string
	// Ignore lists Group:Tag globs that are never stripped, even when a
	// Remove glob matches.
	Ignore []string
}

// Sanitizer rewrites files in place without their sensitive tags.
type Sanitizer struct {
	cfg    Config
	runner spawn.Runner
	log    *zap.Logger
}

// New constructs a Sanitizer.
func New(cfg Config, runner spawn.Runner, log *zap.Logger) *Sanitizer {
	if cfg.ExiftoolPath == "" {
		cfg.ExiftoolPath = "exiftool"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sanitizer{cfg: cfg, runner: runner, log: log}
}

// Sanitize removes the configured tags from the file at filePath and reports
// whether the file changed. Failures leave the file untouched, are logged and
// reported as false.
func (s *Sanitizer) Sanitize(ctx context.Context, filePath string) bool {
	changed, err := s.Strip(ctx, filePath)
	if err != nil {
		s.log.Warn("sanitize metadata", zap.String("file", filepath.Base(filePath)), zap.Error(err))
		return false
	}
	return changed
}

// Strip is Sanitize with the failure returned. The file is untouched when
// err is non-nil.
func (s *Sanitizer) Strip(ctx context.Context, filePath string) (bool, error) {
	tags, err := s.readTags(ctx, filePath)
	if err != nil {
		return false, fmt.Errorf("read metadata tags: %w", err)
	}

	doomed := s.selectTags(tags)
	if len(doomed) == 0 {
		return false, nil
	}

	tmp, err := s.rewriteCopy(ctx, filePath, doomed)
	if err != nil {
		return false, fmt.Errorf("strip %d metadata tags: %w", len(doomed), err)
	}
	defer os.Remove(tmp)

	// exiftool exits 0 even for tags it cannot write, so check what is left
	after, err := s.readTags(ctx, tmp)
	if err != nil {
		return false, fmt.Errorf("verify stripped tags: %w", err)
	}
	left := s.selectTags(after)
	if len(left) >= len(doomed) {
		s.log.Debug("no metadata tag could be stripped", zap.String("file", filepath.Base(filePath)), zap.Strings("tags", left))
		return false, nil
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return false, fmt.Errorf("replace original: %w", err)
	}

	if len(left) > 0 {
		s.log.Warn("metadata tags survived stripping", zap.String("file", filepath.Base(filePath)), zap.Strings("tags", left))
	}
	s.log.Debug("metadata stripped", zap.String("file", filepath.Base(filePath)), zap.Int("removed", len(doomed)-len(left)))
	return true, nil
}

func (s *Sanitizer) readTags(ctx context.Context, filePath string) (map[string]json.RawMessage, error) {
	out, err := s.runner.Run(ctx, s.cfg.ExiftoolPath, "-json", "-G1", "-a", "-s", "-n", filePath)
	if err != nil {
		return nil, err
	}
	var docs []map[string]json.RawMessage
	if err := json.Unmarshal(out, &docs); err != nil {
		return nil, fmt.Errorf("parse exiftool output: %w", err)
	}
	if len(docs) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	return docs[0], nil
}

func (s *Sanitizer) selectTags(tags map[string]json.RawMessage) []string {
	var doomed []string
	for key := range tags {
		if matchAny(s.cfg.Ignore, key) || !matchAny(s.cfg.Remove, key) {
			continue
		}
		doomed = append(doomed, key)
	}
	sort.Strings(doomed)
	return doomed
}

// rewriteCopy runs exiftool on a sibling copy of filePath and returns the
// copy's path. The original is never written, so a failed or interrupted run
// leaves nothing half-written behind.
func (s *Sanitizer) rewriteCopy(ctx context.Context, filePath string, tags []string) (string, error) {
	tmp, err := copySibling(filePath)
	if err != nil {
		return "", err
	}

	args := make([]string, 0, len(tags)+3)
	args = append(args, "-overwrite_original", "-P")
	for _, tag := range tags {
		args = append(args, "-"+tag+"=")
	}
	args = append(args, tmp)

	if _, err := s.runner.Run(ctx, s.cfg.ExiftoolPath, args...); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func copySibling(filePath string) (string, error) {
	src, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open original: %w", err)
	}
	defer src.Close()

	// keep the extension: exiftool picks the writer by it
	dst, err := os.CreateTemp(filepath.Dir(filePath), ".sanitize-*"+filepath.Ext(filePath))
	if err != nil {
		return "", fmt.Errorf("create working copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("copy original: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close working copy: %w", err)
	}
	return dst.Name(), nil
}

func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, key); ok {
			return true
		}
	}
	return false
}
