package attachment

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/abduss/gomedia/internal/media"
	"golang.org/x/crypto/blake2b"
)

const placeholderContent = "This file is still being processed.\n"

// stage moves the upload into the shared directory where the finalize
// worker can read it.
func (s *Service) stage(uploadPath string, a Attachment) (string, error) {
	if err := os.MkdirAll(s.cfg.SharedDir, 0o750); err != nil {
		return "", fmt.Errorf("create shared dir: %w", err)
	}
	name := "staged-" + a.ID.String()
	if a.FileExtension != "" {
		name += "." + a.FileExtension
	}
	dst := filepath.Join(s.cfg.SharedDir, name)
	if err := moveFile(uploadPath, dst); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return dst, nil
}

func (s *Service) writePlaceholder() (string, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "placeholder-*")
	if err != nil {
		return "", fmt.Errorf("create placeholder: %w", err)
	}
	_, werr := f.WriteString(placeholderContent)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write placeholder: %w", err)
	}
	return f.Name(), nil
}

// detachOriginal swaps the staged file out of files for a private copy, so
// the staged file survives a failed attempt and the job can be retried.
func (s *Service) detachOriginal(files map[string]string, staged string) (map[string]string, func(), error) {
	out := make(map[string]string, len(files))
	for k, v := range files {
		out[k] = v
	}
	if out[media.Original] != staged {
		return out, func() {}, nil
	}
	tmp, err := copyToTemp(s.cfg.TempDir, staged, "finalize-*"+filepath.Ext(staged))
	if err != nil {
		return nil, nil, err
	}
	out[media.Original] = tmp
	return out, func() { _ = removeIfExists(tmp) }, nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// cross-device: copy then drop the source
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func copyToTemp(dir, src, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp copy: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := copyFile(src, name); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return name, nil
}

func removeIfExists(p string) error {
	if p == "" {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// fileChecksum returns the hex BLAKE2b-256 digest of the file.
func fileChecksum(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
