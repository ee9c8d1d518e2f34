package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local stores files below a root directory served at publicURL.
type Local struct {
	root      string
	publicURL string
	tempDir   string
}

// NewLocal creates the root directory if needed.
func NewLocal(root, publicURL, tempDir string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs, publicURL: strings.TrimSuffix(publicURL, "/"), tempDir: tempDir}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

func (l *Local) Place(ctx context.Context, localPath, key string, _ PutOptions) error {
	dst, err := l.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	// stage inside the destination directory so the final rename is atomic
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".place-*")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := copyFileTo(tmp, localPath); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod staging file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	committed = true
	_ = os.Remove(localPath)
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	p, err := l.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (l *Local) FetchToLocal(ctx context.Context, key string) (string, error) {
	p, err := l.pathFromKey(key)
	if err != nil {
		return "", err
	}
	out, err := os.CreateTemp(l.tempDir, "fetch-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("create fetch file: %w", err)
	}
	if err := copyFileTo(out, p); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close fetch file: %w", err)
	}
	return out.Name(), nil
}

func (l *Local) URL(ctx context.Context, key, _ string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	segments := strings.Split(cleaned, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.publicURL + "/" + strings.Join(segments, "/"), nil
}

func (l *Local) pathFromKey(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

func copyFileTo(dst *os.File, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return dst.Sync()
}
