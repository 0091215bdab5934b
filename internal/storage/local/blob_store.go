// Package local saves delivered exports into a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local save directory.
type Config struct {
	// Dir is where saved exports are written.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	dir string
}

// New creates the directory when needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("save directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create save directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat save directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("save path %q is not a directory", cfg.Dir)
	}

	probe, err := os.CreateTemp(cfg.Dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("save directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}

	return &BlobStore{dir: cfg.Dir}, nil
}

// PutObject streams data into name under the save directory and returns a
// file:// URI. The content lands in a .part file first and is renamed into
// place, so a failed save never leaves a truncated artifact behind.
func (s *BlobStore) PutObject(ctx context.Context, name string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("file name is required")
	}

	fullPath := filepath.Join(s.dir, name)
	cleanDir := filepath.Clean(s.dir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the save directory", name)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	partPath := fullPath + ".part"
	// #nosec G304 -- path is confined to the save directory above.
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", partPath, err)
	}
	cleanup := func() { _ = os.Remove(partPath) }

	if _, err := io.Copy(f, readerWithContext(ctx, data)); err != nil {
		_ = f.Close()
		cleanup()
		return "", fmt.Errorf("write %s: %w", partPath, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close %s: %w", partPath, err)
	}
	if err := os.Rename(partPath, fullPath); err != nil {
		cleanup()
		return "", fmt.Errorf("rename %s: %w", partPath, err)
	}
	return "file://" + fullPath, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
