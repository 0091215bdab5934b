// Package local_test tests the local save directory.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webannotate/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "exports", "pdf")
		_, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	t.Run("WritesFile", func(t *testing.T) {
		data := []byte("%PDF-1.7 fake")
		uri, err := store.PutObject(context.Background(), "annotated.pdf", "application/pdf", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "annotated.pdf"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "annotated.pdf"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
		_, err = os.Stat(filepath.Join(dir, "annotated.pdf.part"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "application/pdf", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.pdf", "application/pdf", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("FailedWriteLeavesNothing", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "broken.pdf", "application/pdf", failingReader{})
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "broken.pdf"))
		assert.True(t, os.IsNotExist(statErr))
		_, statErr = os.Stat(filepath.Join(dir, "broken.pdf.part"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.PutObject(ctx, "cancelled.pdf", "application/pdf", bytes.NewReader([]byte("data")))
		require.ErrorIs(t, err, context.Canceled)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}
