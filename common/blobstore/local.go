package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/lyzr/assetingest/common/logger"
)

// LocalStore keeps blobs as files in a single directory
type LocalStore struct {
	root string
	log  *logger.Logger
}

// NewLocalStore creates the root directory if needed and returns a store rooted there
func NewLocalStore(root string, log *logger.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local blob store requires a root directory")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve blob root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", classify(err))
	}

	log.Info("local blob store ready", "root", abs)

	return &LocalStore{root: abs, log: log}, nil
}

// Root returns the absolute directory blobs are written to
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes data to a temp file next to the target, syncs it and renames it into place
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Recreated on every write so an operator wiping the directory does not break uploads
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create blob root: %w", classify(err))
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, classify(err))
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, classify(err))
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", name, classify(err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, classify(err))
	}

	// A cancelled caller must not see its object appear after the fact
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, classify(err))
	}
	committed = true

	s.log.Debug("blob stored", "name", name, "size_bytes", len(data))
	return nil
}

// Get reads the whole blob
func (s *LocalStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the blob file
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove %s: %w", name, err)
	}

	s.log.Debug("blob deleted", "name", name)
	return nil
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, name)
}

// classify maps out-of-space conditions onto ErrQuotaExceeded and keeps the cause
func classify(err error) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
