package blobstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
)

// Store persists whole byte sequences under a name.
// Implementations must be safe for concurrent use with distinct names.
type Store interface {
	// Put writes data under name. Either the complete object becomes readable
	// or an error is returned and nothing is readable under name.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the bytes stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes name. A missing name reports ErrNotFound.
	Delete(ctx context.Context, name string) error
}

var (
	// ErrNotFound is returned when no object exists under the name
	ErrNotFound = errors.New("blob not found")

	// ErrQuotaExceeded is returned when the backend refuses the write for capacity reasons
	ErrQuotaExceeded = errors.New("blob store quota exceeded")

	// ErrInvalidName is returned for names that could escape the store's namespace
	ErrInvalidName = errors.New("invalid blob name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,254}$`)

// ValidateName rejects names containing separators, traversal segments or a leading dot.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// DeleteIfExists deletes name and treats ErrNotFound as success.
// Cleanup paths use it so that a repeated delete is not reported as a failure.
func DeleteIfExists(ctx context.Context, store Store, name string) error {
	err := store.Delete(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ContentType guesses a blob's media type from its extension
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
