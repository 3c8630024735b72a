package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend provides atomic file-based document storage with secure permissions.
// Writes use temp file + rename for crash safety.
type FileBackend struct {
	filePath string
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend for the given path. The parent directory
// is created lazily on the first Write.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	return &FileBackend{
		filePath: filePath,
	}, nil
}

// Path returns the location of the backing file.
func (f *FileBackend) Path() string {
	return f.filePath
}

// Read returns the stored document. Returns ErrNotFound if the file doesn't
// exist and an error if it is empty or writable by group or others.
// Files readable by others, as left by earlier releases, are tightened to
// 0600 and read.
func (f *FileBackend) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", f.filePath, ErrNotFound)
		}
		return nil, err
	}
	perm := info.Mode().Perm()
	if perm&0022 != 0 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (writable by group or others)", f.filePath, perm)
	}
	if perm&0077 != 0 {
		if err := os.Chmod(f.filePath, 0600); err != nil {
			return nil, fmt.Errorf("restricting permissions on %s: %w", f.filePath, err)
		}
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %s", f.filePath)
	}
	return data, nil
}

// Write atomically saves the document using temp file + rename for crash safety.
// Creates the parent directory with 0700 permissions if absent and sets the
// file to 0600 (owner read/write only).
func (f *FileBackend) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return nil
}

// Delete removes the backing file.
func (f *FileBackend) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
