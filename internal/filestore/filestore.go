// Package filestore provides digest-addressed storage for captured file
// content. Identical bytes always land in the same location exactly once.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store writes captured bytes to disk under their SHA-256 digest.
type Store struct {
	baseDir string
}

// New creates a content store rooted at baseDir, creating it if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create filestore directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Store saves content and returns its hex-encoded SHA-256 digest. Content
// already present is not rewritten; the check-then-write race is benign
// since both writers produce identical bytes at the same destination.
func (s *Store) Store(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	path := s.PathFor(digest)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}

	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("write captured file: %w", err)
	}
	slog.Info("Stored captured file", "sha256", digest, "size", len(content))
	return digest, nil
}

// Exists reports whether content with the given digest is already stored.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.PathFor(digest))
	return err == nil
}

// PathFor returns the on-disk location for a digest.
func (s *Store) PathFor(digest string) string {
	return filepath.Join(s.baseDir, digest)
}
