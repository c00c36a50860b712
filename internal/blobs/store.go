// Package blobs stores message attachments on disk, addressed by the
// BLAKE3 hash of their content. References are opaque hex strings;
// identical payloads share one file.
package blobs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/parley-labs/parley-node/internal/utils"
)

var refPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is a content-addressed attachment store rooted at one directory
type Store struct {
	dir    string
	logger *utils.LogsManager
}

// NewStore creates a blob store under the app data directory, using the
// configured blob_dir subdirectory
func NewStore(cm *utils.ConfigManager, logger *utils.LogsManager) (*Store, error) {
	paths := utils.GetAppPaths("")
	dir := filepath.Join(paths.DataDir, cm.GetConfigWithDefault("blob_dir", "blobs"))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %v", err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// Put stores a payload and returns its content hash as the reference.
// Storing the same bytes twice is a no-op returning the same reference.
func (s *Store) Put(name string, data []byte) (string, error) {
	ref := utils.HashBytes(data)
	path := filepath.Join(s.dir, ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %v", err)
	}

	s.logger.Debug(fmt.Sprintf("Stored blob %s (%d bytes, %s)", ref, len(data), name), "blobs")
	return ref, nil
}

// Get reads a payload by reference. The reference is validated before
// touching the filesystem so it can never escape the blob directory.
func (s *Store) Get(ref string) ([]byte, error) {
	if !refPattern.MatchString(ref) {
		return nil, fmt.Errorf("invalid blob reference %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %v", ref, err)
	}
	return data, nil
}
