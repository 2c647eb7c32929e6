package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirUploader writes archives below a local directory. It is used when no
// bucket is configured.
type DirUploader struct {
	root string
}

// NewDirUploader creates an uploader rooted at dir.
func NewDirUploader(dir string) *DirUploader {
	return &DirUploader{root: dir}
}

// Upload implements Uploader. The file is written to a temporary name and
// renamed, so a reader never sees a partial archive.
func (u *DirUploader) Upload(_ context.Context, key string, body []byte, _ string) error {
	path := filepath.Join(u.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("failed to write archive %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize archive %s: %w", key, err)
	}
	return nil
}
