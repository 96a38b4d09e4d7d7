package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilePublisher copies artifacts below a local root directory
type FilePublisher struct {
	root string
}

// NewFilePublisher creates a publisher rooted at dir.
func NewFilePublisher(dir string) *FilePublisher {
	return &FilePublisher{root: dir}
}

func (p *FilePublisher) String() string {
	return "file://" + p.root
}

// Publish copies each file, writing through a temp file so a partially
// copied artifact never appears under its final name.
func (p *FilePublisher) Publish(ctx context.Context, lakeKey, runStamp string, paths []string) error {
	for _, src := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(p.root, filepath.FromSlash(ObjectKey("", lakeKey, runStamp, src)))
		if err := copyAtomic(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("opening artifact: %w", err)}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".publish-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
