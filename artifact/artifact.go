// Package artifact stores the files derived from an uploaded document: the
// original PDF, low-res thumbnails and high-res page images. Files are named
// by document identifier and page index and live under one root per class.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Class selects the storage root an artifact belongs to.
type Class string

const (
	Original  Class = "originals"
	Thumbnail Class = "thumbnails"
	HighRes   Class = "high_res"
)

// Classes lists every artifact class in a stable order.
var Classes = []Class{Original, Thumbnail, HighRes}

// ErrMissing is returned by Load when the named artifact does not exist.
var ErrMissing = errors.New("artifact missing")

// OriginalName is the file name of a document's source PDF.
func OriginalName(docID string) string {
	return docID + ".pdf"
}

// ThumbnailName is the file name of a page's low-res image.
func ThumbnailName(docID string, page int) string {
	return fmt.Sprintf("%s_thumb_%d.jpg", docID, page)
}

// HighResName is the file name of a page's high-res image.
func HighResName(docID string, page int) string {
	return fmt.Sprintf("%s_highres_%d.jpg", docID, page)
}

// FS is a filesystem-backed artifact store.
type FS struct {
	root string
}

// NewFS creates the class directories under root and returns a store rooted there.
func NewFS(root string) (*FS, error) {
	for _, c := range Classes {
		if err := os.MkdirAll(filepath.Join(root, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", c, err)
		}
	}
	return &FS{root: root}, nil
}

// Root returns the directory holding all class directories.
func (f *FS) Root() string {
	return f.root
}

// Dir returns the directory of a class.
func (f *FS) Dir(c Class) string {
	return filepath.Join(f.root, string(c))
}

func (f *FS) path(c Class, name string) (string, error) {
	switch c {
	case Original, Thumbnail, HighRes:
	default:
		return "", fmt.Errorf("unknown artifact class %q", c)
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(f.root, string(c), name), nil
}

// Store writes data under name. The bytes go to a temp file in the same
// directory first and are renamed into place, so readers never observe a
// partially written image.
func (f *FS) Store(c Class, name string, data []byte) error {
	dst, err := f.path(c, name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		cleanup()
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		cleanup()
		return fmt.Errorf("store %s/%s: %w", c, name, err)
	}
	return nil
}

// Load reads an artifact. A missing file yields an error wrapping ErrMissing.
func (f *FS) Load(c Class, name string) ([]byte, error) {
	p, err := f.path(c, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMissing, c, name)
		}
		return nil, fmt.Errorf("load %s/%s: %w", c, name, err)
	}
	return data, nil
}

// Remove deletes an artifact. Removing a missing artifact is not an error.
func (f *FS) Remove(c Class, name string) error {
	p, err := f.path(c, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s/%s: %w", c, name, err)
	}
	return nil
}
