package avatar

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// Store keeps downloaded avatars in a local directory, named after the last
// path segment of the URL they were downloaded from.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store writing into it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory of the store.
func (s *Store) Dir() string { return s.dir }

// Save writes data under the file name taken from rawURL and returns its
// path. The file appears in one piece or not at all.
func (s *Store) Save(rawURL string, data []byte) (string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}

	dst := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move avatar into place: %w", err)
	}
	return dst, nil
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("download url %q has no file name", rawURL)
	}
	return name, nil
}
