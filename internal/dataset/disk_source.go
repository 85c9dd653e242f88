package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"respec/internal/safeio"
)

// DiskSource reads dataset documents below a local root directory.
type DiskSource struct {
	root string
}

func NewDiskSource(root string) *DiskSource {
	return &DiskSource{root: strings.TrimSpace(root)}
}

// Read refuses names that resolve outside the root, symlinks included.
func (s *DiskSource) Read(_ context.Context, name string) ([]byte, error) {
	fsys, name, err := s.open(name)
	if err != nil {
		return nil, err
	}
	raw, err := fsys.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return raw, err
}

func (s *DiskSource) Put(_ context.Context, name string, content []byte) error {
	fsys, name, err := s.open(name)
	if err != nil {
		return err
	}
	return fsys.WriteFile(name, content)
}

func (s *DiskSource) List(_ context.Context) ([]string, error) {
	if s == nil || s.root == "" {
		return nil, fmt.Errorf("dataset root is required")
	}
	names := make([]string, 0, 8)
	walkErr := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !documentExt(p) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(names)
	return names, nil
}

func (s *DiskSource) open(name string) (*safeio.SafeFS, string, error) {
	if s == nil || s.root == "" {
		return nil, "", fmt.Errorf("dataset root is required")
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, "", err
	}
	fsys, err := safeio.NewSafeFS(s.root)
	if err != nil {
		return nil, "", err
	}
	return fsys, name, nil
}
