package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var ErrOutsideRoot = errors.New("safeio: path resolves outside root")

// SafeFS resolves document paths against a fixed root. Symlinks are followed
// and anything that lands outside the root is refused.
type SafeFS struct {
	absRoot string // absolute root with symlinks resolved
}

// NewSafeFS binds to root. A root that does not exist yet is not an error;
// reads below it fail with fs.ErrNotExist.
func NewSafeFS(root string) (*SafeFS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("safeio: root is not a directory: %s", abs)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return &SafeFS{absRoot: abs}, nil
}

func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// ReadFile reads a regular file given relative to the root.
func (s *SafeFS) ReadFile(rel string) ([]byte, error) {
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is a directory", rel)
	}
	return os.ReadFile(p)
}

// WriteFile writes below the root, creating parent directories. The parent
// must not escape the root through a symlink.
func (s *SafeFS) WriteFile(rel string, data []byte) error {
	p, err := s.join(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if !s.within(resolved) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return os.WriteFile(filepath.Join(resolved, filepath.Base(p)), data, 0o644)
}

func (s *SafeFS) join(rel string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(rel)))
	if clean == "." || clean == "" {
		return "", errors.New("safeio: empty path")
	}
	if filepath.IsAbs(clean) || (runtime.GOOS == "windows" && filepath.VolumeName(clean) != "") {
		return "", fmt.Errorf("safeio: absolute path not allowed: %s", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return filepath.Join(s.absRoot, clean), nil
}

func (s *SafeFS) resolve(rel string) (string, error) {
	joined, err := s.join(rel)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !s.within(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return resolved, nil
}

func (s *SafeFS) within(path string) bool {
	path = filepath.Clean(path)
	root := filepath.Clean(s.absRoot)
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
