package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errNoFileSystem = errors.New("no file system configured for this agent")

// FileSystem is the agent's scratch storage for read_file and write_file.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}

// DirFileSystem confines file access to one directory. Paths that resolve
// outside it, directly or through symlinks, are rejected.
type DirFileSystem struct {
	root string
}

// NewDirFileSystem creates the directory if needed and returns a file system
// rooted at it.
func NewDirFileSystem(dir string) (*DirFileSystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("file system directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file system directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file system directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate file system directory symlinks: %w", err)
	}
	return &DirFileSystem{root: root}, nil
}

// Root returns the resolved root directory.
func (fs *DirFileSystem) Root() string { return fs.root }

// ReadFile reads a file relative to the root.
func (fs *DirFileSystem) ReadFile(name string) ([]byte, error) {
	path, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// WriteFile writes a file relative to the root, creating parent directories.
func (fs *DirFileSystem) WriteFile(name string, data []byte) error {
	path, err := fs.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (fs *DirFileSystem) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	clean := filepath.Clean(name)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(fs.root, clean)
	}
	if !fs.within(resolveExisting(clean)) {
		return "", fmt.Errorf("path '%s' is outside the file system root", name)
	}
	return clean, nil
}

func (fs *DirFileSystem) within(path string) bool {
	sep := string(filepath.Separator)
	return path == fs.root || strings.HasPrefix(path+sep, fs.root+sep)
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the missing components.
func resolveExisting(path string) string {
	var missing []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
