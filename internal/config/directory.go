package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrDirectoryMissing means the shared directory does not exist.
	ErrDirectoryMissing = errors.New("directory does not exist")
	// ErrNotDirectory means the shared path exists but is not a directory.
	ErrNotDirectory = errors.New("directory path does not point to a directory")
	// ErrParentDirectory means the shared directory contains the program's own
	// directory and sharing it was not explicitly allowed.
	ErrParentDirectory = errors.New("directory is shallower than the executable; use --allow-parent-directories to allow it")
)

// CheckDirectory resolves dir to an absolute path and verifies it can be
// shared. Unless allowParent is set, a strict ancestor of exeDir is refused.
// An empty exeDir skips the ancestor check.
func CheckDirectory(dir string, allowParent bool, exeDir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}

	if !allowParent && exeDir != "" && IsStrictAncestor(abs, exeDir) {
		return "", fmt.Errorf("%s: %w", abs, ErrParentDirectory)
	}

	fi, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", abs, ErrDirectoryMissing)
		}
		return "", fmt.Errorf("%s: %w: %v", abs, ErrDirectoryMissing, err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}
	return abs, nil
}

// IsStrictAncestor reports whether dir contains child and is not child
// itself. Both paths are cleaned and made absolute first.
func IsStrictAncestor(dir, child string) bool {
	d, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	c, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d, c)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ExecutableDir returns the directory holding the running binary with
// symlinks resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}
