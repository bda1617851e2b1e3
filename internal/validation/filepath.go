package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilePathValidator checks paths the tool writes to: the cache database, the
// page archive and files produced by `archive export`.
type FilePathValidator struct {
	// AllowedBaseDirs restricts writes to these directories; empty allows any.
	AllowedBaseDirs []string
	// MaxPathLength is the maximum allowed path length
	MaxPathLength int
}

// NewFilePathValidator limits writes to the fitlist data and config
// directories, the temp dir and any extra bases given.
func NewFilePathValidator(extraBases ...string) *FilePathValidator {
	homeDir, _ := os.UserHomeDir()
	bases := []string{
		filepath.Join(homeDir, ".fitlist"),
		filepath.Join(homeDir, ".config", "fitlist"),
		os.TempDir(),
	}
	return &FilePathValidator{
		AllowedBaseDirs: append(bases, extraBases...),
		MaxPathLength:   4096,
	}
}

// NewPermissiveFilePathValidator accepts any well-formed path.
func NewPermissiveFilePathValidator() *FilePathValidator {
	return &FilePathValidator{MaxPathLength: 4096}
}

// ValidateAndSanitize expands ~, makes the path absolute and cleans it,
// rejecting control characters, traversal and paths outside the allowed bases.
func (v *FilePathValidator) ValidateAndSanitize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(path) > v.MaxPathLength {
		return "", fmt.Errorf("path too long (max %d characters)", v.MaxPathLength)
	}
	for _, r := range path {
		if r == 0 {
			return "", fmt.Errorf("path contains null bytes")
		}
		if r < 32 && r != '\t' {
			return "", fmt.Errorf("path contains control characters")
		}
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", fmt.Errorf("directory traversal not allowed")
		}
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	} else if strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("invalid tilde usage in %q", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %w", err)
	}
	abs = filepath.Clean(abs)

	if err := v.withinBases(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (v *FilePathValidator) withinBases(abs string) error {
	if len(v.AllowedBaseDirs) == 0 {
		return nil
	}
	for _, base := range v.AllowedBaseDirs {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBase, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("path not within allowed directories: %v", v.AllowedBaseDirs)
}

// ValidateFile validates a file destination; an existing directory at the
// path is an error.
func (v *FilePathValidator) ValidateFile(path string) (string, error) {
	validated, err := v.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(validated); err == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", validated)
	}
	return validated, nil
}

// EnsureParentDir validates path and creates its parent directory.
func (v *FilePathValidator) EnsureParentDir(path string) (string, error) {
	validated, err := v.ValidateFile(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(validated)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return "", fmt.Errorf("failed to create directory: %w", mkErr)
		}
	case err != nil:
		return "", fmt.Errorf("checking directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("parent exists but is not a directory: %s", dir)
	}
	return validated, nil
}
