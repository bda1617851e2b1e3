package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFilePathValidator(t *testing.T) {
	v := NewFilePathValidator("/srv/exports")
	if v.MaxPathLength != 4096 {
		t.Errorf("Expected MaxPathLength to be 4096, got %d", v.MaxPathLength)
	}
	if len(v.AllowedBaseDirs) != 4 {
		t.Fatalf("Expected 3 default bases plus 1 extra, got %v", v.AllowedBaseDirs)
	}
	if v.AllowedBaseDirs[3] != "/srv/exports" {
		t.Errorf("extra base not appended: %v", v.AllowedBaseDirs)
	}
}

func TestValidateAndSanitize(t *testing.T) {
	base := t.TempDir()
	v := &FilePathValidator{AllowedBaseDirs: []string{base}, MaxPathLength: 4096}

	tests := []struct {
		name        string
		input       string
		shouldError bool
		errorMsg    string
	}{
		{name: "empty path", input: "", shouldError: true, errorMsg: "path cannot be empty"},
		{name: "too long", input: strings.Repeat("a", 5000), shouldError: true, errorMsg: "path too long"},
		{name: "null byte", input: base + "/x\x00.html", shouldError: true, errorMsg: "null bytes"},
		{name: "control characters", input: base + "/x\x01.html", shouldError: true, errorMsg: "control characters"},
		{name: "traversal", input: base + "/../etc/passwd", shouldError: true, errorMsg: "directory traversal"},
		{name: "windows traversal", input: base + "\\..\\x", shouldError: true, errorMsg: "directory traversal"},
		{name: "bad tilde", input: "~root/x", shouldError: true, errorMsg: "tilde"},
		{name: "outside bases", input: "/etc/fitlist.html", shouldError: true, errorMsg: "not within allowed"},
		{name: "inside base", input: filepath.Join(base, "pages", "workout.html")},
		{name: "dotdot prefix name is fine", input: filepath.Join(base, "..cache")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndSanitize(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("Expected error for input %q, got %q", tt.input, got)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for input %q: %v", tt.input, err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("expected absolute path, got %q", got)
			}
		})
	}
}

func TestHomeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	v := NewPermissiveFilePathValidator()
	got, err := v.ValidateAndSanitize("~/.fitlist/pages.db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(home, ".fitlist", "pages.db") {
		t.Errorf("got %q", got)
	}
}

func TestValidateFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	v := NewPermissiveFilePathValidator()

	if _, err := v.ValidateFile(dir); err == nil {
		t.Fatal("expected an error for a directory")
	}
}

func TestEnsureParentDir(t *testing.T) {
	base := t.TempDir()
	v := &FilePathValidator{AllowedBaseDirs: []string{base}, MaxPathLength: 4096}

	target := filepath.Join(base, "exports", "2025", "workout.html")
	got, err := v.EnsureParentDir(target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != target {
		t.Errorf("got %q, want %q", got, target)
	}
	if info, err := os.Stat(filepath.Dir(target)); err != nil || !info.IsDir() {
		t.Fatalf("parent directory was not created: %v", err)
	}

	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := v.EnsureParentDir(filepath.Join(blocker, "child.html")); err == nil {
		t.Fatal("expected an error when the parent is a regular file")
	}
}
