// Package security guards the files the CLI writes on a user's behalf.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned for paths that resolve outside every
// allowed directory.
var ErrOutsideAllowedDirs = errors.New("path outside allowed directories")

// canonical resolves path to an absolute path with symlinks evaluated. A
// path that does not exist yet is resolved through its nearest existing
// ancestor, so a symlinked parent cannot smuggle it elsewhere.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	existing, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// WithinDirectory reports an error unless path resolves inside dir.
func WithinDirectory(path, dir string) error {
	target, err := canonical(path)
	if err != nil {
		return err
	}
	root, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrOutsideAllowedDirs, path, dir)
	}
	return nil
}

// WithinAnyDirectory accepts path if it resolves inside one of dirs.
func WithinAnyDirectory(path string, dirs []string) error {
	for _, dir := range dirs {
		if WithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not under any of %v", ErrOutsideAllowedDirs, path, dirs)
}

// ExportDirs returns the directories exports may be written to: the system
// temp directory and the working directory.
func ExportDirs() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return []string{os.TempDir(), cwd}, nil
}

// SanitizeFilename reduces s to ASCII letters, digits, dot, underscore and
// dash. Runs of other characters become a single underscore and the result
// is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		case !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ExportPath returns the JSON export file for an event inside dir, after
// checking that dir lies within allowed.
func ExportPath(dir, eventID string, allowed []string) (string, error) {
	if err := WithinAnyDirectory(dir, allowed); err != nil {
		return "", err
	}
	return filepath.Join(dir, SanitizeFilename(eventID)+".json"), nil
}
