// Package security guards the paths the CLI writes to and the names it
// derives from user input.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned when a path resolves outside every
// allowed directory.
var ErrOutsideDirectory = errors.New("path escapes allowed directory")

// WithinDir reports an error unless path resolves inside dir. Symlinks are
// resolved on the longest existing prefix of path, so a link inside dir
// that points elsewhere is caught even when the target file does not exist
// yet.
func WithinDir(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(realDir, canonical(absPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutsideDirectory, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s not under %s", ErrOutsideDirectory, path, dir)
	}
	return nil
}

// canonical resolves symlinks in the deepest existing ancestor of p and
// re-appends the missing tail.
func canonical(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	for cur := p; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		if real, err := filepath.EvalSymlinks(parent); err == nil {
			tail, _ := filepath.Rel(parent, p)
			return filepath.Join(real, tail)
		}
		cur = parent
	}
}

// ValidateOutputPath accepts path when it lies inside one of allowed. With
// no directories given, the working directory and the temp directory are
// allowed.
func ValidateOutputPath(path string, allowed ...string) error {
	if len(allowed) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		allowed = []string{cwd, os.TempDir()}
	}
	for _, dir := range allowed {
		if WithinDir(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be within one of %v", ErrOutsideDirectory, path, allowed)
}

// SanitizeFilename maps s to a portable file name: runs of characters other
// than ASCII letters, digits, '.', '_' and '-' become one underscore, the
// result is capped at 128 bytes and stripped of leading and trailing dots
// and underscores. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	pendingUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok {
			if !pendingUnderscore {
				b.WriteByte('_')
				pendingUnderscore = true
			}
			continue
		}
		b.WriteRune(r)
		pendingUnderscore = false
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
