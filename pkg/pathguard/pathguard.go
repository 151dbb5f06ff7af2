// Package pathguard validates filesystem paths derived from untrusted
// input (archive entries, user-supplied names) before they touch disk.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathBlocked     = errors.New("path escapes allowed directory")
	ErrInvalidFilename = errors.New("invalid filename")
)

const maxFilenameLength = 255

// SanitizeFilename strips null bytes, rejects hidden-file and option-flag
// tricks, and truncates overlong names while keeping the extension.
func SanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidFilename
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "-") {
		return "", ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\") {
		return "", ErrInvalidFilename
	}

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	return name, nil
}

// ResolveWithin resolves a candidate relative path against a base directory
// and guarantees the canonical result stays inside it. The prefix check is
// qualified with a trailing separator so that a sibling directory such as
// "uploads2" can never satisfy a base of "uploads".
func ResolveWithin(base, candidate string) (string, error) {
	candidate = strings.ReplaceAll(candidate, "\x00", "")
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", ErrInvalidFilename
	}

	baseAbs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	cleaned := filepath.Clean(filepath.FromSlash(candidate))
	if filepath.IsAbs(cleaned) {
		return "", ErrPathBlocked
	}

	for _, segment := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if segment == ".." {
			return "", ErrPathBlocked
		}
	}

	target, err := filepath.Abs(filepath.Join(baseAbs, cleaned))
	if err != nil {
		return "", fmt.Errorf("failed to resolve target path: %w", err)
	}

	if target != baseAbs && !strings.HasPrefix(target, baseAbs+string(filepath.Separator)) {
		return "", ErrPathBlocked
	}

	return target, nil
}

// SafeJoin sanitizes the final path element and resolves the whole
// candidate within base.
func SafeJoin(base, candidate string) (string, error) {
	dir, file := filepath.Split(filepath.FromSlash(candidate))

	name, err := SanitizeFilename(file)
	if err != nil {
		return "", err
	}

	return ResolveWithin(base, filepath.Join(dir, name))
}
