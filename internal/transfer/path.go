package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxFilenameLength = 255

// validateFilename accepts a bare file name only: no separators, no dot
// entries, no NUL bytes.
func validateFilename(filename string) error {
	switch {
	case filename == "", filename == ".", filename == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	case strings.ContainsAny(filename, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	case len(filename) > maxFilenameLength:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidFilename, maxFilenameLength)
	}
	if filepath.VolumeName(filename) != "" {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}

// resolvePath maps an announced filename to an absolute path directly
// inside downloadDir, creating the directory if needed.
func resolvePath(downloadDir, filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	root, err := filepath.Abs(downloadDir)
	if err != nil {
		return "", fmt.Errorf("resolve download dir: %w", err)
	}
	target := filepath.Join(root, filename)

	rel, err := filepath.Rel(root, target)
	if err != nil || rel != filename || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q escapes %s", ErrInvalidFilename, filename, root)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	return target, nil
}
