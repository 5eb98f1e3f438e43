// SPDX-License-Identifier: MIT

// Package fsutil confines filesystem access to the storycast data root.
// Session identifiers and segment names arrive from HTTP clients, so every
// path built from them must be proven to stay under the configured root.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfineRelPath joins root and rel and verifies the result stays physically
// underneath root after symlink resolution. rel must be relative and must not
// contain backslashes.
func ConfineRelPath(root, rel string) (string, error) {
	if strings.Contains(rel, "\\") {
		return "", fmt.Errorf("path contains backslash: %s", rel)
	}

	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("target path must be relative: %s", rel)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt: %s", rel)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}
	return checkWithin(realRoot, filepath.Join(realRoot, clean))
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return abs, nil
	}
	return real, nil
}

// checkWithin resolves symlinks in candidate and fails closed unless the
// resolved path is under realRoot.
func checkWithin(realRoot, candidate string) (string, error) {
	var resolved string
	if _, err := os.Lstat(candidate); err == nil {
		rp, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		resolved = rp
	} else {
		// Not created yet. Resolve the parent so a symlinked directory
		// cannot smuggle the file outside the root.
		dir := filepath.Dir(candidate)
		if rp, err := filepath.EvalSymlinks(dir); err == nil {
			resolved = filepath.Join(rp, filepath.Base(candidate))
		} else if _, statErr := os.Stat(dir); statErr == nil {
			return "", fmt.Errorf("failed to resolve parent path: %w", err)
		} else {
			resolved = candidate
		}
	}

	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", resolved)
	}
	return resolved, nil
}

// IsRegularFile returns an error unless path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}

// EnsureDir creates dir (and parents) with 0o755 if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
