package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands a leading tilde to the user's home directory and cleans the path.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		remainder := strings.TrimLeft(strings.TrimPrefix(path, "~"), "/\\")
		if remainder == "" {
			return filepath.Clean(home), nil
		}
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(strings.ReplaceAll(remainder, "\\", "/")))), nil
	}
	return filepath.Clean(path), nil
}

// HideToken obscures a token for display, keeping only the first and last few characters.
func HideToken(token string) string {
	switch n := len(token); {
	case n > 16:
		return token[:6] + "..." + token[n-4:]
	case n > 8:
		return token[:2] + "..." + token[n-2:]
	case n > 0:
		return "***"
	}
	return ""
}
