package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SanitizeName makes s safe for a file name or an EDL comment. An empty
// result falls back to fallback.
func SanitizeName(s string, maxLen int, fallback string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case strings.ContainsRune(" -_.,()", r):
			return r
		default:
			return '_'
		}
	}, s)

	out = strings.TrimSpace(out)
	if maxLen > 0 {
		if runes := []rune(out); len(runes) > maxLen {
			out = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	if out == "" {
		return fallback
	}
	return out
}

// Write stores an EDL named after name in dir, creating dir if needed, and
// returns its path.
func Write(dir, name, edl string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("export directory is not configured")
	}
	if filepath.Base(name) != name || name == ".." {
		return "", fmt.Errorf("invalid export name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, name+".edl")
	if err := os.WriteFile(path, []byte(edl), 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
