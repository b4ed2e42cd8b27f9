package sarifx

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ResolveWithin resolves rel against baseDir and guarantees the result stays
// strictly inside baseDir. Absolute paths and any traversal that escapes the
// base are rejected.
func ResolveWithin(baseDir, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("empty artifact path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("artifact path %q must be relative", rel)
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}
	joined := filepath.Clean(filepath.Join(base, rel))
	relToBase, err := filepath.Rel(base, joined)
	if err != nil || relToBase == ".." || strings.HasPrefix(relToBase, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the task directory", rel)
	}
	return joined, nil
}

// sanitizeToolName keeps tool-derived file names shell- and path-safe.
func sanitizeToolName(tool string) string {
	tool = strings.TrimSpace(strings.ToLower(tool))
	if tool == "" {
		return "tool"
	}
	var b strings.Builder
	for _, r := range tool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
