package tibia

import (
	"log/slog"
	"os"
	"path/filepath"
)

// ResolveImage returns the local path of a cached image, identified by the
// deterministic filename derived from its remote URL. Returns "" when the
// image is not cached; callers fall back to a text-only reply.
func ResolveImage(imagesDir, filename string) string {
	if filename == "" || filename == "." {
		return ""
	}
	path := filepath.Join(imagesDir, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		slog.Debug("Image not cached locally", "path", path)
		return ""
	}
	return path
}
