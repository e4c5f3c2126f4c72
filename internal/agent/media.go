package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/momhq/mom/internal/convo"
	"github.com/momhq/mom/internal/providers"
)

// LoadImages reads local attachment files and returns base64-encoded
// convo.ImageContent for every one recognized as an image, suitable for
// Trigger.Images. Exported so the Supervisor can build a trigger's images
// from a message's downloaded attachment paths without reaching into this
// package's internals.
func LoadImages(paths []string) []convo.ImageContent {
	provImages := loadImages(paths)
	if len(provImages) == 0 {
		return nil
	}
	out := make([]convo.ImageContent, len(provImages))
	for i, img := range provImages {
		out[i] = convo.ImageContent{MimeType: img.MimeType, Data: img.Data}
	}
	return out
}

// maxImageBytes bounds how large an attachment this loads inline as a
// vision image; larger files are left as plain attachment paths instead.
const maxImageBytes = 10 * 1024 * 1024

// loadImages reads local attachment files and returns base64-encoded
// ImageContent for every one recognized as an image, in the teacher's
// skip-and-warn style (a bad attachment shouldn't fail the whole turn).
func loadImages(paths []string) []providers.ImageContent {
	if len(paths) == 0 {
		return nil
	}

	var images []providers.ImageContent
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("agent: failed to read attachment image", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("agent: attachment image too large, skipping", "path", p, "size", len(data))
			continue
		}

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

// inferImageMime returns the MIME type for supported image extensions, or
// "" if the extension isn't a recognized image type.
func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
