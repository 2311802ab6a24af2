package storage

import (
	"mime"

	"github.com/lithammer/shortuuid/v4"
)

// Extensions for MIME types common on the web. mime.ExtensionsByType
// consults the host's mime.types for several of these (image/jpeg in
// particular), so the table keeps generated filenames stable across
// machines.
var extByMime = map[string]string{
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"image/avif":             ".avif",
	"image/svg+xml":          ".svg",
	"image/x-icon":           ".ico",
	"text/plain":             ".txt",
	"text/html":              ".html",
	"text/css":               ".css",
	"text/csv":               ".csv",
	"application/json":       ".json",
	"application/pdf":        ".pdf",
	"application/zip":        ".zip",
	"application/gzip":       ".gz",
	"application/javascript": ".js",
	"audio/mpeg":             ".mp3",
	"audio/ogg":              ".ogg",
	"video/mp4":              ".mp4",
	"video/webm":             ".webm",
	"font/woff2":             ".woff2",
}

// resolveUpload maps a declared MIME type to a filesystem-safe extension
// and a generated, collision-resistant filename carrying that extension.
// Client-supplied names are never used, which rules out both collisions
// and path traversal.
func resolveUpload(declaredMime string) (string, string) {
	mt := declaredMime
	if parsed, _, err := mime.ParseMediaType(declaredMime); err == nil {
		mt = parsed
	}
	ext, ok := extByMime[mt]
	if !ok {
		if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
			ext = exts[0]
		} else {
			ext = ".bin"
		}
	}
	return ext, shortuuid.New() + ext
}
