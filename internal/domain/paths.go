package domain

import (
	"path"
	"strings"
)

var mimeExtensions = map[string]string{
	"image/jpeg":                    ".jpg",
	"image/png":                     ".png",
	"image/gif":                     ".gif",
	"image/webp":                    ".webp",
	"image/avif":                    ".avif",
	"image/bmp":                     ".bmp",
	"image/apng":                    ".apng",
	"video/mp4":                     ".mp4",
	"video/webm":                    ".webm",
	"video/x-matroska":              ".mkv",
	"video/quicktime":               ".mov",
	"audio/mpeg":                    ".mp3",
	"audio/ogg":                     ".ogg",
	"audio/flac":                    ".flac",
	"application/x-shockwave-flash": ".swf",
}

// ExtensionForMime returns the file extension for a mime type, or "" when unknown.
func ExtensionForMime(mime string) string {
	return mimeExtensions[strings.ToLower(strings.TrimSpace(mime))]
}

// ShardedPaths derives the logical file and thumbnail paths for a content
// hash. Both are sharded by the first two characters of the hash.
func ShardedPaths(hash, mime string) (filePath, thumbnailPath string) {
	hash = strings.ToLower(hash)
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	filePath = path.Join("f"+prefix, hash+ExtensionForMime(mime))
	thumbnailPath = path.Join("t"+prefix, hash+".thumbnail")
	return filePath, thumbnailPath
}
