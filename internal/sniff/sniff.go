// Package sniff identifies the content type of uploaded files from their bytes,
// falling back to the declared file name only when the bytes are inconclusive.
package sniff

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Octet is the generic content type returned when nothing better is known.
const Octet = "application/octet-stream"

// Media types assigned to attachments.
const (
	Image   = "image"
	Audio   = "audio"
	Video   = "video"
	General = "general"
)

var typeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",
	"heic": "image/heic",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
	"opus": "audio/ogg",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"zip":  "application/zip",
}

var extByType = map[string]string{
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"image/bmp":        "bmp",
	"image/tiff":       "tiff",
	"image/svg+xml":    "svg",
	"image/heic":       "heic",
	"audio/mpeg":       "mp3",
	"audio/mp4":        "m4a",
	"audio/x-m4a":      "m4a",
	"audio/aac":        "aac",
	"audio/ogg":        "ogg",
	"audio/flac":       "flac",
	"audio/x-flac":     "flac",
	"audio/wav":        "wav",
	"audio/x-wav":      "wav",
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/x-matroska": "mkv",
	"video/x-msvideo":  "avi",
	"application/pdf":  "pdf",
	"text/plain":       "txt",
	"application/zip":  "zip",
}

// raster formats the derivative generator can decode.
var imageTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/bmp":     true,
	"image/tiff":    true,
	"image/svg+xml": true,
}

// Detect returns the content type of the file at path. It never fails: an
// unreadable or empty file is typed from declaredName, then as Octet.
func Detect(path, declaredName string) string {
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if mt, err := mimetype.DetectFile(path); err == nil {
			if t := bare(mt.String()); t != Octet {
				return t
			}
		}
		if legacyID3(path) {
			return "audio/mpeg"
		}
	}
	if t := TypeByExtension(filepath.Ext(declaredName)); t != "" {
		return t
	}
	return Octet
}

// legacyID3 reports whether the net/http sniffer, which still recognizes
// bare ID3 containers, types the file as audio/mpeg. Any other verdict of
// that sniffer is ignored.
func legacyID3(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	return bare(http.DetectContentType(head[:n])) == "audio/mpeg"
}

// TypeByExtension maps a file extension (with or without the dot) to a
// content type, or "" when unknown.
func TypeByExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return ""
	}
	if t, ok := typeByExt[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return bare(t)
	}
	return ""
}

// Extension returns the storage extension for mimeType. Unrecognized types
// keep the declared name's extension when it is a short alphanumeric token.
func Extension(mimeType, declaredName string) string {
	if ext, ok := extByType[bare(mimeType)]; ok {
		return ext
	}
	return SafeExtension(declaredName)
}

// SafeExtension returns the lowercased extension of name, or "" when it is
// empty, too long or not alphanumeric.
func SafeExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// MediaTypeOf classifies a content type into one of the attachment media types.
func MediaTypeOf(mimeType string) string {
	t := bare(mimeType)
	switch {
	case imageTypes[t]:
		return Image
	case strings.HasPrefix(t, "audio/"):
		return Audio
	case strings.HasPrefix(t, "video/"):
		return Video
	default:
		return General
	}
}

func bare(t string) string {
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(t))
}
