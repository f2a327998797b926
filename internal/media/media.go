// Package media maps platform file references to MIME types.
package media

import (
	"path"
	"strings"
)

// Kind is the attachment category reported on inbound events.
type Kind string

const (
	KindImage     Kind = "image"
	KindDocument  Kind = "document"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindAnimation Kind = "animation"
)

// extensionToMIME maps file extensions to MIME types.
var extensionToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",

	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",

	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",

	".pdf":  "application/pdf",
	".json": "application/json",
	".zip":  "application/zip",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".html": "text/html",
}

// defaultMIME is used when neither the file path nor the platform names a type.
var defaultMIME = map[Kind]string{
	KindImage:     "image/jpeg",
	KindVideo:     "video/mp4",
	KindAudio:     "audio/mpeg",
	KindVoice:     "audio/ogg",
	KindAnimation: "video/mp4",
	KindDocument:  "application/octet-stream",
}

// MIMEFromPath returns the MIME type for the extension of p, or "".
func MIMEFromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return extensionToMIME[strings.ToLower(path.Ext(p))]
}

// DefaultMIME returns the fallback MIME type for a media kind.
func DefaultMIME(kind Kind) string {
	if m, ok := defaultMIME[kind]; ok {
		return m
	}
	return "application/octet-stream"
}

// Resolve picks a MIME type: the file path extension first, then the type
// the platform declared, then the kind default.
func Resolve(filePath, declared string, kind Kind) string {
	if m := MIMEFromPath(filePath); m != "" {
		return m
	}
	if m := normalize(declared); m != "" {
		return m
	}
	return DefaultMIME(kind)
}

// ExtensionFor returns a file extension for a MIME type, used to name
// attachments the platform sent without a file name.
func ExtensionFor(mime string) string {
	mime = normalize(mime)
	best := ""
	for ext, m := range extensionToMIME {
		if m == mime && (best == "" || len(ext) < len(best) || (len(ext) == len(best) && ext < best)) {
			best = ext
		}
	}
	return best
}

func normalize(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
