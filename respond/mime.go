package respond

import "strings"

// MimeTable maps a file extension (with its leading dot) to the headers
// sent for files of that type.
type MimeTable map[string]map[string]string

// FallbackExt is used for extensions the table does not know.
const FallbackExt = ".txt"

// DefaultMime is the table used when a Responder is not given its own.
var DefaultMime = MimeTable{
	".txt":   {"Content-Type": "text/plain; charset=utf-8"},
	".html":  {"Content-Type": "text/html; charset=utf-8"},
	".htm":   {"Content-Type": "text/html; charset=utf-8"},
	".css":   {"Content-Type": "text/css; charset=utf-8"},
	".js":    {"Content-Type": "text/javascript; charset=utf-8"},
	".mjs":   {"Content-Type": "text/javascript; charset=utf-8"},
	".json":  {"Content-Type": "application/json"},
	".xml":   {"Content-Type": "application/xml"},
	".csv":   {"Content-Type": "text/csv; charset=utf-8"},
	".md":    {"Content-Type": "text/markdown; charset=utf-8"},
	".png":   {"Content-Type": "image/png"},
	".jpg":   {"Content-Type": "image/jpeg"},
	".jpeg":  {"Content-Type": "image/jpeg"},
	".gif":   {"Content-Type": "image/gif"},
	".webp":  {"Content-Type": "image/webp"},
	".svg":   {"Content-Type": "image/svg+xml"},
	".ico":   {"Content-Type": "image/x-icon"},
	".tif":   {"Content-Type": "image/tiff"},
	".tiff":  {"Content-Type": "image/tiff"},
	".pnm":   {"Content-Type": "image/x-portable-anymap"},
	".pdf":   {"Content-Type": "application/pdf"},
	".zip":   {"Content-Type": "application/zip"},
	".gz":    {"Content-Type": "application/gzip"},
	".wasm":  {"Content-Type": "application/wasm"},
	".mp4":   {"Content-Type": "video/mp4"},
	".woff":  {"Content-Type": "font/woff"},
	".woff2": {"Content-Type": "font/woff2"},
}

// Lookup returns the headers for ext. The leading dot is optional and the
// match is case-insensitive. Unknown extensions get the FallbackExt entry.
func (t MimeTable) Lookup(ext string) map[string]string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if h, ok := t[ext]; ok {
		return h
	}
	return t[FallbackExt]
}
