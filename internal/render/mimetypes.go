package render

import (
	"fmt"
	"path/filepath"
	"strings"
)

// defaultMimeTypes is the built-in extension table. Anything not listed is
// served as DefaultMimeType.
var defaultMimeTypes = map[string]string{
	".html": "text/html",
	".bmp":  "image/bmp",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".js":   "text/javascript",
	".css":  "text/css",
	".txt":  "text/plain",
}

const (
	// DefaultMimeType is used for unknown and missing extensions.
	DefaultMimeType = "text/plain"
	// ErrorMimeType is the Content-Type of error responses.
	ErrorMimeType = "text/plain"
	// ListingMimeType is the Content-Type of directory listings.
	ListingMimeType = "text/html"
)

// MimeTypeResolver maps file extensions to Content-Type values. Custom
// mappings take precedence over the built-in table.
type MimeTypeResolver struct {
	custom map[string]string
}

// NewMimeTypeResolver validates custom and returns a resolver using it.
// Extensions must start with '.', and are matched case-insensitively. Types
// must not be empty.
func NewMimeTypeResolver(custom map[string]string) (*MimeTypeResolver, error) {
	r := &MimeTypeResolver{custom: make(map[string]string, len(custom))}
	for ext, mimeType := range custom {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q: must start with a '.'", ext)
		}
		if strings.TrimSpace(mimeType) == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q", ext)
		}
		r.custom[strings.ToLower(ext)] = mimeType
	}
	return r, nil
}

// GetMimeType returns the Content-Type for filePath based on its extension.
func (r *MimeTypeResolver) GetMimeType(filePath string) string {
	var custom map[string]string
	if r != nil {
		custom = r.custom
	}
	return ResolveMimeType(filepath.Ext(filePath), custom)
}

// ResolveMimeType looks extension up in custom, then in the built-in table,
// and falls back to DefaultMimeType. extension includes the leading dot.
func ResolveMimeType(extension string, custom map[string]string) string {
	if extension == "" {
		return DefaultMimeType
	}
	ext := strings.ToLower(extension)
	if mimeType, ok := custom[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	return DefaultMimeType
}
