package kconsole

import "strings"

// MIME types the console knows about.
const (
	MimePlainText   = "text/plain"
	MimeConsoleText = "application/vnd.jupyter.console-text"
)

// MimeBundle maps a MIME type to its content.
type MimeBundle map[string]string

// Normalize returns a copy of b that always has a console-text entry.
// When b has none, the plain-text entry is copied verbatim; terminal escape
// sequences are left for the display to interpret. An existing console-text
// entry is never overwritten.
func (b MimeBundle) Normalize() MimeBundle {
	out := make(MimeBundle, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	if _, ok := out[MimeConsoleText]; ok {
		return out
	}
	if plain, ok := out[MimePlainText]; ok {
		out[MimeConsoleText] = plain
	}
	return out
}

// mimetypesByLanguage maps lowercase language names to editor mimetypes,
// used when a kernel does not report one.
var mimetypesByLanguage = map[string]string{
	"bash":       "text/x-sh",
	"sh":         "text/x-sh",
	"shell":      "text/x-sh",
	"python":     "text/x-python",
	"go":         "text/x-go",
	"javascript": "text/javascript",
	"r":          "text/x-rsrc",
	"julia":      "text/x-julia",
}

// MimetypeForLanguage derives the editor mimetype from a kernel's language info.
func MimetypeForLanguage(info LanguageInfo) string {
	if info.Mimetype != "" {
		return info.Mimetype
	}
	if m, ok := mimetypesByLanguage[strings.ToLower(info.Name)]; ok {
		return m
	}
	return MimePlainText
}
