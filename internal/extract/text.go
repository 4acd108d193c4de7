package extract

import (
	"strings"
	"unicode/utf8"
)

// TextHandler extracts plain text and markdown documents. Input is decoded
// as UTF-8 when valid and as Latin-1 otherwise; NUL bytes are stripped
// either way.
type TextHandler struct{}

func (*TextHandler) Name() string { return "text" }

func (*TextHandler) MIMETypes() []string {
	return []string{"text/plain", "text/markdown", "text/x-markdown"}
}

func (*TextHandler) Extensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

func (*TextHandler) Extract(data []byte) (string, error) {
	var text string
	if utf8.Valid(data) {
		text = string(data)
	} else {
		text = decodeLatin1(data)
	}
	return strings.ReplaceAll(text, "\x00", ""), nil
}

// decodeLatin1 maps each byte to the equivalent Unicode code point.
func decodeLatin1(data []byte) string {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, b := range data {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}
