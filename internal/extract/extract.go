// Package extract maps document MIME types to text extractors. Handlers are
// registered in a static table at construction; each handler is a pure
// function from raw bytes to extracted text.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned when no handler accepts the document type.
var ErrUnsupported = errors.New("unsupported document type")

// ErrEmpty is returned when a handler produced no text. An empty extraction
// always fails the ingest.
var ErrEmpty = errors.New("document contains no extractable text")

// Handler extracts plain text from one document format.
type Handler interface {
	// Name identifies the handler in logs.
	Name() string

	// MIMETypes lists the media types this handler accepts.
	MIMETypes() []string

	// Extensions lists the lowercase file extensions (with dot) this
	// handler accepts, used when the MIME type is missing or generic.
	Extensions() []string

	// Extract converts raw document bytes into text.
	Extract(data []byte) (string, error)
}

// Manager dispatches documents to handlers. The registration table is built
// once and read-only afterwards.
type Manager struct {
	byMIME map[string]Handler
	byExt  map[string]Handler
}

// NewManager builds a Manager over the given handlers. Later handlers win on
// conflicting registrations.
func NewManager(handlers ...Handler) *Manager {
	m := &Manager{
		byMIME: make(map[string]Handler),
		byExt:  make(map[string]Handler),
	}
	for _, h := range handlers {
		for _, mt := range h.MIMETypes() {
			m.byMIME[strings.ToLower(mt)] = h
		}
		for _, ext := range h.Extensions() {
			m.byExt[strings.ToLower(ext)] = h
		}
	}
	return m
}

// DefaultManager returns a Manager with all built-in handlers registered.
func DefaultManager() *Manager {
	return NewManager(
		&TextHandler{},
		&PDFHandler{},
		&DOCXHandler{},
		&PPTXHandler{},
	)
}

// Resolve returns the handler for the given MIME type, falling back to the
// file extension of name when the MIME type is unknown.
func (m *Manager) Resolve(mimeType, name string) (Handler, error) {
	// Parameters like "; charset=utf-8" do not affect dispatch.
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if h, ok := m.byMIME[mt]; ok {
		return h, nil
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if h, ok := m.byExt[ext]; ok {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: mime %q, name %q", ErrUnsupported, mimeType, name)
}

// Extract resolves a handler and runs it, enforcing the non-empty rule.
func (m *Manager) Extract(mimeType, name string, data []byte) (string, error) {
	h, err := m.Resolve(mimeType, name)
	if err != nil {
		return "", err
	}
	text, err := h.Extract(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", h.Name(), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", h.Name(), ErrEmpty)
	}
	return text, nil
}
