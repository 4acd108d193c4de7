package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFHandler extracts text from PDF documents page by page.
type PDFHandler struct{}

func (*PDFHandler) Name() string { return "pdf" }

func (*PDFHandler) MIMETypes() []string {
	return []string{"application/pdf"}
}

func (*PDFHandler) Extensions() []string {
	return []string{".pdf"}
}

func (*PDFHandler) Extract(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var sb bytes.Buffer
	if _, err := io.Copy(&sb, r); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return sb.String(), nil
}
