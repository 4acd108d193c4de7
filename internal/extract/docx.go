package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DOCXHandler extracts text from Word documents: body paragraphs and tables
// from the main document part, plus headers and footers.
type DOCXHandler struct{}

func (*DOCXHandler) Name() string { return "docx" }

func (*DOCXHandler) MIMETypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}

func (*DOCXHandler) Extensions() []string {
	return []string{".docx"}
}

func (*DOCXHandler) Extract(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var headerParts, footerParts []string
	var body string
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			body, err = wordPartText(f)
			if err != nil {
				return "", err
			}
		case strings.HasPrefix(f.Name, "word/header"):
			headerParts = append(headerParts, f.Name)
		case strings.HasPrefix(f.Name, "word/footer"):
			footerParts = append(footerParts, f.Name)
		}
	}
	if body == "" && len(headerParts) == 0 && len(footerParts) == 0 {
		return "", fmt.Errorf("no document part found")
	}

	sort.Strings(headerParts)
	sort.Strings(footerParts)
	var sections []string
	for _, name := range headerParts {
		if t, err := wordPartByName(zr, name); err == nil && t != "" {
			sections = append(sections, t)
		}
	}
	if body != "" {
		sections = append(sections, body)
	}
	for _, name := range footerParts {
		if t, err := wordPartByName(zr, name); err == nil && t != "" {
			sections = append(sections, t)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

func wordPartByName(zr *zip.Reader, name string) (string, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return wordPartText(f)
		}
	}
	return "", fmt.Errorf("part %s not found", name)
}

// wordPartText walks one WordprocessingML part and collects run text.
// Paragraph ends become newlines, explicit breaks and tabs are preserved,
// and table cells within a row are separated by tabs.
func wordPartText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var sb strings.Builder
	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "cr":
				sb.WriteByte('\n')
			case "tab":
				sb.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			case "tc":
				sb.WriteByte('\t')
			case "tr":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
