package pdftext

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Parser turns a PDF into plain text.
type Parser interface {
	Parse(r io.ReaderAt, size int64) (text string, pages int, err error)
}

// TextLayerParser reads the embedded text layer. Scanned PDFs without a
// text layer come back empty.
type TextLayerParser struct{}

func (TextLayerParser) Parse(r io.ReaderAt, size int64) (string, int, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), pages, nil
}
