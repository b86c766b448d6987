package document

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"
	"rsc.io/pdf"
)

// ErrUnreadableDocument is returned when the bytes are not a readable PDF.
var ErrUnreadableDocument = errors.New("unreadable document")

// PDFLoader extracts plain text from PDF files.
type PDFLoader struct{}

// NewPDFLoader creates a PDF loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load returns the text of every page in order, pages separated by a blank line.
// There is no OCR: a scanned PDF yields an empty string.
func (l *PDFLoader) Load(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrUnreadableDocument)
	}

	// rsc.io/pdf panics on some corrupt inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadableDocument, r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	total := doc.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		p := doc.Page(i)
		if p.V.IsNull() {
			return "", fmt.Errorf("%w: page %d is null", ErrUnreadableDocument, i)
		}
		if t := pageText(p.Content().Text); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageText rejoins the glyph runs of a page: a vertical jump starts a new line,
// a horizontal gap inserts a space.
func pageText(runs []pdf.Text) string {
	var sb strings.Builder
	var prev *pdf.Text
	for i := range runs {
		t := &runs[i]
		if t.S == "" {
			continue
		}
		if prev != nil {
			lineHeight := math.Max(prev.FontSize, 1)
			switch {
			case math.Abs(t.Y-prev.Y) > lineHeight/2:
				sb.WriteString("\n")
			case t.X > prev.X+prev.W+lineHeight/4 && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(t.S, " "):
				sb.WriteString(" ")
			}
		}
		sb.WriteString(t.S)
		prev = t
	}
	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Fingerprint returns a BLAKE2b-256 digest of the file, used to recognise re-uploads.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
