package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"relay/internal/domain"
)

// MaxPages bounds how many PDF pages or spreadsheet sheets are read.
const MaxPages = 200

// ErrUnsupported is returned for file types without an extractor.
var ErrUnsupported = errors.New("extract: unsupported file type")

// Extractor turns an uploaded file into per-page text.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// ExtractPages reads path and returns its non-empty pages in order. The
// filename decides the format when path is a temp file without extension.
func (e *Extractor) ExtractPages(path, filename string) ([]domain.Page, error) {
	if filename == "" {
		filename = path
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfPages(path)
	case ".xlsx":
		return sheetPages(path)
	case ".txt", ".md":
		return textPages(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, filepath.Ext(filename))
	}
}

func pdfPages(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read pdf: %w", err)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("extract: open pdf: %w", err)
	}
	total := r.NumPage()
	if total > MaxPages {
		total = MaxPages
	}
	var pages []domain.Page
	for n := 1; n <= total; n++ {
		p := r.Page(n)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// a single unreadable page does not spoil the document
			continue
		}
		if text = clean(text); text != "" {
			pages = append(pages, domain.Page{Number: n, Text: text})
		}
	}
	return pages, nil
}

func sheetPages(path string) ([]domain.Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open xlsx: %w", err)
	}
	defer f.Close()

	var pages []domain.Page
	for i, sheet := range f.GetSheetList() {
		if i >= MaxPages {
			break
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("extract: read sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			pages = append(pages, domain.Page{Number: i + 1, Text: sheet + "\n" + text})
		}
	}
	return pages, nil
}

func textPages(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read text: %w", err)
	}
	text := clean(string(data))
	if text == "" {
		return nil, nil
	}
	return []domain.Page{{Number: 1, Text: text}}, nil
}

func clean(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
