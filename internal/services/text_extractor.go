package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var ErrUnsupportedFile = errors.New("unsupported file type")

// maxZipEntrySize bounds a single decompressed zip entry.
const maxZipEntrySize = 100 << 20

type TextExtractor interface {
	Extract(name string, content []byte) (string, error)
}

type textExtractor struct {
	logger *zap.Logger
}

func NewTextExtractor(logger *zap.Logger) TextExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &textExtractor{logger: logger}
}

// Extract dispatches on the file extension.
func (t *textExtractor) Extract(name string, content []byte) (string, error) {
	switch ext := fileExt(name); ext {
	case "pdf":
		return t.extractPDF(name, content)
	case "docx":
		return t.extractDOCX(name, content)
	case "zip":
		return t.extractZIP(name, content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
}

func (t *textExtractor) extractPDF(name string, content []byte) (text string, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read PDF %s: %v", name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	totalPage := r.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			t.logger.Debug("skipping unreadable page", zap.String("file", name), zap.Int("page", pageIndex), zap.Error(err))
			continue
		}
		pageText = CleanText(pageText)
		if pageText == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n--- Pagina %d ---\n", pageIndex)
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("no text content found in PDF %s", name)
	}
	t.logger.Info("📄 Extracted PDF text", zap.String("file", name), zap.Int("pages", totalPage), zap.Int("chars", sb.Len()))
	return sb.String(), nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
		Tables     []docxTable     `xml:"tbl"`
	} `xml:"body"`
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

func (p docxParagraph) text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		for _, t := range r.Text {
			sb.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(sb.String())
}

// heading matches both English ("Heading1") and Dutch ("Kop1") style ids.
func (p docxParagraph) heading() bool {
	style := strings.ToLower(p.Props.Style.Val)
	return strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "kop")
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (t *textExtractor) extractDOCX(name string, content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX: %w", err)
	}

	var raw []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		raw, err = readZipEntry(f)
		if err != nil {
			return "", fmt.Errorf("failed to read DOCX body: %w", err)
		}
		break
	}
	if raw == nil {
		return "", fmt.Errorf("DOCX %s has no word/document.xml", name)
	}

	var doc docxDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse DOCX body: %w", err)
	}

	var sb strings.Builder
	for _, p := range doc.Body.Paragraphs {
		text := p.text()
		if text == "" {
			continue
		}
		if p.heading() {
			fmt.Fprintf(&sb, "\n## %s\n", text)
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	for _, table := range doc.Body.Tables {
		sb.WriteString("\n[Tabel]\n")
		for _, row := range table.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				parts := make([]string, 0, len(cell.Paragraphs))
				for _, p := range cell.Paragraphs {
					if text := p.text(); text != "" {
						parts = append(parts, text)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			line := strings.Join(cells, " | ")
			if strings.TrimSpace(strings.ReplaceAll(line, "|", "")) != "" {
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}

	t.logger.Info("📄 Extracted DOCX text", zap.String("file", name), zap.Int("chars", sb.Len()))
	return sb.String(), nil
}

// extractZIP reads the pdf and docx entries of an archive, each under a banner.
func (t *textExtractor) extractZIP(name string, content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open ZIP: %w", err)
	}

	banner := strings.Repeat("=", 40)
	var sb strings.Builder
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || strings.HasPrefix(f.Name, "__MACOSX") {
			continue
		}
		if ext := fileExt(f.Name); ext != "pdf" && ext != "docx" {
			continue
		}
		if f.UncompressedSize64 > maxZipEntrySize {
			t.logger.Warn("⚠️ Skipping oversized zip entry", zap.String("zip", name), zap.String("entry", f.Name))
			continue
		}

		data, err := readZipEntry(f)
		if err != nil {
			t.logger.Warn("⚠️ Failed to read zip entry", zap.String("zip", name), zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		text, err := t.Extract(f.Name, data)
		if err != nil || strings.TrimSpace(text) == "" {
			t.logger.Warn("⚠️ Failed to extract zip entry", zap.String("zip", name), zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		fmt.Fprintf(&sb, "\n\n%s\n=== %s ===\n%s\n\n", banner, f.Name, banner)
		sb.WriteString(text)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("ZIP %s contains no readable PDF or DOCX files", name)
	}
	return sb.String(), nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipEntrySize))
}

func fileExt(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// CleanText trims every line and drops empty ones.
func CleanText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
