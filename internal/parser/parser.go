package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"knowledge-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gtext "github.com/yuin/goldmark/text"
)

var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", models.ErrInvalidInput)

var (
	docxTextRegex  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	slideTextRegex = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)
	slideNameRegex = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	blankLineRegex = regexp.MustCompile(`\n{3,}`)
)

var extractors = map[string]func(string) (string, error){
	".pdf":  parsePDF,
	".docx": parseDOCX,
	".pptx": parsePPTX,
	".xlsx": parseXLSX,
	".ods":  parseODS,
	".md":   parseMarkdown,
	".txt":  parseText,
	".csv":  parseText,
}

// SupportedExtensions lists the file extensions ExtractText understands.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ExtractText returns the plain text of the file, picking the parser by extension.
func ExtractText(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	extract, ok := extractors[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	content, err := extract(filePath)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return "", err
		}
		return "", fmt.Errorf("failed to parse %s: %w", filepath.Base(filePath), err)
	}
	return normalizeText(content), nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	// paragraphs end with </w:p>, runs of text sit in <w:t>
	content := r.Editable().GetContent()
	var text strings.Builder
	for _, para := range strings.Split(content, "</w:p>") {
		var line strings.Builder
		for _, m := range docxTextRegex.FindAllStringSubmatch(para, -1) {
			line.WriteString(m[1])
		}
		if strings.TrimSpace(line.String()) == "" {
			continue
		}
		text.WriteString(html.UnescapeString(line.String()))
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNameRegex.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(data))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var text strings.Builder
	for _, s := range slides {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		text.WriteString(s.text)
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			writeRow(&text, cells)
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseODS(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			writeRow(&text, row)
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func writeRow(text *strings.Builder, cells []string) {
	line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
	if line == "" {
		return
	}
	text.WriteString(line)
	text.WriteString("\n")
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseMarkdown(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(data)
}

// markdownToText walks the goldmark AST and keeps only the readable text,
// one line per block.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gtext.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			buf.Write(node.URL(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// extract text runs from a slide's drawing xml
func extractTextFromXML(xmlContent string) string {
	var parts []string
	for _, m := range slideTextRegex.FindAllStringSubmatch(xmlContent, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, html.UnescapeString(t))
		}
	}
	return strings.Join(parts, " ")
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankLineRegex.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
