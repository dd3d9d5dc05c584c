package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
)

// Converter turns expanded markup into a binary document at outputPath.
type Converter interface {
	Convert(ctx context.Context, doc Output, outputPath string) error
}

// PDFConverter is the built-in compositor. It lays out headings, paragraphs,
// lists, tables and inline emphasis with fpdf; page setup comes from the
// stylesheet's @page and body rules and from the template options.
type PDFConverter struct {
	fontDir string
}

// NewPDFConverter builds a converter that resolves the font_file option
// against fontDir.
func NewPDFConverter(fontDir string) *PDFConverter {
	return &PDFConverter{fontDir: fontDir}
}

func (c *PDFConverter) Convert(ctx context.Context, doc Output, outputPath string) error {
	fail := func(err error) error {
		return &ConversionError{Output: outputPath, Err: err}
	}

	l, err := resolveLayout(doc.Style, doc.Options)
	if err != nil {
		return fail(err)
	}
	root, err := html.Parse(strings.NewReader(doc.HTML))
	if err != nil {
		return fail(fmt.Errorf("parse markup: %w", err))
	}

	pdf := fpdf.New(l.Orientation, "mm", l.PageSize, c.fontDir)
	pdf.SetMargins(l.Margins[3], l.Margins[0], l.Margins[1])
	pdf.SetAutoPageBreak(true, l.Margins[2])
	pdf.SetCompression(l.Compress)
	pdf.SetCreator("report-generator", true)
	if l.Title != "" {
		pdf.SetTitle(l.Title, true)
	}
	if l.Author != "" {
		pdf.SetAuthor(l.Author, true)
	}

	w := &pdfWriter{pdf: pdf, family: l.FontFamily, size: l.FontSize, lineStart: true}
	if l.FontFile != "" {
		if _, err := os.Stat(filepath.Join(c.fontDir, l.FontFile)); err != nil {
			return fail(fmt.Errorf("font file: %w", err))
		}
		for _, style := range []string{"", "B", "I", "BI"} {
			pdf.AddUTF8Font("body", style, l.FontFile)
		}
		w.family = "body"
		w.translate = func(s string) string { return s }
	} else {
		w.translate = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.SetTextColor(l.Color[0], l.Color[1], l.Color[2])
	pdf.AddPage()
	w.apply()

	if err := w.walk(ctx, root); err != nil {
		return fail(err)
	}
	if pdf.Err() {
		return fail(pdf.Error())
	}
	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return fail(err)
	}
	return nil
}

type pdfWriter struct {
	pdf       *fpdf.Fpdf
	translate func(string) string
	family    string
	size      float64

	bold, italic, underline int
	scale                   float64
	lineStart               bool
	lists                   []int // item counters, -1 for unordered
}

func (w *pdfWriter) fontSize() float64 {
	if w.scale == 0 {
		return w.size
	}
	return w.size * w.scale
}

func (w *pdfWriter) lineHeight() float64 {
	return w.fontSize() * mmPerPoint * 1.4
}

func (w *pdfWriter) apply() {
	style := ""
	if w.bold > 0 {
		style += "B"
	}
	if w.italic > 0 {
		style += "I"
	}
	if w.underline > 0 {
		style += "U"
	}
	w.pdf.SetFont(w.family, style, w.fontSize())
}

func (w *pdfWriter) newline() {
	if !w.lineStart {
		w.pdf.Ln(w.lineHeight())
		w.lineStart = true
	}
}

func (w *pdfWriter) gap(factor float64) {
	w.pdf.Ln(w.lineHeight() * factor)
}

func (w *pdfWriter) text(s string) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return
	}
	if w.lineStart {
		s = strings.TrimLeft(s, " ")
	}
	w.pdf.Write(w.lineHeight(), w.translate(s))
	w.lineStart = false
}

var headingScale = map[string]float64{
	"h1": 2.0, "h2": 1.6, "h3": 1.3, "h4": 1.15, "h5": 1.05, "h6": 1.0,
}

func (w *pdfWriter) walk(ctx context.Context, n *html.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return nil
	case html.ElementNode:
	default:
		return w.children(ctx, n)
	}

	switch n.Data {
	case "head", "script", "style", "title", "template":
		return nil
	case "br":
		w.pdf.Ln(w.lineHeight())
		w.lineStart = true
		return nil
	case "hr":
		w.newline()
		left, _, right, _ := w.pdf.GetMargins()
		pageW, _ := w.pdf.GetPageSize()
		y := w.pdf.GetY() + w.lineHeight()/2
		w.pdf.Line(left, y, pageW-right, y)
		w.gap(1)
		return nil
	case "b", "strong", "th":
		w.bold++
		defer func() { w.bold--; w.apply() }()
		w.apply()
	case "i", "em":
		w.italic++
		defer func() { w.italic--; w.apply() }()
		w.apply()
	case "u":
		w.underline++
		defer func() { w.underline--; w.apply() }()
		w.apply()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.newline()
		w.gap(0.3)
		prev := w.scale
		w.scale = headingScale[n.Data]
		w.bold++
		w.apply()
		err := w.children(ctx, n)
		w.newline()
		w.bold--
		w.scale = prev
		w.apply()
		w.gap(0.3)
		return err
	case "p", "div", "section", "article", "header", "footer", "address", "blockquote", "pre":
		w.newline()
		err := w.children(ctx, n)
		w.newline()
		if n.Data == "p" {
			w.gap(0.4)
		}
		return err
	case "ul", "ol":
		w.newline()
		counter := -1
		if n.Data == "ol" {
			counter = 0
		}
		w.lists = append(w.lists, counter)
		err := w.children(ctx, n)
		w.lists = w.lists[:len(w.lists)-1]
		w.newline()
		return err
	case "li":
		w.newline()
		w.text(w.bullet())
		err := w.children(ctx, n)
		w.newline()
		return err
	case "tr":
		w.newline()
		return w.row(n)
	}
	return w.children(ctx, n)
}

func (w *pdfWriter) children(ctx context.Context, n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := w.walk(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (w *pdfWriter) bullet() string {
	depth := len(w.lists)
	if depth == 0 {
		return "- "
	}
	indent := strings.Repeat("  ", depth-1)
	if w.lists[depth-1] >= 0 {
		w.lists[depth-1]++
		return indent + strconv.Itoa(w.lists[depth-1]) + ". "
	}
	return indent + "- "
}

// row draws a table row as equal-width bordered cells.
func (w *pdfWriter) row(tr *html.Node) error {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		return nil
	}
	left, _, right, _ := w.pdf.GetMargins()
	pageW, _ := w.pdf.GetPageSize()
	width := (pageW - left - right) / float64(len(cells))
	for _, cell := range cells {
		if cell.Data == "th" {
			w.bold++
			w.apply()
		}
		txt := strings.Join(strings.Fields(textContent(cell)), " ")
		w.pdf.CellFormat(width, w.lineHeight(), w.translate(txt), "1", 0, "L", false, 0, "")
		if cell.Data == "th" {
			w.bold--
			w.apply()
		}
	}
	w.pdf.Ln(-1)
	w.lineStart = true
	return w.pdf.Error()
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
		b.WriteByte(' ')
	}
	return b.String()
}
