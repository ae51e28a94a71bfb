package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
)

const truncationNotice = "[Content truncated: the generated text exceeded the document size limit.]"

// ErrRender is returned when no layout could produce a document.
var ErrRender = errors.New("render failed")

// Document is the input to Render.
type Document struct {
	Title   string
	Body    string
	Author  string
	Subject string
	// Created fixes the PDF creation and modification dates. Zero uses the
	// Unix epoch so identical input renders identical bytes.
	Created time.Time
}

// Report describes how far rendering had to degrade.
type Report struct {
	Truncated     bool
	PlainFallback bool
	Pages         int
}

// Config tunes the renderer.
type Config struct {
	// MaxChars caps the body length in runes. Zero means 200000.
	MaxChars int
	Creator  string
}

// Renderer lays generated text out as a PDF.
type Renderer struct {
	maxChars int
	creator  string
}

func New(cfg Config) *Renderer {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 200_000
	}
	if cfg.Creator == "" {
		cfg.Creator = "docgen"
	}
	return &Renderer{maxChars: cfg.MaxChars, creator: cfg.Creator}
}

// Render is best effort: oversized bodies are truncated with a visible
// notice, unprintable characters are dropped, and a failed structured layout
// falls back to plain paragraphs. An error means neither layout worked.
func (r *Renderer) Render(doc Document) ([]byte, Report, error) {
	var report Report
	title := scrub(strings.TrimSpace(doc.Title))
	if title == "" {
		title = "Generated Document"
	}
	body := scrub(CleanOutput(doc.Body))
	if utf8.RuneCountInString(body) > r.maxChars {
		body = string([]rune(body)[:r.maxChars]) + "\n\n" + truncationNotice
		report.Truncated = true
	}

	out, pages, err := r.layout(doc, title, parseBlocks(body))
	if err != nil {
		plain := []block{{kind: blockParagraph, text: body}}
		out, pages, err = r.layout(doc, title, plain)
		if err != nil {
			return nil, report, fmt.Errorf("%w: %v", ErrRender, err)
		}
		report.PlainFallback = true
	}
	report.Pages = pages
	return out, report, nil
}

// scrub drops control characters other than newline and tab.
func scrub(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

const (
	lineHeight  = 5.5
	marginLeft  = 19.0
	marginRight = 19.0
	marginTop   = 25.0
	marginBot   = 19.0
)

func (r *Renderer) layout(doc Document, title string, blocks []block) (out []byte, pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("layout panic: %v", rec)
		}
	}()

	created := doc.Created
	if created.IsZero() {
		created = time.Unix(0, 0)
	}
	created = created.UTC()

	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetCatalogSort(true)
	pdf.SetCompression(true)
	pdf.SetCreationDate(created)
	pdf.SetModificationDate(created)
	pdf.SetTitle(title, true)
	pdf.SetAuthor(firstNonEmpty(doc.Author, "DocGen"), true)
	pdf.SetSubject(firstNonEmpty(doc.Subject, "AI-Generated Document"), true)
	pdf.SetCreator(r.creator, true)
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, marginBot)
	pdf.AliasNbPages("{nb}")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(26, 54, 93)
	pdf.MultiCell(0, 9, tr(title), "", "C", false)
	pdf.Ln(8)

	for _, b := range blocks {
		switch b.kind {
		case blockMajorHeading:
			pdf.Ln(4)
			pdf.SetFont("Helvetica", "B", 14)
			pdf.SetTextColor(44, 90, 160)
			pdf.MultiCell(0, 7, tr(b.text), "", "L", false)
			pdf.Ln(1)
		case blockSectionHeading:
			pdf.Ln(3)
			pdf.SetFont("Helvetica", "B", 12)
			pdf.SetTextColor(52, 73, 94)
			pdf.MultiCell(0, 6.5, tr(b.text), "", "L", false)
			pdf.Ln(1)
		case blockSubHeading:
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", 11)
			pdf.SetTextColor(70, 70, 70)
			pdf.MultiCell(0, 6, tr(b.text), "", "L", false)
		case blockListItem:
			pdf.SetFont("Helvetica", "", 10.5)
			pdf.SetTextColor(33, 33, 33)
			pdf.SetX(marginLeft + 6)
			pdf.MultiCell(0, lineHeight, tr(b.text), "", "L", false)
			pdf.Ln(1)
		case blockTable:
			drawTable(pdf, tr, b.rows)
		default:
			pdf.SetFont("Helvetica", "", 10.5)
			pdf.SetTextColor(33, 33, 33)
			pdf.MultiCell(0, lineHeight, tr(b.text), "", "J", false)
			pdf.Ln(3)
		}
		if pdf.Err() {
			return nil, 0, pdf.Error()
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), pdf.PageNo(), nil
}

func drawTable(pdf *fpdf.Fpdf, tr func(string) string, rows [][]string) {
	pageW, pageH := pdf.GetPageSize()
	usable := pageW - marginLeft - marginRight
	cols := len(rows[0])
	colW := usable / float64(cols)
	const cellLine = 4.8
	const pad = 1.5

	maxRowLines := int((pageH - marginTop - marginBot - 2*pad) / cellLine)

	pdf.Ln(2)
	for ri, row := range rows {
		if ri == 0 {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetFillColor(44, 90, 160)
			pdf.SetTextColor(245, 245, 245)
		} else {
			pdf.SetFont("Helvetica", "", 9)
			pdf.SetTextColor(33, 33, 33)
			if ri%2 == 0 {
				pdf.SetFillColor(248, 250, 252)
			} else {
				pdf.SetFillColor(255, 255, 255)
			}
		}
		pdf.SetDrawColor(208, 208, 208)

		lines := make([][][]byte, cols)
		maxLines := 1
		for c := 0; c < cols; c++ {
			lines[c] = pdf.SplitLines([]byte(tr(row[c])), colW-2*pad)
			if len(lines[c]) > maxRowLines {
				lines[c] = lines[c][:maxRowLines]
			}
			if len(lines[c]) > maxLines {
				maxLines = len(lines[c])
			}
		}
		rowH := float64(maxLines)*cellLine + 2*pad
		if pdf.GetY()+rowH > pageH-marginBot {
			pdf.AddPage()
		}
		y := pdf.GetY()
		for c := 0; c < cols; c++ {
			x := marginLeft + float64(c)*colW
			pdf.Rect(x, y, colW, rowH, "FD")
			for li, ln := range lines[c] {
				pdf.SetXY(x+pad, y+pad+float64(li)*cellLine)
				pdf.CellFormat(colW-2*pad, cellLine, string(ln), "", 0, "L", false, 0, "")
			}
		}
		pdf.SetXY(marginLeft, y+rowH)
	}
	pdf.Ln(4)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
