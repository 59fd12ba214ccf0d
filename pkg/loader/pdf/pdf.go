// Package pdf extracts text from PDF files page by page. Lines set in a
// larger font than the body text become headings; the remaining lines are
// grouped into paragraphs by vertical spacing.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	pdf "github.com/ledongthuc/pdf"
)

// Parser implements loader.Parser for PDF.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) (doc *loader.Document, err error) {
	doc = &loader.Document{}
	defer func() {
		if r := recover(); r != nil {
			err = loader.NewCorruptError(loader.FormatPDF, fmt.Errorf("pdf reader panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, loader.NewCorruptError(loader.FormatPDF, err)
	}
	readInfo(r, doc)

	total := r.NumPage()
	failed := 0
	for i := 1; i <= total; i++ {
		lines, err := readPage(r, i)
		if err != nil {
			failed++
			doc.Warn("page %d unreadable: %v", i, err)
			continue
		}
		doc.Add(layoutPage(i, lines)...)
	}
	doc.SetMeta("pages", fmt.Sprint(total))

	if failed > 0 && failed == total {
		return doc, loader.NewCorruptError(loader.FormatPDF, errors.New("no readable pages"))
	}
	return doc, nil
}

func readInfo(r *pdf.Reader, doc *loader.Document) {
	defer func() {
		if rec := recover(); rec != nil {
			doc.Warn("document info unreadable")
		}
	}()
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return
	}
	doc.SetMeta("title", info.Key("Title").Text())
	doc.SetMeta("author", info.Key("Author").Text())
	doc.SetMeta("subject", info.Key("Subject").Text())
}

// line is one visual text row of a page.
type line struct {
	text string
	size float64
	y    float64
}

func readPage(r *pdf.Reader, n int) (lines []line, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	page := r.Page(n)
	if page.V.IsNull() {
		return nil, errors.New("missing page object")
	}

	rows, err := page.GetTextByRow()
	if err != nil || len(rows) == 0 {
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			if err == nil {
				err = perr
			}
			return nil, err
		}
		for _, l := range strings.Split(text, "\n") {
			lines = append(lines, line{text: l})
		}
		return lines, nil
	}

	for _, row := range rows {
		var b strings.Builder
		size := 0.0
		var prev *pdf.Text
		for i := range row.Content {
			t := row.Content[i]
			if prev != nil && needsSpace(*prev, t) && !strings.HasSuffix(b.String(), " ") {
				b.WriteByte(' ')
			}
			b.WriteString(t.S)
			size = max(size, t.FontSize)
			prev = &row.Content[i]
		}
		lines = append(lines, line{text: b.String(), size: size, y: float64(row.Position)})
	}
	return lines, nil
}

func needsSpace(prev, cur pdf.Text) bool {
	if prev.W <= 0 {
		return false
	}
	gap := cur.X - (prev.X + prev.W)
	return gap > prev.FontSize*0.15
}
