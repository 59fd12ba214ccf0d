// Package html parses HTML pages into headings, paragraphs and table rows.
// Markup is stripped; script-like content is dropped.
package html

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parser implements loader.Parser for HTML.
type Parser struct {
	// MainContentOnly keeps only the article body detected by readability,
	// dropping navigation and other boilerplate. Headings and tables are
	// not preserved in this mode.
	MainContentOnly bool
	// BaseURL is passed to readability to resolve relative links.
	BaseURL *url.URL
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	if p.MainContentOnly {
		doc := &loader.Document{}
		if err := p.mainContent(raw, doc); err != nil {
			return doc, loader.NewCorruptError(loader.FormatHTML, err)
		}
		return doc, nil
	}

	doc, err := walk(raw)
	if err != nil {
		return doc, loader.NewCorruptError(loader.FormatHTML, err)
	}
	if len(doc.Blocks) == 0 {
		if err := p.mainContent(raw, doc); err != nil {
			doc.Warn("readability fallback failed: %v", err)
		}
	}
	return doc, nil
}

// mainContent extracts the readable article text and splits it into
// paragraphs at blank lines.
func (p *Parser) mainContent(raw []byte, doc *loader.Document) error {
	base := p.BaseURL
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err != nil {
		return fmt.Errorf("failed to parse html: %w", err)
	}
	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return fmt.Errorf("failed to render article text: %w", err)
	}
	for i, para := range strings.Split(util.CollapseWhitespace(builder.String()), "\n\n") {
		doc.Add(loader.Paragraph(strings.Join(strings.Fields(para), " "), common.Locator{Path: fmt.Sprintf("article[%d]", i)}))
	}
	return nil
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Template: true, atom.Svg: true, atom.Iframe: true, atom.Object: true,
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Blockquote: true, atom.Pre: true,
	atom.Dd: true, atom.Dt: true, atom.Div: true, atom.Section: true,
	atom.Article: true, atom.Main: true, atom.Header: true, atom.Footer: true,
	atom.Aside: true, atom.Nav: true, atom.Figcaption: true, atom.Caption: true,
	atom.Address: true, atom.Ul: true, atom.Ol: true, atom.Dl: true,
	atom.Form: true, atom.Body: true, atom.Hr: true,
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

type walker struct {
	doc  *loader.Document
	line int

	skipDepth int
	inTitle   bool
	title     strings.Builder

	text      strings.Builder
	textLine  int
	heading   int
	headLine  int

	tableDepth int
	tables     int
	inHead     bool
	rows       [][]string
	rowHeader  []bool
	rowLines   []int
	cells      []string
	cell       strings.Builder
	allTH      bool
	rowLine    int
}

func walk(raw []byte) (*loader.Document, error) {
	w := &walker{doc: &loader.Document{}, line: 1}
	z := html.NewTokenizer(bytes.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			err := z.Err()
			w.flushText()
			w.flushTable()
			w.doc.SetMeta("title", util.CollapseWhitespace(w.title.String()))
			if errors.Is(err, io.EOF) {
				return w.doc, nil
			}
			return w.doc, err
		}
		startLine := w.line
		w.line += bytes.Count(z.Raw(), []byte{'\n'})

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			w.start(tok, startLine, tt == html.SelfClosingTagToken)
		case html.EndTagToken:
			tok := z.Token()
			w.end(tok.DataAtom)
		case html.TextToken:
			w.addText(string(z.Text()), startLine)
		}
	}
}

func attrValue(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func (w *walker) start(tok html.Token, line int, selfClosing bool) {
	a := tok.DataAtom
	if skipped[a] {
		if !selfClosing {
			w.skipDepth++
		}
		return
	}
	if w.skipDepth > 0 {
		return
	}

	switch {
	case a == atom.Title:
		w.inTitle = true
	case a == atom.Meta:
		switch strings.ToLower(attrValue(tok, "name")) {
		case "author":
			w.doc.SetMeta("author", attrValue(tok, "content"))
		case "description":
			w.doc.SetMeta("description", attrValue(tok, "content"))
		}
	case a == atom.Br:
		w.addText(" ", line)
	case headingLevels[a] > 0 && w.tableDepth == 0:
		w.flushText()
		w.heading = headingLevels[a]
		w.headLine = line
	case a == atom.Table:
		w.tableDepth++
		if w.tableDepth == 1 {
			w.flushText()
			w.tables++
			w.rows, w.rowHeader, w.rowLines = nil, nil, nil
		}
	case a == atom.Thead && w.tableDepth == 1:
		w.inHead = true
	case a == atom.Tr && w.tableDepth == 1:
		w.cells = nil
		w.allTH = true
		w.rowLine = line
	case (a == atom.Td || a == atom.Th) && w.tableDepth == 1:
		w.cell.Reset()
		if a == atom.Td {
			w.allTH = false
		}
	case blockTags[a] && w.tableDepth == 0:
		w.flushText()
	}
}

func (w *walker) end(a atom.Atom) {
	if skipped[a] {
		if w.skipDepth > 0 {
			w.skipDepth--
		}
		return
	}
	if w.skipDepth > 0 {
		return
	}

	switch {
	case a == atom.Title:
		w.inTitle = false
	case headingLevels[a] > 0 && w.tableDepth == 0:
		w.flushText()
	case a == atom.Td || a == atom.Th:
		if w.tableDepth == 1 {
			w.cells = append(w.cells, util.CollapseWhitespace(w.cell.String()))
		}
	case a == atom.Tr:
		if w.tableDepth == 1 {
			if cells := loader.TrimCells(w.cells); len(cells) > 0 {
				w.rows = append(w.rows, cells)
				w.rowHeader = append(w.rowHeader, w.inHead || w.allTH)
				w.rowLines = append(w.rowLines, w.rowLine)
			}
			w.cells = nil
		}
	case a == atom.Thead:
		w.inHead = false
	case a == atom.Table:
		if w.tableDepth == 1 {
			w.flushTable()
		}
		if w.tableDepth > 0 {
			w.tableDepth--
		}
	case blockTags[a] && w.tableDepth == 0:
		w.flushText()
	}
}

func (w *walker) addText(s string, line int) {
	if w.skipDepth > 0 {
		return
	}
	if w.inTitle {
		w.title.WriteString(s)
		return
	}
	if w.tableDepth > 0 {
		w.cell.WriteString(s)
		w.cell.WriteByte(' ')
		return
	}
	if strings.TrimSpace(s) != "" && w.text.Len() == 0 {
		w.textLine = line
	}
	w.text.WriteString(s)
}

func (w *walker) flushText() {
	text := strings.Join(strings.Fields(w.text.String()), " ")
	w.text.Reset()
	level := w.heading
	w.heading = 0
	if text == "" {
		return
	}
	if level > 0 {
		w.doc.Add(loader.Heading(level, text, common.Locator{Line: w.headLine}))
		return
	}
	w.doc.Add(loader.Paragraph(text, common.Locator{Line: w.textLine}))
}

func (w *walker) flushTable() {
	if len(w.rows) == 0 {
		return
	}
	header := w.rowHeader[0] || loader.LooksLikeHeader(w.rows[0], w.rows[1:])
	for i, row := range w.rows {
		w.doc.Add(loader.TableRow(w.tables-1, row, header && i == 0, common.Locator{Row: i + 1, Line: w.rowLines[i]}))
	}
	w.rows, w.rowHeader, w.rowLines = nil, nil, nil
}
