// Package markdown parses Markdown and plain text. Plain text is Markdown
// without markup, so each blank-line separated block becomes a paragraph.
package markdown

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Parser implements loader.Parser for Markdown.
type Parser struct {
	md goldmark.Markdown
}

func NewParser() *Parser {
	return &Parser{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
}

func (p *Parser) Parse(ctx context.Context, raw []byte) (*loader.Document, error) {
	source := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	root := p.md.Parser().Parse(text.NewReader(source))

	c := &converter{
		doc:    &loader.Document{},
		source: source,
		lines:  lineStarts(source),
	}
	err := ast.Walk(root, c.visit)
	return c.doc, err
}

type converter struct {
	doc    *loader.Document
	source []byte
	lines  []int
	tables int
}

func (c *converter) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	switch node := n.(type) {
	case *ast.Heading:
		c.doc.Add(loader.Heading(node.Level, c.inline(node), c.locate(node)))
		return ast.WalkSkipChildren, nil
	case *ast.Paragraph, *ast.TextBlock:
		c.doc.Add(loader.Paragraph(c.inline(node), c.locate(node)))
		return ast.WalkSkipChildren, nil
	case *extast.Table:
		c.table(node)
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.ThematicBreak:
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (c *converter) table(t *extast.Table) {
	table := c.tables
	c.tables++
	row := 0
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for cell := r.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, c.inline(cell))
		}
		row++
		_, header := r.(*extast.TableHeader)
		loc := c.locate(r)
		loc.Row = row
		c.doc.Add(loader.TableRow(table, cells, header, loc))
	}
}

// inline flattens the inline content of n into plain text.
func (c *converter) inline(n ast.Node) string {
	var b strings.Builder
	c.writeInline(&b, n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func (c *converter) writeInline(b *strings.Builder, n ast.Node) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch node := child.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(c.source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(c.source))
		case *ast.RawHTML:
		default:
			c.writeInline(b, child)
		}
	}
}

// locate returns the 1-based line of the first source byte of n.
func (c *converter) locate(n ast.Node) common.Locator {
	off := firstOffset(n)
	if off < 0 {
		return common.Locator{}
	}
	return common.Locator{Line: sort.SearchInts(c.lines, off+1)}
}

func firstOffset(n ast.Node) int {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		return n.Lines().At(0).Start
	}
	if t, ok := n.(*ast.Text); ok {
		return t.Segment.Start
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if off := firstOffset(child); off >= 0 {
			return off
		}
	}
	return -1
}

// lineStarts returns the offset of the first byte of every line.
func lineStarts(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}
