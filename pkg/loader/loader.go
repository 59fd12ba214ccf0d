package loader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// Format is the declared or detected format tag of a raw input.
type Format string

const (
	FormatPDF         Format = "pdf"
	FormatDOCX        Format = "docx"
	FormatSpreadsheet Format = "xlsx"
	FormatCSV         Format = "csv"
	FormatHTML        Format = "html"
	FormatJSON        Format = "json"
	FormatXML         Format = "xml"
	FormatMarkdown    Format = "markdown"
)

// Formats lists every supported format.
var Formats = []Format{
	FormatPDF, FormatDOCX, FormatSpreadsheet, FormatCSV,
	FormatHTML, FormatJSON, FormatXML, FormatMarkdown,
}

var formatAliases = map[string]Format{
	"pdf":              FormatPDF,
	"application/pdf":  FormatPDF,
	"docx":             FormatDOCX,
	"word":             FormatDOCX,
	"xlsx":             FormatSpreadsheet,
	"xlsm":             FormatSpreadsheet,
	"excel":            FormatSpreadsheet,
	"spreadsheet":      FormatSpreadsheet,
	"csv":              FormatCSV,
	"tsv":              FormatCSV,
	"text/csv":         FormatCSV,
	"html":             FormatHTML,
	"htm":              FormatHTML,
	"text/html":        FormatHTML,
	"json":             FormatJSON,
	"application/json": FormatJSON,
	"xml":              FormatXML,
	"application/xml":  FormatXML,
	"text/xml":         FormatXML,
	"md":               FormatMarkdown,
	"markdown":         FormatMarkdown,
	"text/markdown":    FormatMarkdown,
	"txt":              FormatMarkdown,
	"text":             FormatMarkdown,
	"text/plain":       FormatMarkdown,
}

// ParseFormat resolves a format tag, file extension or MIME type.
func ParseFormat(tag string) (Format, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.TrimPrefix(tag, ".")
	if i := strings.IndexByte(tag, ';'); i >= 0 {
		tag = strings.TrimSpace(tag[:i])
	}
	f, ok := formatAliases[tag]
	return f, ok
}

// FormatFromPath resolves the format from a file name extension.
func FormatFromPath(path string) (Format, bool) {
	return ParseFormat(filepath.Ext(path))
}

// BlockKind discriminates the variants of Block.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockTableRow
	BlockHeading
)

func (k BlockKind) String() string {
	switch k {
	case BlockParagraph:
		return "paragraph"
	case BlockTableRow:
		return "table_row"
	case BlockHeading:
		return "heading"
	}
	return fmt.Sprintf("block(%d)", int(k))
}

// Block is one unit of reading order in a Document.
//
// Paragraph and Heading use Text; Heading also sets Level (1 is the top).
// TableRow uses Cells; rows of one table share the Table ordinal and the
// row describing column names has Header set.
type Block struct {
	Kind    BlockKind
	Text    string
	Level   int
	Cells   []string
	Header  bool
	Table   int
	Locator common.Locator
}

func Paragraph(text string, loc common.Locator) Block {
	return Block{Kind: BlockParagraph, Text: text, Locator: loc}
}

func Heading(level int, text string, loc common.Locator) Block {
	if level < 1 {
		level = 1
	}
	return Block{Kind: BlockHeading, Level: level, Text: text, Locator: loc}
}

func TableRow(table int, cells []string, header bool, loc common.Locator) Block {
	return Block{Kind: BlockTableRow, Table: table, Cells: cells, Header: header, Locator: loc}
}

// Content renders the block as plain text.
func (b Block) Content() string {
	if b.Kind == BlockTableRow {
		return strings.Join(b.Cells, " | ")
	}
	return b.Text
}

// Empty reports whether the block carries no readable text.
func (b Block) Empty() bool {
	if b.Kind == BlockTableRow {
		for _, c := range b.Cells {
			if strings.TrimSpace(c) != "" {
				return false
			}
		}
		return true
	}
	return strings.TrimSpace(b.Text) == ""
}

// Document is the canonical, format independent form of a parsed source.
// Blocks are in source reading order. Warnings collect non-fatal problems
// met while parsing, such as unreadable pages.
type Document struct {
	SourceID string
	Format   Format
	Blocks   []Block
	Metadata map[string]string
	Warnings []string
}

// Add appends non-empty blocks.
func (d *Document) Add(blocks ...Block) {
	for _, b := range blocks {
		if !b.Empty() {
			d.Blocks = append(d.Blocks, b)
		}
	}
}

// Warn records a non-fatal problem.
func (d *Document) Warn(format string, args ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}

// SetMeta stores a metadata value, ignoring empty values.
func (d *Document) SetMeta(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// Count returns the number of blocks of the given kind.
func (d *Document) Count(kind BlockKind) int {
	n := 0
	for _, b := range d.Blocks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}
