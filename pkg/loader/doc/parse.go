// Package doc parses Office Open XML word processing documents (.docx).
package doc

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

const docXMLMax = 50 << 20

var reHeadingStyle = regexp.MustCompile(`(?i)^heading\s?(\d)$`)

// Parser implements loader.Parser for DOCX. Paragraph locators carry the
// 1-based paragraph ordinal in Line since the format has no fixed pages.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, loader.NewCorruptError(loader.FormatDOCX, fmt.Errorf("failed to open docx: %w", err))
	}

	doc := &loader.Document{}
	var docFile *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			docFile = f
		case "docProps/core.xml":
			readCoreProps(f, doc)
		}
	}
	if docFile == nil {
		return nil, loader.NewCorruptError(loader.FormatDOCX, errors.New("document.xml not found in docx"))
	}
	if docFile.UncompressedSize64 > docXMLMax {
		return nil, loader.NewCorruptError(loader.FormatDOCX, fmt.Errorf("document.xml too large: %d bytes", docFile.UncompressedSize64))
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, loader.NewCorruptError(loader.FormatDOCX, fmt.Errorf("failed to open document.xml: %w", err))
	}
	defer rc.Close()

	if err := walkBody(xml.NewDecoder(io.LimitReader(rc, docXMLMax)), doc); err != nil {
		return doc, loader.NewCorruptError(loader.FormatDOCX, err)
	}
	return doc, nil
}

type bodyState struct {
	doc *loader.Document

	inText   bool
	delDepth int
	para     strings.Builder
	style    string
	outline  int
	paraNum  int

	tblDepth   int
	tables     int
	rows       [][]string
	rowHeader  []bool
	cells      []string
	cell       strings.Builder
	tableStart int
	headerRow  bool
}

func walkBody(dec *xml.Decoder, doc *loader.Document) error {
	st := &bodyState{doc: doc, outline: -1}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			st.start(t)
		case xml.EndElement:
			st.end(t)
		case xml.CharData:
			if st.delDepth != 0 || !st.inText {
				continue
			}
			st.para.Write(t)
		}
	}
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (st *bodyState) start(t xml.StartElement) {
	switch t.Name.Local {
	case "del":
		st.delDepth++
	case "t":
		st.inText = true
	case "tab":
		if st.delDepth == 0 {
			st.para.WriteByte('\t')
		}
	case "br", "cr":
		if st.delDepth == 0 {
			st.para.WriteByte('\n')
		}
	case "noBreakHyphen":
		if st.delDepth == 0 {
			st.para.WriteByte('-')
		}
	case "p":
		st.para.Reset()
		st.style = ""
		st.outline = -1
	case "pStyle":
		st.style = attr(t, "val")
	case "outlineLvl":
		if n, err := strconv.Atoi(attr(t, "val")); err == nil {
			st.outline = n
		}
	case "tbl":
		st.tblDepth++
		if st.tblDepth == 1 {
			st.tables++
			st.rows = nil
			st.rowHeader = nil
			st.tableStart = st.paraNum + 1
		}
	case "tr":
		if st.tblDepth == 1 {
			st.cells = nil
			st.headerRow = false
		}
	case "tblHeader":
		if st.tblDepth == 1 && attr(t, "val") != "0" && attr(t, "val") != "false" {
			st.headerRow = true
		}
	case "tc":
		if st.tblDepth == 1 {
			st.cell.Reset()
		}
	}
}

func (st *bodyState) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		st.inText = false
	case "del":
		if st.delDepth > 0 {
			st.delDepth--
		}
	case "p":
		text := util.CollapseWhitespace(st.para.String())
		st.para.Reset()
		if st.tblDepth > 0 {
			if text != "" {
				if st.cell.Len() > 0 {
					st.cell.WriteByte(' ')
				}
				st.cell.WriteString(text)
			}
			return
		}
		if text == "" {
			return
		}
		st.paraNum++
		loc := common.Locator{Line: st.paraNum}
		if level := st.headingLevel(); level > 0 {
			st.doc.Add(loader.Heading(level, text, loc))
		} else {
			st.doc.Add(loader.Paragraph(text, loc))
		}
	case "tc":
		if st.tblDepth == 1 {
			st.cells = append(st.cells, strings.TrimSpace(st.cell.String()))
		}
	case "tr":
		if st.tblDepth == 1 {
			if cells := loader.TrimCells(st.cells); len(cells) > 0 {
				st.rows = append(st.rows, cells)
				st.rowHeader = append(st.rowHeader, st.headerRow)
			}
		}
	case "tbl":
		if st.tblDepth == 1 {
			st.flushTable()
		}
		if st.tblDepth > 0 {
			st.tblDepth--
		}
	}
}

func (st *bodyState) headingLevel() int {
	if st.style == "Title" {
		return 1
	}
	if m := reHeadingStyle.FindStringSubmatch(st.style); m != nil {
		n, _ := strconv.Atoi(m[1])
		return max(n, 1)
	}
	if st.outline >= 0 && st.outline < 9 {
		return st.outline + 1
	}
	return 0
}

func (st *bodyState) flushTable() {
	if len(st.rows) == 0 {
		return
	}
	header := st.rowHeader[0] || loader.LooksLikeHeader(st.rows[0], st.rows[1:])
	for i, row := range st.rows {
		st.doc.Add(loader.TableRow(st.tables-1, row, header && i == 0, common.Locator{Row: i + 1, Line: st.tableStart}))
	}
	st.rows = nil
	st.rowHeader = nil
}

type coreProps struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
	Subject string `xml:"subject"`
}

func readCoreProps(f *zip.File, doc *loader.Document) {
	rc, err := f.Open()
	if err != nil {
		doc.Warn("core properties unreadable: %v", err)
		return
	}
	defer rc.Close()
	var props coreProps
	if err := xml.NewDecoder(io.LimitReader(rc, 1<<20)).Decode(&props); err != nil {
		doc.Warn("core properties unreadable: %v", err)
		return
	}
	doc.SetMeta("title", props.Title)
	doc.SetMeta("author", props.Creator)
	doc.SetMeta("subject", props.Subject)
}
