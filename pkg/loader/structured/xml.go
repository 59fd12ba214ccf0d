package structured

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// XMLParser implements loader.Parser for XML documents.
type XMLParser struct{}

func NewXMLParser() *XMLParser {
	return &XMLParser{}
}

type element struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*element
	line     int
}

func (e *element) leaf() bool {
	return len(e.children) == 0
}

// fields returns the attributes and leaf children of a record-like element.
func (e *element) fields() ([]string, []string, bool) {
	var keys, values []string
	for _, a := range e.attrs {
		keys = append(keys, "@"+a.Name.Local)
		values = append(values, a.Value)
	}
	for _, c := range e.children {
		if !c.leaf() || len(c.attrs) > 0 {
			return nil, nil, false
		}
		keys = append(keys, c.name)
		values = append(values, strings.TrimSpace(c.text.String()))
	}
	return keys, values, len(keys) > 0
}

func (p *XMLParser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	root, err := buildTree(raw)
	doc := &loader.Document{}
	if root != nil {
		w := &xmlWalker{doc: doc}
		w.walk(root, "/"+root.name, 0)
	}
	if err != nil {
		return doc, loader.NewCorruptError(loader.FormatXML, err)
	}
	return doc, nil
}

// buildTree decodes raw into an element tree. On a syntax error the tree
// read so far is returned with the error.
func buildTree(raw []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false

	var root *element
	var stack []*element
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return root, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			el := &element{name: t.Name.Local, attrs: t.Attr, line: line}
			if len(stack) == 0 {
				if root != nil {
					return root, errors.New("multiple root elements")
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

type xmlWalker struct {
	doc    *loader.Document
	tables int
}

func (w *xmlWalker) walk(e *element, path string, depth int) {
	loc := common.Locator{Path: path, Line: e.line}
	if e.leaf() {
		text := strings.Join(strings.Fields(e.text.String()), " ")
		for _, a := range e.attrs {
			w.doc.Add(loader.Paragraph(e.name+"@"+a.Name.Local+": "+a.Value, loc))
		}
		if text != "" {
			w.doc.Add(loader.Paragraph(e.name+": "+text, loc))
		}
		return
	}

	if depth > 0 {
		w.doc.Add(loader.Heading(headingLevel(depth), e.name, loc))
	}
	for _, a := range e.attrs {
		w.doc.Add(loader.Paragraph("@"+a.Name.Local+": "+a.Value, loc))
	}
	if text := strings.Join(strings.Fields(e.text.String()), " "); text != "" {
		w.doc.Add(loader.Paragraph(text, loc))
	}

	counts := make(map[string]int)
	for _, c := range e.children {
		counts[c.name]++
	}
	done := make(map[string]bool)
	indexes := make(map[string]int)
	for _, c := range e.children {
		if done[c.name] {
			continue
		}
		if counts[c.name] > 1 {
			if siblings := childrenNamed(e, c.name); w.table(siblings, path+"/"+c.name) {
				done[c.name] = true
				continue
			}
		}
		childPath := path + "/" + c.name
		if counts[c.name] > 1 {
			childPath = formatIndex(childPath, indexes[c.name])
			indexes[c.name]++
		}
		w.walk(c, childPath, depth+1)
	}
}

func childrenNamed(e *element, name string) []*element {
	var out []*element
	for _, c := range e.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// table emits repeated record elements as table rows. It reports false when
// the siblings are not flat records.
func (w *xmlWalker) table(siblings []*element, path string) bool {
	var header []string
	seen := make(map[string]int)
	rows := make([]map[string]string, 0, len(siblings))
	for _, s := range siblings {
		if s.leaf() && len(s.attrs) == 0 {
			return false
		}
		keys, values, ok := s.fields()
		if !ok {
			return false
		}
		row := make(map[string]string, len(keys))
		for i, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = len(header)
				header = append(header, k)
			}
			row[k] = values[i]
		}
		rows = append(rows, row)
	}

	table := w.tables
	w.tables++
	w.doc.Add(loader.TableRow(table, header, true, common.Locator{Path: path, Row: 1, Line: siblings[0].line}))
	for i, row := range rows {
		cells := make([]string, len(header))
		for k, v := range row {
			cells[seen[k]] = v
		}
		loc := common.Locator{Path: formatIndex(path, i), Row: i + 2, Line: siblings[i].line}
		w.doc.Add(loader.TableRow(table, cells, false, loc))
	}
	return true
}
