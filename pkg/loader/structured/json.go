// Package structured parses JSON and XML. Nested keys become headings,
// scalar leaves become "key: value" paragraphs and arrays of flat records
// become tables. Every block carries the path of its value.
package structured

import (
	"context"
	"errors"
	"strconv"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"

	"github.com/tidwall/gjson"
)

const maxHeadingLevel = 6

// JSONParser implements loader.Parser for JSON documents.
type JSONParser struct{}

func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

func (p *JSONParser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	doc := &loader.Document{}
	if !gjson.ValidBytes(raw) {
		return doc, loader.NewCorruptError(loader.FormatJSON, errors.New("invalid json"))
	}
	w := &jsonWalker{doc: doc}
	w.walk(gjson.ParseBytes(raw), "$", "", 0)
	return doc, nil
}

type jsonWalker struct {
	doc    *loader.Document
	tables int
}

func (w *jsonWalker) walk(v gjson.Result, path, key string, depth int) {
	switch {
	case v.IsObject():
		if key != "" {
			w.doc.Add(loader.Heading(headingLevel(depth), key, common.Locator{Path: path}))
		}
		v.ForEach(func(k, child gjson.Result) bool {
			w.walk(child, path+"."+k.String(), k.String(), depth+1)
			return true
		})
	case v.IsArray():
		items := v.Array()
		if header, ok := jsonRecordHeader(items); ok {
			if key != "" {
				w.doc.Add(loader.Heading(headingLevel(depth), key, common.Locator{Path: path}))
			}
			w.table(items, header, path)
			return
		}
		for i, item := range items {
			w.walk(item, formatIndex(path, i), key, depth)
		}
	case v.Type == gjson.Null:
	default:
		text := v.String()
		if key != "" {
			text = key + ": " + text
		}
		w.doc.Add(loader.Paragraph(text, common.Locator{Path: path}))
	}
}

func (w *jsonWalker) table(items []gjson.Result, header []string, path string) {
	table := w.tables
	w.tables++
	w.doc.Add(loader.TableRow(table, header, true, common.Locator{Path: path, Row: 1}))
	for i, item := range items {
		cells := make([]string, len(header))
		for j, h := range header {
			if c := item.Get(gjson.Escape(h)); c.Exists() && c.Type != gjson.Null {
				cells[j] = c.String()
			}
		}
		w.doc.Add(loader.TableRow(table, cells, false, common.Locator{Path: formatIndex(path, i), Row: i + 2}))
	}
}

// jsonRecordHeader returns the union of keys, in first-seen order, when
// every item is an object with scalar values only.
func jsonRecordHeader(items []gjson.Result) ([]string, bool) {
	if len(items) < 2 {
		return nil, false
	}
	var header []string
	seen := make(map[string]bool)
	for _, item := range items {
		if !item.IsObject() {
			return nil, false
		}
		flat := true
		item.ForEach(func(k, v gjson.Result) bool {
			if v.IsObject() || v.IsArray() {
				flat = false
				return false
			}
			if !seen[k.String()] {
				seen[k.String()] = true
				header = append(header, k.String())
			}
			return true
		})
		if !flat {
			return nil, false
		}
	}
	return header, len(header) > 0
}

func headingLevel(depth int) int {
	return min(max(depth, 1), maxHeadingLevel)
}

func formatIndex(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
