// Package csv parses delimited text (CSV, TSV, semicolon separated) into
// table rows, keeping the row and column adjacency of the source.
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

// Parser implements loader.Parser for delimited text.
type Parser struct {
	// Comma forces a delimiter; zero sniffs it from the first lines.
	Comma rune
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(_ context.Context, raw []byte) (*loader.Document, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	comma := p.Comma
	if comma == 0 {
		comma = SniffDelimiter(raw)
	}

	records, bad, err := ReadRecords(raw, comma)
	doc := &loader.Document{}
	doc.SetMeta("delimiter", string(comma))

	if len(records) > 0 {
		cells := make([][]string, 0, len(records))
		for _, r := range records {
			cells = append(cells, r.Cells)
		}
		header := loader.LooksLikeHeader(cells[0], cells[1:])
		for i, r := range records {
			doc.Add(loader.TableRow(0, r.Cells, header && i == 0, common.Locator{Row: i + 1, Line: r.Line}))
		}
	}
	if bad > 0 {
		doc.Warn("skipped %d malformed records", bad)
	}
	if err != nil {
		return doc, loader.NewCorruptError(loader.FormatCSV, err)
	}
	return doc, nil
}

// Record is one non-empty row with the line it started on.
type Record struct {
	Cells []string
	Line  int
}

// ReadRecords reads every non-empty record. Malformed records are skipped
// and counted; a non-parse read error stops reading and is returned.
func ReadRecords(content []byte, comma rune) ([]Record, int, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records []Record
	bad := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				bad++
				continue
			}
			return records, bad, fmt.Errorf("read csv: %w", err)
		}

		cells := loader.TrimCells(record)
		if len(cells) == 0 {
			continue
		}
		line, _ := reader.FieldPos(0)
		records = append(records, Record{Cells: cells, Line: line})
	}
	return records, bad, nil
}

// SniffDelimiter picks the delimiter with the most consistent non-zero count
// over the first lines. Comma wins ties.
func SniffDelimiter(content []byte) rune {
	head := string(content[:min(len(content), 8192)])
	lines := strings.Split(strings.ReplaceAll(head, "\r\n", "\n"), "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}

	best, bestScore := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		want := -1
		score := 0
		for _, l := range lines {
			if strings.TrimSpace(l) == "" {
				continue
			}
			n := strings.Count(l, string(d))
			if want < 0 {
				want = n
			}
			if n == 0 || n != want {
				score = 0
				break
			}
			score += n
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}
