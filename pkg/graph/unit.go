package graph

import (
	"strings"
	"unicode"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/ai"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

const defaultUnitTokens = 800

// processUnit is a span of consecutive prose under one heading path that
// is sent to the model in a single call.
type processUnit struct {
	index   int
	section string
	text    string
	locator common.Locator
}

// table collects the rows of one document table that has a header row.
type table struct {
	ordinal int
	section string
	header  []string
	rows    []loader.Block
}

type unitBuilder struct {
	maxTokens int
	units     []processUnit
	tables    []*table
	byOrdinal map[int]*table

	headings []string
	parts    []string
	tokens   int
	locator  common.Locator
}

// splitDocument groups the prose blocks of doc into token bounded units and
// collects header-led tables for deterministic extraction. Table rows
// without a header are treated as prose.
func splitDocument(doc *loader.Document, maxTokens int) ([]processUnit, []*table) {
	if maxTokens <= 0 {
		maxTokens = defaultUnitTokens
	}
	b := &unitBuilder{maxTokens: maxTokens, byOrdinal: make(map[int]*table)}

	for _, block := range doc.Blocks {
		switch block.Kind {
		case loader.BlockHeading:
			b.flush()
			b.pushHeading(block.Level, strings.TrimSpace(block.Text))
		case loader.BlockTableRow:
			if block.Header {
				b.flush()
				t := &table{ordinal: block.Table, section: b.section(), header: loader.TrimCells(block.Cells)}
				b.byOrdinal[block.Table] = t
				b.tables = append(b.tables, t)
				continue
			}
			if t, ok := b.byOrdinal[block.Table]; ok {
				b.flush()
				t.rows = append(t.rows, block)
				continue
			}
			b.addText(block.Content(), block.Locator)
		default:
			b.addText(block.Text, block.Locator)
		}
	}
	b.flush()
	return b.units, b.tables
}

func (b *unitBuilder) section() string {
	return strings.Join(b.headings, " > ")
}

func (b *unitBuilder) pushHeading(level int, text string) {
	if text == "" {
		return
	}
	if level < 1 {
		level = 1
	}
	if level-1 < len(b.headings) {
		b.headings = b.headings[:level-1]
	}
	b.headings = append(b.headings, text)
}

func (b *unitBuilder) addText(text string, loc common.Locator) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	tokens := ai.CountTokens(text)
	if tokens > b.maxTokens {
		b.flush()
		for _, chunk := range packSentences(splitLineIntoSentences(text), b.maxTokens) {
			b.parts = []string{chunk}
			b.locator = loc
			b.flush()
		}
		return
	}
	if b.tokens+tokens > b.maxTokens {
		b.flush()
	}
	if len(b.parts) == 0 {
		b.locator = loc
	}
	b.parts = append(b.parts, text)
	b.tokens += tokens
}

func (b *unitBuilder) flush() {
	if len(b.parts) == 0 {
		return
	}
	b.units = append(b.units, processUnit{
		index:   len(b.units),
		section: b.section(),
		text:    strings.Join(b.parts, "\n\n"),
		locator: b.locator,
	})
	b.parts = nil
	b.tokens = 0
	b.locator = common.Locator{}
}

// packSentences joins sentences into chunks of at most maxTokens. A single
// sentence longer than the budget becomes its own chunk.
func packSentences(sentences []string, maxTokens int) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0
	for _, s := range sentences {
		t := ai.CountTokens(s)
		if current.Len() > 0 && currentTokens+t > maxTokens {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
		currentTokens += t
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitLineIntoSentences splits on terminal punctuation, keeping closing
// quotes and brackets with their sentence. "3. " style list numbers do not
// end a sentence.
func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])
		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}
		if line[i] == '.' && i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && strings.IndexByte(".!?", line[j]) >= 0 {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && strings.IndexByte("\"')]}", line[j]) >= 0 {
			current.WriteByte(line[j])
			j++
		}

		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
		i = j - 1
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
