package graph

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
)

// Cells longer than this are descriptive text rather than entity names.
const maxNameRunes = 80

var keyColumnPatterns = []string{"name", "nombre", "full name", "title", "entity"}

// columnTypes maps header keywords to the type of the entities a column
// holds. The first matching keyword wins, so more specific words come first.
var columnTypes = []struct {
	keyword string
	typ     common.EntityType
}{
	{"manager", common.TypePerson},
	{"supervisor", common.TypePerson},
	{"employee", common.TypePerson},
	{"person", common.TypePerson},
	{"author", common.TypePerson},
	{"owner", common.TypePerson},
	{"signatory", common.TypePerson},
	{"contact", common.TypePerson},
	{"lead", common.TypePerson},
	{"reports", common.TypePerson},
	{"company", common.TypeOrganization},
	{"organization", common.TypeOrganization},
	{"organisation", common.TypeOrganization},
	{"department", common.TypeOrganization},
	{"team", common.TypeOrganization},
	{"client", common.TypeOrganization},
	{"customer", common.TypeOrganization},
	{"supplier", common.TypeOrganization},
	{"vendor", common.TypeOrganization},
	{"employer", common.TypeOrganization},
	{"city", common.TypeLocation},
	{"country", common.TypeLocation},
	{"location", common.TypeLocation},
	{"office", common.TypeLocation},
	{"region", common.TypeLocation},
	{"address", common.TypeLocation},
	{"contract", common.TypeDocument},
	{"document", common.TypeDocument},
	{"report", common.TypeDocument},
	{"file", common.TypeDocument},
	{"topic", common.TypeConcept},
	{"category", common.TypeConcept},
	{"skill", common.TypeConcept},
	{"project", common.TypeConcept},
	{"product", common.TypeConcept},
}

// attributeColumnPatterns name columns whose values describe the row's key
// entity instead of naming another entity.
var attributeColumnPatterns = []string{
	"id", "date", "time", "year", "age", "amount", "price", "cost", "salary",
	"total", "count", "number", "email", "phone", "url", "status",
	"description", "notes", "comment", "summary", "value",
}

type columnKind int

const (
	columnEntity columnKind = iota
	columnAttribute
)

type column struct {
	header string
	kind   columnKind
	typ    common.EntityType
}

func headerWords(header string) []string {
	return strings.FieldsFunc(strings.ToLower(header), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.' || r == '/'
	})
}

func matchesWord(header string, patterns []string) bool {
	lower := strings.ToLower(strings.TrimSpace(header))
	words := headerWords(header)
	for _, p := range patterns {
		if lower == p {
			return true
		}
		for _, w := range words {
			if w == p || strings.TrimSuffix(w, "s") == p {
				return true
			}
		}
	}
	return false
}

func columnType(header string) (common.EntityType, bool) {
	for _, w := range headerWords(header) {
		for _, ct := range columnTypes {
			if w == ct.keyword || strings.HasPrefix(w, ct.keyword) {
				return ct.typ, true
			}
		}
	}
	return common.TypeOther, false
}

// keyColumn returns the index of the column naming the row's subject: the
// first name-like header, else the first column.
func keyColumn(header []string) int {
	for i, h := range header {
		if matchesWord(h, keyColumnPatterns) {
			return i
		}
	}
	return 0
}

func classifyColumns(header []string, key int) []column {
	cols := make([]column, len(header))
	hasPerson := false
	for i, h := range header {
		typ, known := columnType(h)
		kind := columnEntity
		if !known && matchesWord(h, attributeColumnPatterns) {
			kind = columnAttribute
		}
		cols[i] = column{header: strings.TrimSpace(h), kind: kind, typ: typ}
		if i != key && known && typ == common.TypePerson {
			hasPerson = true
		}
	}
	// A generic "Name" column next to person columns (manager, reports to)
	// lists people.
	if cols[key].typ == common.TypeOther && hasPerson && matchesWord(header[key], keyColumnPatterns) {
		cols[key].typ = common.TypePerson
	}
	cols[key].kind = columnEntity
	return cols
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£¥+-")
	s = strings.TrimRight(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isEntityValue(s string) bool {
	return s != "" && !isNumeric(s) && utf8.RuneCountInString(s) <= maxNameRunes
}

// extractTable turns header-led table rows into entities and explicit
// relationships. Each row yields an entity for its key column and an edge
// to the value of every other entity column, with the column header as the
// relationship kind. Attribute columns, numbers and long text describe the
// key entity. Every row is also kept as a fragment mentioning its entities.
func extractTable(sourceID string, t *table) *Extraction {
	out := &Extraction{SourceID: sourceID}
	if len(t.header) == 0 {
		return out
	}
	key := keyColumn(t.header)
	cols := classifyColumns(t.header, key)

	for _, row := range t.rows {
		cells := row.Cells
		if key >= len(cells) {
			continue
		}
		name := strings.TrimSpace(cells[key])
		if !isEntityValue(name) {
			continue
		}
		prov := common.Provenance{SourceID: sourceID, Locator: row.Locator}
		subject := common.NewEntity(name, cols[key].typ, prov)
		mentions := []string{subject.ID}

		var attrs, record []string
		for i, cell := range cells {
			if i >= len(cols) {
				break
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			record = append(record, cols[i].header+": "+cell)
			if i == key {
				continue
			}
			if cols[i].kind == columnAttribute || !isEntityValue(cell) {
				attrs = append(attrs, cols[i].header+": "+cell)
				continue
			}
			object := common.NewEntity(cell, cols[i].typ, prov)
			if object.ID == subject.ID {
				continue
			}
			out.Entities = append(out.Entities, object)
			out.Relationships = append(out.Relationships,
				common.NewRelationship(subject.ID, object.ID, cols[i].header, 1.0, common.OriginExplicit, prov))
			mentions = append(mentions, object.ID)
		}
		subject.Description = strings.Join(attrs, "; ")
		out.Entities = append(out.Entities, subject)

		frag := common.NewFragment(sourceID, row.Locator, strings.Join(record, "; "))
		frag.Mentions = common.MergeMentions(nil, mentions)
		out.Fragments = append(out.Fragments, frag)
	}
	return out
}
