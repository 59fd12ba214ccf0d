package loader

import (
	"strconv"
	"strings"
)

var headerPatterns = []string{
	"id", "name", "date", "time", "type", "status", "description", "value",
	"amount", "count", "total", "email", "phone", "manager", "owner", "title",
	"company", "organization", "department", "city", "country", "role",
}

// LooksLikeHeader decides whether first names the columns of rows.
func LooksLikeHeader(first []string, rows [][]string) bool {
	if len(first) == 0 {
		return false
	}

	firstNumeric := 0
	for _, field := range first {
		field = strings.TrimSpace(field)
		if field == "" {
			return false
		}
		if isNumber(field) {
			firstNumeric++
		}
	}
	if firstNumeric == len(first) {
		return false
	}

	sample := rows[:min(5, len(rows))]
	dataNumeric, dataTotal := 0, 0
	for _, row := range sample {
		for _, field := range row {
			dataTotal++
			if isNumber(strings.TrimSpace(field)) {
				dataNumeric++
			}
		}
	}

	firstRatio := float64(firstNumeric) / float64(len(first))
	dataRatio := 0.0
	if dataTotal > 0 {
		dataRatio = float64(dataNumeric) / float64(dataTotal)
	}
	if firstRatio < 0.3 && dataRatio > firstRatio+0.2 {
		return true
	}

	for _, field := range first {
		lower := strings.ToLower(strings.TrimSpace(field))
		for _, pattern := range headerPatterns {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}

	// Distinct labels that never reappear as values are treated as a header.
	seen := make(map[string]bool, len(first))
	for _, field := range first {
		key := strings.ToLower(strings.TrimSpace(field))
		if seen[key] {
			return false
		}
		seen[key] = true
	}
	for _, row := range sample {
		for _, field := range row {
			if seen[strings.ToLower(strings.TrimSpace(field))] {
				return false
			}
		}
	}
	return len(rows) > 0
}

func isNumber(s string) bool {
	s = strings.ReplaceAll(s, ",", "")
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// TrimCells trims every cell and drops trailing empty cells.
func TrimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
