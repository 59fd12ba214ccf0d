package loader

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Detect sniffs the format of raw from magic bytes and content. It returns
// an empty Format when nothing matches.
func Detect(raw []byte) Format {
	if len(raw) == 0 {
		return ""
	}
	if isPDF(raw) {
		return FormatPDF
	}
	if isZip(raw) {
		return detectOpenXML(raw)
	}
	if !utf8.Valid(raw[:min(len(raw), 4096)]) {
		return ""
	}

	truncated := len(raw) > 2048
	head := strings.TrimSpace(string(bytes.TrimPrefix(raw[:min(len(raw), 2048)], []byte("\xef\xbb\xbf"))))
	lower := strings.ToLower(head)
	switch {
	case (strings.HasPrefix(head, "{") || strings.HasPrefix(head, "[")) && json.Valid(bytes.TrimSpace(raw)):
		return FormatJSON
	case looksLikeHTML(lower):
		return FormatHTML
	case strings.HasPrefix(lower, "<?xml") || strings.HasPrefix(head, "<"):
		return FormatXML
	case looksLikeDelimited(head, truncated):
		return FormatCSV
	}
	return FormatMarkdown
}

func isPDF(b []byte) bool {
	return bytes.HasPrefix(b, []byte("%PDF-"))
}

func isZip(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04"))
}

func detectOpenXML(raw []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return FormatDOCX
		case f.Name == "xl/workbook.xml":
			return FormatSpreadsheet
		}
	}
	return ""
}

func looksLikeHTML(lower string) bool {
	for _, marker := range []string{"<!doctype html", "<html", "<head", "<body"} {
		if strings.HasPrefix(lower, marker) || strings.Contains(lower, marker) && strings.HasPrefix(lower, "<") {
			return true
		}
	}
	return false
}

// looksLikeDelimited accepts at least two lines sharing the same non-zero
// count of one delimiter. The last line of a truncated head is ignored.
func looksLikeDelimited(head string, truncated bool) bool {
	lines := strings.Split(strings.ReplaceAll(head, "\r\n", "\n"), "\n")
	if truncated && len(lines) > 2 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return false
	}
	if strings.HasPrefix(lines[0], "#") || strings.HasPrefix(lines[0], "|") {
		return false
	}
	for _, delim := range []string{",", ";", "\t"} {
		want := strings.Count(lines[0], delim)
		if want == 0 {
			continue
		}
		ok := true
		for _, l := range lines[1:] {
			if strings.TrimSpace(l) == "" {
				continue
			}
			if strings.Count(l, delim) != want {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
