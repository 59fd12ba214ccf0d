package pdf

import (
	"math"
	"slices"
	"strings"

	"github.com/ansonTGN/LaMuralla-AI-Test/internal/util"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/common"
	"github.com/ansonTGN/LaMuralla-AI-Test/pkg/loader"
)

const (
	headingSizeRatio = 1.15
	headingMaxRunes  = 120
	maxHeadingLevels = 6
	paragraphGap     = 1.6
)

// layoutPage turns the visual lines of one page into blocks. Lines are
// expected top to bottom. Without font sizes every line is body text and a
// blank line separates paragraphs.
func layoutPage(page int, lines []line) []loader.Block {
	body := bodySize(lines)
	levels := headingLevels(lines, body)
	gap := typicalGap(lines)

	var blocks []loader.Block
	var para []string
	paraLine := 0
	flush := func() {
		if len(para) == 0 {
			return
		}
		text := util.CollapseWhitespace(joinLines(para))
		blocks = append(blocks, loader.Paragraph(text, common.Locator{Page: page, Line: paraLine}))
		para = nil
	}

	for i, l := range lines {
		text := strings.TrimSpace(l.text)
		if text == "" {
			flush()
			continue
		}
		if lvl, ok := levels[l.size]; ok && len([]rune(text)) <= headingMaxRunes {
			flush()
			blocks = append(blocks, loader.Heading(lvl, util.CollapseWhitespace(text), common.Locator{Page: page, Line: i + 1}))
			continue
		}
		if len(para) > 0 && gap > 0 && i > 0 && lines[i-1].y-l.y > gap*paragraphGap {
			flush()
		}
		if len(para) == 0 {
			paraLine = i + 1
		}
		para = append(para, text)
	}
	flush()
	return blocks
}

// joinLines merges wrapped lines, rejoining words hyphenated at line end.
func joinLines(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			prev := lines[i-1]
			if strings.HasSuffix(prev, "-") && len(prev) > 1 {
				s := b.String()
				b.Reset()
				b.WriteString(strings.TrimSuffix(s, "-"))
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(l)
	}
	return b.String()
}

// bodySize returns the font size carrying the most characters.
func bodySize(lines []line) float64 {
	weight := make(map[float64]int)
	for _, l := range lines {
		if l.size > 0 {
			weight[l.size] += len(l.text)
		}
	}
	best, bestW := 0.0, 0
	for size, w := range weight {
		if w > bestW || (w == bestW && size < best) {
			best, bestW = size, w
		}
	}
	return best
}

// headingLevels ranks the font sizes clearly larger than the body size.
func headingLevels(lines []line, body float64) map[float64]int {
	if body <= 0 {
		return nil
	}
	var sizes []float64
	for _, l := range lines {
		if l.size >= body*headingSizeRatio && !slices.Contains(sizes, l.size) {
			sizes = append(sizes, l.size)
		}
	}
	slices.SortFunc(sizes, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		}
		return 0
	})
	levels := make(map[float64]int, len(sizes))
	for i, s := range sizes {
		levels[s] = min(i+1, maxHeadingLevels)
	}
	return levels
}

// typicalGap is the median vertical distance between consecutive lines.
func typicalGap(lines []line) float64 {
	var gaps []float64
	for i := 1; i < len(lines); i++ {
		if g := lines[i-1].y - lines[i].y; g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	slices.Sort(gaps)
	mid := gaps[len(gaps)/2]
	if math.IsNaN(mid) {
		return 0
	}
	return mid
}
