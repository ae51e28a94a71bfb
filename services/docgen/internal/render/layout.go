package render

import (
	"regexp"
	"strings"
	"unicode"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockMajorHeading
	blockSectionHeading
	blockSubHeading
	blockListItem
	blockTable
)

type block struct {
	kind blockKind
	text string
	rows [][]string
}

var (
	subsectionLine = regexp.MustCompile(`^\d+\.\s+\w`)
	tableSeparator = regexp.MustCompile(`^\|?[\s\-:|]+\|?$`)
)

// parseBlocks splits cleaned text into layout blocks: ALL CAPS major
// headings, "Heading:" section headings, "1. Item" subsections, bullet items,
// pipe tables and paragraphs of joined lines.
func parseBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	for i := 0; i < len(lines); {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			i++
		case isTableLine(line):
			rows, next := collectTable(lines, i)
			i = next
			if len(rows) >= 2 {
				blocks = append(blocks, block{kind: blockTable, rows: rows})
			} else if len(rows) == 1 {
				blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(rows[0], " ")})
			}
		case isMajorHeading(line):
			blocks = append(blocks, block{kind: blockMajorHeading, text: line})
			i++
		case isSectionHeading(line):
			blocks = append(blocks, block{kind: blockSectionHeading, text: line})
			i++
		case subsectionLine.MatchString(line) && !strings.HasSuffix(line, "."):
			blocks = append(blocks, block{kind: blockSubHeading, text: line})
			i++
		case isListItem(line):
			blocks = append(blocks, block{kind: blockListItem, text: listText(line)})
			i++
		default:
			para := []string{line}
			i++
			for i < len(lines) {
				next := strings.TrimSpace(lines[i])
				if next == "" || startsBlock(next) {
					break
				}
				para = append(para, next)
				i++
			}
			blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(para, " ")})
		}
	}
	return blocks
}

func startsBlock(line string) bool {
	return isTableLine(line) || isMajorHeading(line) || isSectionHeading(line) ||
		subsectionLine.MatchString(line) || isListItem(line)
}

func isTableLine(line string) bool {
	return strings.Count(line, "|") >= 2 && len(line) > 5
}

func collectTable(lines []string, i int) ([][]string, int) {
	var rows [][]string
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if !isTableLine(line) {
			break
		}
		i++
		if tableSeparator.MatchString(line) {
			continue
		}
		var cells []string
		for _, c := range strings.Split(line, "|") {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) >= 2 {
			rows = append(rows, cells)
		}
	}
	return normalizeRows(rows), i
}

// normalizeRows pads or trims every row to the header's column count.
func normalizeRows(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	cols := len(rows[0])
	for r := range rows {
		switch {
		case len(rows[r]) > cols:
			tail := strings.Join(rows[r][cols-1:], " ")
			rows[r] = append(rows[r][:cols-1], tail)
		case len(rows[r]) < cols:
			rows[r] = append(rows[r], make([]string, cols-len(rows[r]))...)
		}
	}
	return rows
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isMajorHeading(line string) bool {
	return isUpper(line) && len(line) > 5 && len(line) < 80 &&
		!strings.HasSuffix(line, ".") && !strings.HasSuffix(line, ":") &&
		!isListItem(line) && strings.Contains(line, " ")
}

func isSectionHeading(line string) bool {
	return strings.HasSuffix(line, ":") && len(line) > 3 && len(line) < 100 &&
		!isListItem(line) && !isUpper(line)
}

var bulletPrefixes = []string{"- ", "• ", "* "}

func isListItem(line string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return len(line) > 2 && line[0] >= '0' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') && line[2] == ' '
}

// listText normalizes bullet markers to a single bullet glyph and keeps
// numbering as written.
func listText(line string) string {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return "• " + strings.TrimSpace(line[len(p):])
		}
	}
	return line
}
