package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxDocumentXML = 64 << 20

// extractDOCX reads word/document.xml and returns one line per paragraph.
// Table cells are paragraphs too; cells in a row are joined with " | ". A
// nested table's rows are emitted before the row that contains them.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("word/document.xml not found in archive")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(io.LimitReader(rc, maxDocumentXML))
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	// rows holds the cells of every open <w:tr>, innermost last.
	var rows [][]string
	flushLine := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" {
			return
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tr":
				rows = append(rows, nil)
			case "p":
				para.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if n := len(rows); n > 0 {
					rows[n-1] = append(rows[n-1], strings.TrimSpace(para.String()))
				} else {
					flushLine(para.String())
				}
				para.Reset()
			case "tr":
				if n := len(rows); n > 0 {
					flushLine(joinCells(rows[n-1]))
					rows = rows[:n-1]
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return out.String(), nil
}

// joinCells drops empty cells and separates the rest with pipes.
func joinCells(cells []string) string {
	nonEmpty := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	return strings.Join(nonEmpty, " | ")
}
