package extract

import (
	"path/filepath"
	"strings"
)

// Format is the declared document format, derived from the file extension.
type Format string

const (
	FormatUnknown  Format = ""
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatPNG      Format = "png"
	FormatJPEG     Format = "jpeg"
	FormatBMP      Format = "bmp"
	FormatTIFF     Format = "tiff"
)

var extensions = map[string]Format{
	".txt":  FormatText,
	".md":   FormatMarkdown,
	".docx": FormatDOCX,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".pdf":  FormatPDF,
	".png":  FormatPNG,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
}

// FormatOf maps a filename to its declared format.
func FormatOf(filename string) Format {
	return extensions[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]
}

// IsImage reports whether the format goes straight to OCR.
func (f Format) IsImage() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatBMP, FormatTIFF:
		return true
	}
	return false
}

// SupportedExtensions lists accepted extensions in a stable order.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".md", ".html", ".htm", ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}
}
