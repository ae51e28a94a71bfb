package extract

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer renders PDF pages to image files for OCR.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, dir string, maxPages int) ([]string, error)
}

// FitzRasterizer renders pages with MuPDF via go-fitz.
type FitzRasterizer struct {
	DPI float64
}

// Rasterize writes page-0001.png, page-0002.png ... into dir.
func (f FitzRasterizer) Rasterize(ctx context.Context, pdf []byte, dir string, maxPages int) ([]string, error) {
	dpi := f.DPI
	if dpi <= 0 {
		dpi = 200
	}
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("open pdf for rendering: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}
	paths := make([]string, 0, pages)
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return paths, err
		}
		img, err := doc.ImageDPI(n, dpi)
		if err != nil {
			return paths, fmt.Errorf("render page %d: %w", n+1, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("page-%04d.png", n+1))
		out, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create page image: %w", err)
		}
		if err := png.Encode(out, img); err != nil {
			out.Close()
			return paths, fmt.Errorf("encode page %d: %w", n+1, err)
		}
		if err := out.Close(); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
