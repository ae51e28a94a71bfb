package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disablePdfcpuConfig sync.Once

type pdfInfo struct {
	Pages     int
	HasImages bool
}

// inspectPDF validates the document structure with pdfcpu in relaxed mode.
func inspectPDF(data []byte) (info pdfInfo, err error) {
	disablePdfcpuConfig.Do(api.DisableConfigDir)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return pdfInfo{}, fmt.Errorf("pdfcpu read: %w", err)
	}
	info.Pages = ctx.PageCount
	if ctx.Optimize == nil {
		return info, nil
	}
	for pageNr := 1; pageNr <= ctx.PageCount && !info.HasImages; pageNr++ {
		info.HasImages = len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0
	}
	return info, nil
}

// pdfText pulls the native text layer with ledongthuc/pdf. The parser panics
// on some malformed inputs; those surface as errors.
func pdfText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	pages = reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", pages, fmt.Errorf("read page %d: %w", i, err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return sb.String(), pages, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
		return Result{}, fail(KindCorruptInput, FormatPDF, errors.New("missing %PDF header"))
	}
	info, inspectErr := inspectPDF(data)
	raw, pages, err := pdfText(data)
	if err != nil {
		if inspectErr != nil {
			err = errors.Join(inspectErr, err)
		}
		return Result{}, fail(KindCorruptInput, FormatPDF, err)
	}
	if inspectErr != nil {
		e.logger.Debug("pdf structure check failed, using parser result", "error", inspectErr)
	} else if info.Pages > 0 {
		pages = info.Pages
	}

	if text := normalizeText(raw); text != "" {
		return Result{Format: FormatPDF, Text: text, Pages: pages, Method: "pdf-text"}, nil
	}

	e.logger.Info("pdf has no text layer, falling back to ocr", "pages", pages, "has_images", info.HasImages)
	text, err := e.ocrPDF(ctx, data)
	if err != nil {
		return Result{}, err
	}
	return Result{Format: FormatPDF, Text: text, Pages: pages, Method: "pdf-ocr"}, nil
}

func (e *Extractor) ocrPDF(ctx context.Context, data []byte) (string, error) {
	if err := e.ocr.Available(); err != nil {
		return "", fail(KindOCRUnavailable, FormatPDF, err)
	}
	dir, err := os.MkdirTemp(e.tempDir, "ocr-pdf-*")
	if err != nil {
		return "", fail(KindOCRFailed, FormatPDF, err)
	}
	defer os.RemoveAll(dir)

	images, err := e.rasterizer.Rasterize(ctx, data, dir, e.maxOCRPages)
	if err != nil {
		return "", fail(KindOCRFailed, FormatPDF, err)
	}
	parts := make([]string, 0, len(images))
	for _, img := range images {
		text, err := e.ocr.Recognize(ctx, img)
		if err != nil {
			return "", ocrFailure(FormatPDF, err)
		}
		if text = normalizeText(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func ocrFailure(format Format, err error) *Error {
	if errors.Is(err, ErrOCRUnavailable) {
		return fail(KindOCRUnavailable, format, err)
	}
	return fail(KindOCRFailed, format, err)
}
