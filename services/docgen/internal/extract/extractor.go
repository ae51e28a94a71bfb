package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"docgen/pkg/domain"
)

// Result is the text recovered from one file.
type Result struct {
	Format Format
	Text   string
	Chars  int
	Pages  int
	Method string
}

// Config wires the extractor's collaborators. Zero values pick tesseract,
// go-fitz, the OS temp dir and a concurrency of four.
type Config struct {
	OCR         OCR
	Rasterizer  Rasterizer
	TempDir     string
	MaxOCRPages int
	Concurrency int
	Logger      *slog.Logger
}

// Extractor turns uploaded files into text, dispatching on declared format.
type Extractor struct {
	ocr         OCR
	rasterizer  Rasterizer
	tempDir     string
	maxOCRPages int
	concurrency int
	logger      *slog.Logger
}

func New(cfg Config) *Extractor {
	if cfg.Rasterizer == nil {
		cfg.Rasterizer = FitzRasterizer{}
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.MaxOCRPages <= 0 {
		cfg.MaxOCRPages = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OCR == nil {
		cfg.OCR = NewTesseract(TesseractConfig{Logger: cfg.Logger}, nil)
	}
	return &Extractor{
		ocr:         cfg.OCR,
		rasterizer:  cfg.Rasterizer,
		tempDir:     cfg.TempDir,
		maxOCRPages: cfg.MaxOCRPages,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With("component", "extract"),
	}
}

// Extract returns the text of a single file. Failures are *Error values.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (Result, error) {
	format := FormatOf(filename)
	res, err := e.dispatch(ctx, format, filename, data)
	if err != nil {
		var extractErr *Error
		if !errors.As(err, &extractErr) {
			err = fail(KindCorruptInput, format, err)
		}
		return Result{Format: format}, err
	}
	res.Format = format
	res.Chars = utf8.RuneCountInString(res.Text)
	return res, nil
}

func (e *Extractor) dispatch(ctx context.Context, format Format, filename string, data []byte) (Result, error) {
	if format.IsImage() {
		return e.extractImage(ctx, format, data)
	}
	switch format {
	case FormatText, FormatMarkdown:
		text, err := decodeText(data)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Pages: 1, Method: "text"}, nil
	case FormatDOCX:
		text, err := extractDOCX(data)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: normalizeText(text), Method: "docx"}, nil
	case FormatHTML:
		text, err := extractHTML(data)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: normalizeText(text), Pages: 1, Method: "html"}, nil
	case FormatPDF:
		return e.extractPDF(ctx, data)
	default:
		return Result{}, fail(KindUnsupportedFormat, format, fmt.Errorf("extension %q", filepath.Ext(filename)))
	}
}

func (e *Extractor) extractImage(ctx context.Context, format Format, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, fail(KindCorruptInput, format, errors.New("empty image"))
	}
	if err := e.ocr.Available(); err != nil {
		return Result{}, fail(KindOCRUnavailable, format, err)
	}
	f, err := os.CreateTemp(e.tempDir, "ocr-*."+string(format))
	if err != nil {
		return Result{}, fail(KindOCRFailed, format, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Result{}, fail(KindOCRFailed, format, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fail(KindOCRFailed, format, err)
	}
	text, err := e.ocr.Recognize(ctx, f.Name())
	if err != nil {
		return Result{}, ocrFailure(format, err)
	}
	return Result{Text: normalizeText(text), Pages: 1, Method: "image-ocr"}, nil
}

// Input is one uploaded file.
type Input struct {
	Filename string
	Data     []byte
}

// Outcome pairs an input with its result or failure.
type Outcome struct {
	Filename string
	Size     int64
	Result   Result
	Err      error
}

// ExtractBatch extracts every input concurrently. Outcomes keep input order
// and a failing file never cancels the others.
func (e *Extractor) ExtractBatch(ctx context.Context, inputs []Input) []Outcome {
	outcomes := make([]Outcome, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			e.logger.Debug("file extracting", "filename", in.Filename, "status", domain.FileExtracting, "bytes", len(in.Data))
			res, err := e.Extract(gctx, in.Filename, in.Data)
			outcomes[i] = Outcome{Filename: in.Filename, Size: int64(len(in.Data)), Result: res, Err: err}
			if err != nil {
				e.logger.Warn("file extraction failed", "filename", in.Filename, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
