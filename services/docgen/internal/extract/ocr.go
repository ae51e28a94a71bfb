package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrOCRUnavailable means the OCR engine is not installed or not configured.
var ErrOCRUnavailable = errors.New("ocr engine unavailable")

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// maxLoggedStderr bounds how much tesseract stderr reaches the log.
const maxLoggedStderr = 8 << 10

// execRunner runs real processes and logs each invocation.
type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	attrs := []any{"cmd", name, "elapsed", time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			attrs = append(attrs, "exit_code", exitErr.ExitCode())
		}
		attrs = append(attrs, "error", err, "stderr", truncate(stderr.String(), maxLoggedStderr))
		r.logger.Warn("ocr command failed", attrs...)
	} else {
		r.logger.Debug("ocr command finished", append(attrs, "stdout_bytes", stdout.Len())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

// OCR recognizes text in an image file.
type OCR interface {
	Available() error
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// TesseractConfig configures the tesseract CLI.
type TesseractConfig struct {
	Binary      string
	Lang        string
	TessdataDir string
	PSM         int
	Logger      *slog.Logger
}

// Tesseract shells out to `tesseract <image> stdout`.
type Tesseract struct {
	cfg      TesseractConfig
	runner   Runner
	lookPath func(string) (string, error)
}

// NewTesseract returns an OCR engine backed by the tesseract binary. A nil
// runner executes real processes and logs them to cfg.Logger.
func NewTesseract(cfg TesseractConfig, runner Runner) *Tesseract {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "tesseract"
	}
	if strings.TrimSpace(cfg.Lang) == "" {
		cfg.Lang = "eng"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{logger: cfg.Logger.With("component", "ocr")}
	}
	return &Tesseract{cfg: cfg, runner: runner, lookPath: exec.LookPath}
}

// Available reports ErrOCRUnavailable when the binary cannot be found.
func (t *Tesseract) Available() error {
	if _, err := t.lookPath(t.cfg.Binary); err != nil {
		return fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
	}
	return nil
}

// Recognize runs tesseract on imagePath and returns its stdout.
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, args...)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return string(out), nil
}
