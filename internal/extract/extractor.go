package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unicode"
)

// MinTextChars is the floor below which a text layer is considered too thin
// to classify; extraction falls back to OCR, and the decision policy routes
// anything still under it to manual review.
const MinTextChars = 50

// ExtractionError wraps any failure along the extraction chain. Callers treat
// it as "insufficient text" rather than a hard failure.
type ExtractionError struct {
	Stage string // "detect" | "pdf-text" | "rasterize" | "ocr"
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Result is the outcome of a successful extraction.
type Result struct {
	Text     string
	Method   string // "pdf-text" | "pdf-ocr" | "image-ocr"
	Duration time.Duration
}

// Config holds external tool paths and OCR tuning.
type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string        // default "eng"
	DPI           int           // rasterization DPI for scanned PDFs, default 300
	Timeout       time.Duration // per external command, default 60s
}

// Extractor produces plain text from raw document bytes. It holds no state
// beyond configuration and is safe for concurrent use.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

var pdfMagic = []byte("%PDF")

// Extract sniffs the container type and runs the matching strategy:
// text-layer parse with OCR fallback for PDFs, preprocess + OCR for images.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Result, error) {
	start := time.Now()

	switch {
	case bytes.HasPrefix(data, pdfMagic):
		res, err := e.extractPDF(ctx, data)
		res.Duration = time.Since(start)
		return res, err
	case isImage(data):
		res, err := e.extractImage(ctx, data)
		res.Duration = time.Since(start)
		return res, err
	default:
		return Result{}, &ExtractionError{Stage: "detect", Err: fmt.Errorf("unrecognized container signature")}
	}
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (Result, error) {
	tmpDir, err := os.MkdirTemp("", "cg-pdf-*")
	if err != nil {
		return Result{}, &ExtractionError{Stage: "pdf-text", Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	pdfPath := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return Result{}, &ExtractionError{Stage: "pdf-text", Err: err}
	}

	// Fast path: the text layer, no rasterization.
	text, textErr := e.pdfToText(ctx, pdfPath)
	if textErr == nil && NonWhitespaceLen(text) >= MinTextChars {
		return Result{Text: text, Method: "pdf-text"}, nil
	}
	if textErr != nil {
		e.logger.Debug("pdf text layer unavailable, falling back to ocr", "error", textErr)
	} else {
		e.logger.Debug("pdf text layer too thin, falling back to ocr", "chars", NonWhitespaceLen(text))
	}

	imgPath, err := e.rasterizeFirstPage(ctx, pdfPath, tmpDir)
	if err != nil {
		return Result{}, &ExtractionError{Stage: "rasterize", Err: err}
	}
	ocrText, err := e.tesseractOCR(ctx, imgPath)
	if err != nil {
		return Result{}, &ExtractionError{Stage: "ocr", Err: err}
	}
	return Result{Text: ocrText, Method: "pdf-ocr"}, nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte) (Result, error) {
	ocrInput := data
	if processed, err := preprocessImage(data); err == nil {
		ocrInput = processed
	} else {
		// Preprocessing failure is non-fatal: OCR the original bytes.
		e.logger.Warn("image preprocessing failed, using original bytes", "error", err)
	}

	tmpDir, err := os.MkdirTemp("", "cg-img-*")
	if err != nil {
		return Result{}, &ExtractionError{Stage: "ocr", Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	imgPath := filepath.Join(tmpDir, "doc.img")
	if err := os.WriteFile(imgPath, ocrInput, 0o600); err != nil {
		return Result{}, &ExtractionError{Stage: "ocr", Err: err}
	}
	text, err := e.tesseractOCR(ctx, imgPath)
	if err != nil {
		return Result{}, &ExtractionError{Stage: "ocr", Err: err}
	}
	return Result{Text: text, Method: "image-ocr"}, nil
}

func (e *Extractor) pdfToText(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w (%s)", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// rasterizeFirstPage renders only the first page; enrollment documents carry
// their identifying markers up front and a full render is the slow part.
func (e *Extractor) rasterizeFirstPage(ctx context.Context, pdfPath, tmpDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -f 1 -l 1 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-f", "1", "-l", "1", "-png", pdfPath, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no images")
	}
	return matches[0], nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.TesseractLang)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (%s)", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

func isImage(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic) || bytes.HasPrefix(data, jpegMagic)
}

// NonWhitespaceLen counts the non-whitespace runes in s.
func NonWhitespaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
