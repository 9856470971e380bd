package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"shopimage-server-go/internal/platform/config"
	"shopimage-server-go/internal/platform/errors"
	"shopimage-server-go/internal/platform/logging"
)

// Runner shells out to the external helper tools: pdftoppm for PDF
// rasterisation and the python helpers for PDF merging and background
// removal. Every invocation runs inside a temp directory that is removed
// afterwards, under a deadline from the configured timeout.
type Runner struct {
	cfg    config.ToolsConfig
	logger *logging.Logger
}

func NewRunner(cfg config.ToolsConfig, logger *logging.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// RasterizePDF renders one page of pdfData to PNG. Pages are 1-based.
func (r *Runner) RasterizePDF(ctx context.Context, pdfData []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, errors.New(errors.KindInput, "tools.rasterize", "page must be at least 1")
	}
	pages, err := r.rasterize(ctx, pdfData, page, page)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errors.New(errors.KindTool, "tools.rasterize",
			fmt.Sprintf("page %d not found in document", page))
	}
	return pages[0], nil
}

// RasterizeAll renders every page of pdfData to PNG, in page order.
func (r *Runner) RasterizeAll(ctx context.Context, pdfData []byte) ([][]byte, error) {
	return r.rasterize(ctx, pdfData, 0, 0)
}

func (r *Runner) rasterize(ctx context.Context, pdfData []byte, first, last int) ([][]byte, error) {
	dir, cleanup, err := r.tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdfData, 0o600); err != nil {
		return nil, errors.Wrap(errors.KindTool, "tools.rasterize", "failed to write input", err)
	}

	args := []string{"-png", "-r", "150"}
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first), "-l", strconv.Itoa(last))
	}
	args = append(args, input, filepath.Join(dir, "page"))

	if err := r.run(ctx, r.cfg.Rasterizer, args...); err != nil {
		return nil, err
	}

	// pdftoppm writes page-1.png, page-2.png, ... zero-padded for longer
	// documents. Lexical order matches page order either way.
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, errors.Wrap(errors.KindTool, "tools.rasterize", "failed to list output", err)
	}
	sort.Strings(matches)

	out := make([][]byte, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, errors.Wrap(errors.KindTool, "tools.rasterize", "failed to read output", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// MergePDFs concatenates the given documents into one PDF.
func (r *Runner) MergePDFs(ctx context.Context, docs [][]byte) ([]byte, error) {
	if len(docs) < 2 {
		return nil, errors.New(errors.KindInput, "tools.merge", "merge needs at least two documents")
	}

	dir, cleanup, err := r.tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output := filepath.Join(dir, "merged.pdf")
	args := []string{r.cfg.PDFMerge, output}
	for i, doc := range docs {
		input := filepath.Join(dir, fmt.Sprintf("input-%d.pdf", i))
		if err := os.WriteFile(input, doc, 0o600); err != nil {
			return nil, errors.Wrap(errors.KindTool, "tools.merge", "failed to write input", err)
		}
		args = append(args, input)
	}

	if err := r.run(ctx, "python3", args...); err != nil {
		return nil, err
	}

	merged, err := os.ReadFile(output)
	if err != nil {
		return nil, errors.Wrap(errors.KindTool, "tools.merge", "failed to read merged output", err)
	}
	return merged, nil
}

// RemoveBackground strips the background from an image, optionally drawing
// a border of the given pixel width and colour around the subject. The
// result is always PNG with transparency.
func (r *Runner) RemoveBackground(ctx context.Context, imgData []byte, border int, color string) ([]byte, error) {
	dir, cleanup, err := r.tempDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	input := filepath.Join(dir, "input.img")
	output := filepath.Join(dir, "output.png")
	if err := os.WriteFile(input, imgData, 0o600); err != nil {
		return nil, errors.Wrap(errors.KindTool, "tools.remove_bg", "failed to write input", err)
	}

	args := []string{r.cfg.RemoveBG, input, output}
	if border > 0 {
		args = append(args, "--border", strconv.Itoa(border))
		if color != "" {
			args = append(args, "--border-color", color)
		}
	}

	if err := r.run(ctx, "python3", args...); err != nil {
		return nil, err
	}

	result, err := os.ReadFile(output)
	if err != nil {
		return nil, errors.Wrap(errors.KindTool, "tools.remove_bg", "failed to read output", err)
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, name string, args ...string) error {
	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.New(errors.KindTool, "tools.run",
				fmt.Sprintf("%s timed out after %s", name, timeout))
		}
		detail := strings.TrimSpace(string(out))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return errors.Wrap(errors.KindTool, "tools.run",
			fmt.Sprintf("%s failed: %s", name, detail), err)
	}

	r.logger.DebugTag("TOOL", fmt.Sprintf("%s finished in %s", name, time.Since(start).Round(time.Millisecond)))
	return nil
}

func (r *Runner) tempDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "shopimage-tool-*")
	if err != nil {
		return "", nil, errors.Wrap(errors.KindTool, "tools.tempdir", "failed to create temp dir", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
