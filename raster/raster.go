// Package raster converts PDF bytes into ordered JPEG page images.
//
// The default backend shells out to Poppler's pdftoppm. Rasterization is
// CPU-bound, so callers usually wrap a backend with Pooled to bound the number
// of conversions running at once.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformed is returned when the input cannot be parsed as a PDF.
var ErrMalformed = errors.New("malformed document")

// Profile describes one output resolution.
type Profile struct {
	DPI      int
	Quality  int // JPEG quality, 1-100
	MaxWidth int // downscale wider pages; 0 keeps the rendered width
}

// Range restricts rasterization to pages First..Last, zero-based and inclusive.
type Range struct {
	First int
	Last  int
}

// Len returns the number of pages covered by r.
func (r Range) Len() int {
	return r.Last - r.First + 1
}

// Rasterizer turns PDF bytes into one encoded image per page, in page order.
// When r is nil the whole document is converted.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, p Profile, r *Range) ([][]byte, error)
}

// Poppler rasterizes with the pdftoppm binary.
type Poppler struct {
	Bin string // defaults to "pdftoppm" on PATH
}

func (p *Poppler) bin() string {
	if p.Bin == "" {
		return "pdftoppm"
	}
	return p.Bin
}

// Rasterize renders pages to PNG with pdftoppm and re-encodes them as JPEG.
func (p *Poppler) Rasterize(ctx context.Context, pdf []byte, prof Profile, r *Range) ([][]byte, error) {
	if prof.DPI <= 0 {
		return nil, fmt.Errorf("raster: invalid dpi %d", prof.DPI)
	}
	if r != nil && (r.First < 0 || r.Last < r.First) {
		return nil, fmt.Errorf("raster: invalid page range %d-%d", r.First, r.Last)
	}

	dir, err := os.MkdirTemp("", "beodesk-raster-*")
	if err != nil {
		return nil, fmt.Errorf("raster: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("raster: write input: %w", err)
	}

	args := []string{"-r", strconv.Itoa(prof.DPI), "-png"}
	if r != nil {
		args = append(args, "-f", strconv.Itoa(r.First+1), "-l", strconv.Itoa(r.Last+1))
	}
	args = append(args, src, filepath.Join(dir, "page"))

	cmd := exec.CommandContext(ctx, p.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		// pdftoppm exits 1 when the input cannot be opened as a PDF.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("raster: pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := renderedPages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no pages rendered", ErrMalformed)
	}

	out := make([][]byte, 0, len(files))
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("raster: open page: %w", err)
		}
		data, err := EncodePage(f, prof)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// renderedPages lists pdftoppm outputs (page-1.png, page-02.png, ...) sorted
// by page number.
func renderedPages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	num := func(path string) int {
		base := strings.TrimSuffix(filepath.Base(path), ".png")
		n, _ := strconv.Atoi(strings.TrimPrefix(base, "page-"))
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return num(matches[i]) < num(matches[j]) })
	return matches, nil
}
