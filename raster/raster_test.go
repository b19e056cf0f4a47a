package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodePageKeepsSmallPages(t *testing.T) {
	out, err := EncodePage(bytes.NewReader(pngOf(t, 200, 100)), Profile{Quality: 60, MaxWidth: 800})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestEncodePageDownscalesWidePages(t *testing.T) {
	out, err := EncodePage(bytes.NewReader(pngOf(t, 1000, 500)), Profile{Quality: 95, MaxWidth: 400})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestEncodePageRejectsGarbage(t *testing.T) {
	_, err := EncodePage(bytes.NewReader([]byte("not an image")), Profile{})
	assert.Error(t, err)
}

func TestRangeLen(t *testing.T) {
	assert.Equal(t, 1, Range{First: 2, Last: 2}.Len())
	assert.Equal(t, 4, Range{First: 0, Last: 3}.Len())
}

// minimalPDF builds a valid PDF with n blank letter-size pages.
func minimalPDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < n; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func requirePdftoppm(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		t.Skip("pdftoppm not installed")
	}
}

func TestPopplerRasterize(t *testing.T) {
	requirePdftoppm(t)
	p := &Poppler{}

	pages, err := p.Rasterize(context.Background(), minimalPDF(3), Profile{DPI: 20, Quality: 60}, nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, pg := range pages {
		_, err := jpeg.Decode(bytes.NewReader(pg))
		assert.NoError(t, err)
	}

	pages, err = p.Rasterize(context.Background(), minimalPDF(3), Profile{DPI: 20, Quality: 60}, &Range{First: 1, Last: 2})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestPopplerMalformed(t *testing.T) {
	requirePdftoppm(t)
	p := &Poppler{}

	_, err := p.Rasterize(context.Background(), []byte("this is not a pdf"), Profile{DPI: 20}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
}

func TestPopplerRejectsBadArguments(t *testing.T) {
	p := &Poppler{}
	_, err := p.Rasterize(context.Background(), nil, Profile{DPI: 0}, nil)
	assert.Error(t, err)
	_, err = p.Rasterize(context.Background(), nil, Profile{DPI: 75}, &Range{First: 3, Last: 1})
	assert.Error(t, err)
}
