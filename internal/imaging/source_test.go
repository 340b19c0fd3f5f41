package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lightocr/ocrstream/internal/domain"
)

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "page.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewSourceDispatch(t *testing.T) {
	dir := t.TempDir()
	pngPath := writePNG(t, dir, 8, 8)

	src, err := NewSource(pngPath, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if _, ok := src.(*ImageSource); !ok {
		t.Errorf("expected *ImageSource for .png, got %T", src)
	}
}

func TestNewSourceValidation(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "doc.docx")
	if err := os.WriteFile(unknown, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"whitespace path", "   "},
		{"missing file", filepath.Join(dir, "nope.pdf")},
		{"directory", dir},
		{"unsupported extension", unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSource(tc.path, RenderOptions{})
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.CodeOf(err) != domain.ErrCodeValidation {
				t.Errorf("CodeOf = %q, want validation", domain.CodeOf(err))
			}
		})
	}
}

func TestImageSourceRender(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, 16, 16)

	src, err := NewImageSource(path, RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if src.PageCount() != 1 {
		t.Fatalf("PageCount = %d", src.PageCount())
	}

	img, err := src.Render(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if img.MIME != "image/png" {
		t.Errorf("MIME = %q", img.MIME)
	}
	if len(img.Data) == 0 {
		t.Error("empty payload")
	}

	// Bytes pass through untouched.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, img.Data) {
		t.Error("image bytes were modified")
	}
}

func TestImageSourceOutOfRangePage(t *testing.T) {
	dir := t.TempDir()
	src, err := NewImageSource(writePNG(t, dir, 4, 4), RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	for _, idx := range []int{0, 2, -1} {
		if _, err := src.Render(context.Background(), idx); err == nil {
			t.Errorf("Render(%d) should fail for a one-page image", idx)
		}
	}
}

func TestImageSourcePayloadCap(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, 64, 64)

	src, err := NewImageSource(path, RenderOptions{MaxPayloadBytes: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	_, err = src.Render(context.Background(), 1)
	if err == nil {
		t.Fatal("expected payload cap error")
	}
	if domain.CodeOf(err) != domain.ErrCodeRender {
		t.Errorf("CodeOf = %q, want render", domain.CodeOf(err))
	}
}

func TestImageSourceCanceledContext(t *testing.T) {
	dir := t.TempDir()
	src, err := NewImageSource(writePNG(t, dir, 4, 4), RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Render(ctx, 1); err == nil {
		t.Error("expected context error")
	}
}

func TestBoundDimensions(t *testing.T) {
	cases := []struct {
		name         string
		w, h, maxDim int
		wantW, wantH int
	}{
		{"within bounds untouched", 800, 600, 2048, 800, 600},
		{"unbounded when zero", 3000, 2000, 0, 3000, 2000},
		{"wide image scaled", 4096, 2048, 1024, 1024, 512},
		{"tall image scaled", 500, 2000, 1000, 250, 1000},
		{"exact boundary untouched", 2048, 100, 2048, 2048, 100},
		{"extreme ratio keeps one pixel", 4000, 1, 100, 100, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tc.w, tc.h))
			got := boundDimensions(src, tc.maxDim)
			b := got.Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Errorf("got %dx%d, want %dx%d", b.Dx(), b.Dy(), tc.wantW, tc.wantH)
			}
		})
	}
}
