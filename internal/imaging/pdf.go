package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/lightocr/ocrstream/internal/domain"
)

// RenderOptions controls page rasterization and encoding.
type RenderOptions struct {
	DPI             int
	Quality         int
	MaxDimension    int // longest side in pixels, 0 = unbounded
	MaxPayloadBytes int // 0 = unbounded
}

// PDFSource rasterizes pages of a PDF document with go-fitz.
type PDFSource struct {
	doc   *fitz.Document
	pages int
	opts  RenderOptions
}

// NewPDFSource opens a PDF for page-by-page rendering.
func NewPDFSource(path string, opts RenderOptions) (*PDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.RenderError("open PDF", err)
	}

	pages := doc.NumPage()
	if pages == 0 {
		doc.Close()
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	return &PDFSource{doc: doc, pages: pages, opts: opts}, nil
}

// PageCount returns the number of pages in the PDF.
func (s *PDFSource) PageCount() int { return s.pages }

// Render rasterizes the 1-based page index at the configured DPI, bounds
// the pixel dimensions, and JPEG-encodes at the configured quality.
func (s *PDFSource) Render(ctx context.Context, index int) (*EncodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 1 || index > s.pages {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range 1..%d", index, s.pages), nil).WithPage(index)
	}

	img, err := s.doc.ImageDPI(index-1, float64(s.opts.DPI))
	if err != nil {
		return nil, domain.RenderError("rasterize page", err).WithPage(index)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, domain.RenderError("rasterization produced an empty page", nil).WithPage(index)
	}

	bounded := boundDimensions(img, s.opts.MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, bounded, &jpeg.Options{Quality: s.opts.Quality}); err != nil {
		return nil, domain.RenderError("encode page as JPEG", err).WithPage(index)
	}
	if s.opts.MaxPayloadBytes > 0 && buf.Len() > s.opts.MaxPayloadBytes {
		return nil, domain.RenderError(
			fmt.Sprintf("encoded page is %d bytes, exceeds limit of %d", buf.Len(), s.opts.MaxPayloadBytes), nil).WithPage(index)
	}

	b := bounded.Bounds()
	return &EncodedImage{
		MIME:   "image/jpeg",
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Close releases the underlying fitz document.
func (s *PDFSource) Close() error {
	if s.doc != nil {
		err := s.doc.Close()
		s.doc = nil
		return err
	}
	return nil
}

// boundDimensions downscales img so its longest side is at most maxDim,
// preserving aspect ratio. Images already within bounds pass through.
func boundDimensions(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(longest)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
