// Package imaging normalizes inputs (standalone images or PDF pages) into
// encoded payloads suitable for a multimodal chat request.
package imaging

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lightocr/ocrstream/internal/domain"
)

// EncodedImage is one page ready for transmission: a content type plus the
// encoded bytes. Produced entirely in memory; nothing is written to disk.
type EncodedImage struct {
	MIME   string
	Data   []byte
	Width  int
	Height int
}

// Source yields the pages of one document as encoded images.
type Source interface {
	// PageCount returns the number of pages in the document.
	PageCount() int
	// Render produces the encoded image for the 1-based page index.
	Render(ctx context.Context, index int) (*EncodedImage, error)
	// Close releases underlying resources.
	Close() error
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".tiff": true,
}

// NewSource opens path as a document source, dispatching on extension.
func NewSource(path string, opts RenderOptions) (Source, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return NewPDFSource(path, opts)
	case imageExtensions[ext]:
		return NewImageSource(path, opts)
	default:
		return nil, domain.ValidationError(
			fmt.Sprintf("unsupported file format %q (supported: pdf, png, jpg, jpeg, bmp, gif, tiff)", ext), nil)
	}
}

func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}
	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}
	return nil
}

// ImageSource wraps a single already-encoded image file as a one-page
// document. The bytes pass through untouched; only the content type is
// sniffed and the payload cap enforced.
type ImageSource struct {
	path string
	opts RenderOptions
}

// NewImageSource creates a source over a standalone image file.
func NewImageSource(path string, opts RenderOptions) (*ImageSource, error) {
	return &ImageSource{path: path, opts: opts}, nil
}

// PageCount is always 1 for a standalone image.
func (s *ImageSource) PageCount() int { return 1 }

// Render reads and wraps the image file.
func (s *ImageSource) Render(ctx context.Context, index int) (*EncodedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index != 1 {
		return nil, domain.RenderError(fmt.Sprintf("image has one page, requested page %d", index), nil).WithPage(index)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, domain.RenderError("read image file", err).WithPage(index)
	}
	if len(data) == 0 {
		return nil, domain.RenderError("image file is empty", nil).WithPage(index)
	}
	if s.opts.MaxPayloadBytes > 0 && len(data) > s.opts.MaxPayloadBytes {
		return nil, domain.RenderError(
			fmt.Sprintf("encoded image is %d bytes, exceeds limit of %d", len(data), s.opts.MaxPayloadBytes), nil).WithPage(index)
	}

	return &EncodedImage{
		MIME: http.DetectContentType(data),
		Data: data,
	}, nil
}

// Close is a no-op; the file is read per render.
func (s *ImageSource) Close() error { return nil }
