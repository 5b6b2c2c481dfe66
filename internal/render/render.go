// Package render produces images of rendered document elements for
// delivery over the relay.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"pocketbridge/internal/editor"
)

// ErrRender wraps any rendering failure; callers fall back to plain
// text delivery.
var ErrRender = errors.New("render: element render failed")

// Renderer produces a PNG of the element matching a selector.
type Renderer interface {
	RenderElement(ctx context.Context, selector string) ([]byte, error)
}

// padding around the cropped element, in CSS pixels.
const cropPadding = 8

// Screenshot renders by scrolling the element into view, capturing the
// whole page, and cropping. Crop coordinates are scaled by the ratio of
// image pixels to viewport pixels to survive HiDPI capture.
type Screenshot struct {
	ed *editor.Client
}

func NewScreenshot(ed *editor.Client) *Screenshot {
	return &Screenshot{ed: ed}
}

func (s *Screenshot) RenderElement(ctx context.Context, selector string) ([]byte, error) {
	rect, err := s.ed.ElementRect(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	vw, vh, err := s.ed.ViewportSize(ctx)
	if err != nil || vw <= 0 || vh <= 0 {
		return nil, fmt.Errorf("%w: viewport unavailable", ErrRender)
	}
	shot, err := s.ed.Conn().CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("%w: decode screenshot: %v", ErrRender, err)
	}

	bounds := img.Bounds()
	scaleX := float64(bounds.Dx()) / vw
	scaleY := float64(bounds.Dy()) / vh
	crop := image.Rect(
		int((rect.X-cropPadding)*scaleX),
		int((rect.Y-cropPadding)*scaleY),
		int((rect.X+rect.Width+cropPadding)*scaleX),
		int((rect.Y+rect.Height+cropPadding)*scaleY),
	).Intersect(bounds)
	if crop.Empty() {
		return nil, fmt.Errorf("%w: element outside capture", ErrRender)
	}

	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("%w: capture format not croppable", ErrRender)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, sub.SubImage(crop)); err != nil {
		return nil, fmt.Errorf("%w: encode crop: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// RenderWindow captures the whole page, used for the screenshot command
// and passive confirmation notices.
func (s *Screenshot) RenderWindow(ctx context.Context) ([]byte, error) {
	shot, err := s.ed.Conn().CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return shot, nil
}
