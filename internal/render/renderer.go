// Package render produces the image artifact of a template slide.
package render

import (
	"context"
	"fmt"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/slides"
)

// DefaultSize is the thumbnail size requested when none is configured.
const DefaultSize = "LARGE"

// Artifact is a rendered slide. The image bytes stay remote until the
// assembler fetches ContentURL.
type Artifact struct {
	PresentationID string
	SlideID        string
	ContentURL     string
	Width          int64
	Height         int64
}

// Renderer asks the presentation service for slide snapshots.
type Renderer struct {
	api  slides.API
	size string
}

// NewRenderer creates a Renderer. size is a Slides thumbnail size such as
// SMALL, MEDIUM or LARGE.
func NewRenderer(api slides.API, size string) *Renderer {
	if size == "" {
		size = DefaultSize
	}
	return &Renderer{api: api, size: size}
}

// RenderSlide returns the artifact of a slide in the document's current state.
// It does not modify the document.
func (r *Renderer) RenderSlide(ctx context.Context, documentID, slideID string) (*Artifact, error) {
	if slideID == "" {
		return nil, fmt.Errorf("%w: slide id is required", certerr.ErrNotFound)
	}

	th, err := r.api.GetThumbnail(ctx, documentID, slideID, r.size)
	if err != nil {
		return nil, err
	}
	if th.ContentURL == "" {
		return nil, fmt.Errorf("%w: slide %s rendered without a content url", certerr.ErrTransient, slideID)
	}

	return &Artifact{
		PresentationID: documentID,
		SlideID:        slideID,
		ContentURL:     th.ContentURL,
		Width:          th.Width,
		Height:         th.Height,
	}, nil
}
