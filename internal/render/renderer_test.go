package render

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/credential"
	"github.com/certgen/certgen/internal/slides"
	"github.com/certgen/certgen/internal/slides/slidestest"
)

func TestRenderer_RenderSlide(t *testing.T) {
	t.Parallel()
	srv := slidestest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddPresentation("doc", "Awarded to Alice")
	before := srv.Revision("doc")

	r := NewRenderer(slides.NewClient(credential.Static(srv.Client()), 5*time.Second, srv.Endpoint()), "")
	art, err := r.RenderSlide(context.Background(), "doc", "slide_0")
	require.NoError(t, err)
	assert.Equal(t, "slide_0", art.SlideID)
	assert.EqualValues(t, 1600, art.Width)
	assert.EqualValues(t, 900, art.Height)
	assert.Equal(t, before, srv.Revision("doc"))

	resp, err := srv.Client().Get(art.ContentURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, slidestest.PNGHeader+"Awarded to Alice", string(body))
}

func TestRenderer_Errors(t *testing.T) {
	t.Parallel()
	srv := slidestest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddPresentation("doc", "Awarded to Alice")
	r := NewRenderer(slides.NewClient(credential.Static(srv.Client()), 5*time.Second, srv.Endpoint()), "MEDIUM")
	ctx := context.Background()

	_, err := r.RenderSlide(ctx, "doc", "")
	assert.ErrorIs(t, err, certerr.ErrNotFound)

	_, err = r.RenderSlide(ctx, "doc", "slide_7")
	assert.ErrorIs(t, err, certerr.ErrNotFound)

	srv.FailNext("thumbnail", http.StatusInternalServerError)
	_, err = r.RenderSlide(ctx, "doc", "slide_0")
	assert.ErrorIs(t, err, certerr.ErrTransient)
}
