// Package slides talks to the Google Slides API on behalf of the job pipeline.
// It exposes only the three calls the pipeline needs and maps API failures
// onto the certerr taxonomy.
package slides

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/option"
	slidesapi "google.golang.org/api/slides/v1"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/credential"
)

// Presentation is the part of a presentation the pipeline reads.
type Presentation struct {
	ID         string
	RevisionID string
	// SlideIDs lists slide object ids in presentation order.
	SlideIDs []string
	// Texts holds one entry per text frame (shape, table cell or grouped
	// shape) in presentation order, with the frame's runs joined. This is the
	// text replaceAllText matches against.
	Texts []string
}

// Contains reports whether s appears in any text frame, ignoring case the way
// replaceAllText does with MatchCase unset.
func (p *Presentation) Contains(s string) bool {
	needle := strings.ToLower(s)
	for _, t := range p.Texts {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// Substitution replaces every case-insensitive occurrence of Match with Replacement.
type Substitution struct {
	Match       string
	Replacement string
}

// UpdateResult is the outcome of a committed batch update.
type UpdateResult struct {
	RevisionID         string
	OccurrencesChanged int64
}

// Thumbnail is a rendered snapshot of one slide.
type Thumbnail struct {
	ContentURL string
	Width      int64
	Height     int64
}

// API is the presentation service contract used by the mutator and the renderer.
type API interface {
	Get(ctx context.Context, presentationID string) (*Presentation, error)
	BatchUpdate(ctx context.Context, presentationID, requiredRevisionID string, subs []Substitution) (*UpdateResult, error)
	GetThumbnail(ctx context.Context, presentationID, slideID, size string) (*Thumbnail, error)
}

// Client implements API with google.golang.org/api/slides/v1.
type Client struct {
	provider credential.Provider
	timeout  time.Duration
	opts     []option.ClientOption
}

// NewClient creates a Client. A non-empty endpoint overrides the API base URL.
func NewClient(provider credential.Provider, timeout time.Duration, endpoint string) *Client {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return &Client{provider: provider, timeout: timeout, opts: opts}
}

func (c *Client) service(ctx context.Context) (*slidesapi.Service, error) {
	cred, err := c.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(cred.HTTPClient)}, c.opts...)
	svc, err := slidesapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("slides: failed to create service: %w", err)
	}
	return svc, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get reads the current revision and slide ids of a presentation.
func (c *Client) Get(ctx context.Context, presentationID string) (*Presentation, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	p, err := svc.Presentations.Get(presentationID).
		Fields(presentationFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("slides: failed to get presentation %s: %w", presentationID, certerr.FromGoogleAPI(err))
	}

	out := &Presentation{
		ID:         p.PresentationId,
		RevisionID: p.RevisionId,
		SlideIDs:   make([]string, 0, len(p.Slides)),
	}
	for _, s := range p.Slides {
		out.SlideIDs = append(out.SlideIDs, s.ObjectId)
		out.Texts = appendTexts(out.Texts, s.PageElements)
	}
	return out, nil
}

const presentationFields = "presentationId,revisionId,slides(objectId,pageElements(" +
	"shape(text(textElements(textRun(content))))," +
	"table(tableRows(tableCells(text(textElements(textRun(content))))))," +
	"elementGroup(children)))"

// appendTexts walks shapes, table cells and groups the way replaceAllText does.
func appendTexts(out []string, els []*slidesapi.PageElement) []string {
	for _, el := range els {
		switch {
		case el.Shape != nil:
			if el.Shape.Text != nil {
				out = append(out, joinRuns(el.Shape.Text))
			}
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					if cell.Text != nil {
						out = append(out, joinRuns(cell.Text))
					}
				}
			}
		case el.ElementGroup != nil:
			out = appendTexts(out, el.ElementGroup.Children)
		}
	}
	return out
}

func joinRuns(t *slidesapi.TextContent) string {
	var b strings.Builder
	for _, te := range t.TextElements {
		if te.TextRun != nil {
			b.WriteString(te.TextRun.Content)
		}
	}
	return b.String()
}

// BatchUpdate submits replaceAllText requests guarded by requiredRevisionID.
// The service rejects the whole batch if the document moved past that revision.
func (c *Client) BatchUpdate(ctx context.Context, presentationID, requiredRevisionID string, subs []Substitution) (*UpdateResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]*slidesapi.Request, 0, len(subs))
	for _, s := range subs {
		requests = append(requests, &slidesapi.Request{
			ReplaceAllText: &slidesapi.ReplaceAllTextRequest{
				ContainsText: &slidesapi.SubstringMatchCriteria{
					Text:      s.Match,
					MatchCase: false,
				},
				ReplaceText: s.Replacement,
			},
		})
	}

	resp, err := svc.Presentations.BatchUpdate(presentationID, &slidesapi.BatchUpdatePresentationRequest{
		Requests: requests,
		WriteControl: &slidesapi.WriteControl{
			RequiredRevisionId: requiredRevisionID,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("slides: batch update of %s failed: %w", presentationID, certerr.FromGoogleAPI(err))
	}

	result := &UpdateResult{}
	if resp.WriteControl != nil {
		result.RevisionID = resp.WriteControl.RequiredRevisionId
	}
	for _, reply := range resp.Replies {
		if reply != nil && reply.ReplaceAllText != nil {
			result.OccurrencesChanged += reply.ReplaceAllText.OccurrencesChanged
		}
	}
	return result, nil
}

// GetThumbnail asks the service to render a PNG snapshot of a slide in its current state.
func (c *Client) GetThumbnail(ctx context.Context, presentationID, slideID, size string) (*Thumbnail, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	call := svc.Presentations.Pages.GetThumbnail(presentationID, slideID).
		ThumbnailPropertiesMimeType("PNG")
	if size != "" {
		call = call.ThumbnailPropertiesThumbnailSize(size)
	}

	th, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("slides: failed to render slide %s: %w", slideID, certerr.FromGoogleAPI(err))
	}

	return &Thumbnail{
		ContentURL: th.ContentUrl,
		Width:      th.Width,
		Height:     th.Height,
	}, nil
}
