// Package template edits the shared certificate template. It owns the
// two-phase protocol: ApplyName swaps the placeholder for a recipient name and
// ResetPlaceholder swaps it back so the next job finds the template clean.
package template

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/slides"
)

// MaxNameLength bounds a recipient name in runes.
const MaxNameLength = 120

var (
	// ErrPlaceholderMissing means the template does not show the placeholder,
	// usually because an earlier job left it dirty. Jobs are refused until a reset.
	ErrPlaceholderMissing = fmt.Errorf("%w: %w: placeholder not present in template", certerr.ErrTemplateDirty, certerr.ErrNotFound)

	// ErrNameCollision means resetting the name would not give the template
	// back: the name already appears in it, or overlaps the text around the
	// placeholder once applied.
	ErrNameCollision = fmt.Errorf("%w: name already appears in the template", certerr.ErrInvalidInput)

	// ErrNoSlides means the template has no slide to render.
	ErrNoSlides = fmt.Errorf("%w: template has no slides", certerr.ErrNotFound)
)

// Revision describes one committed (or no-op) substitution.
type Revision struct {
	// Previous is the revision the write was conditioned on.
	Previous string
	// ID is the revision after the write. Equal to Previous for a no-op.
	ID string
	// OccurrencesChanged is zero when the match text was absent.
	OccurrencesChanged int64
}

// Mutator performs text substitutions on template documents under optimistic
// concurrency control.
type Mutator struct {
	api         slides.API
	placeholder string
	log         *logger.Logger
}

// NewMutator creates a Mutator that uses placeholder as the canonical marker.
func NewMutator(api slides.API, placeholder string, log *logger.Logger) *Mutator {
	return &Mutator{
		api:         api,
		placeholder: placeholder,
		log:         log.WithComponent("template"),
	}
}

// Placeholder returns the canonical marker text.
func (m *Mutator) Placeholder() string {
	return m.placeholder
}

// ReplaceText reads the document's current revision and immediately submits a
// single case-insensitive substitution conditioned on it. A match text that no
// longer occurs is a silent no-op with zero occurrences changed.
func (m *Mutator) ReplaceText(ctx context.Context, documentID, match, replacement string) (*Revision, error) {
	p, err := m.api.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return m.replace(ctx, documentID, p.RevisionID, match, replacement)
}

func (m *Mutator) replace(ctx context.Context, documentID, revisionID, match, replacement string) (*Revision, error) {
	res, err := m.api.BatchUpdate(ctx, documentID, revisionID, []slides.Substitution{
		{Match: match, Replacement: replacement},
	})
	if err != nil {
		return nil, err
	}

	rev := &Revision{
		Previous:           revisionID,
		ID:                 res.RevisionID,
		OccurrencesChanged: res.OccurrencesChanged,
	}
	if rev.ID == "" {
		rev.ID = revisionID
	}
	return rev, nil
}

// Status is a read-only view of a template document.
type Status struct {
	RevisionID         string
	SlideCount         int
	PlaceholderPresent bool
}

// Inspect reports whether the document currently shows the placeholder.
func (m *Mutator) Inspect(ctx context.Context, documentID string) (*Status, error) {
	p, err := m.api.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &Status{
		RevisionID:         p.RevisionID,
		SlideCount:         len(p.SlideIDs),
		PlaceholderPresent: p.Contains(m.placeholder),
	}, nil
}

// LocateSlide returns the object id of the first slide of the document.
func (m *Mutator) LocateSlide(ctx context.Context, documentID string) (string, error) {
	p, err := m.api.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	if len(p.SlideIDs) == 0 {
		return "", fmt.Errorf("presentation %s: %w", documentID, ErrNoSlides)
	}
	return p.SlideIDs[0], nil
}

// ApplyName replaces the placeholder with name. It refuses to write when the
// placeholder is missing or when resetting name would touch any text other
// than what the apply inserted.
func (m *Mutator) ApplyName(ctx context.Context, documentID, name string) (*Revision, error) {
	if err := ValidateName(name, m.placeholder); err != nil {
		return nil, err
	}

	p, err := m.api.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !p.Contains(m.placeholder) {
		return nil, fmt.Errorf("presentation %s: %w", documentID, ErrPlaceholderMissing)
	}
	for _, text := range p.Texts {
		if !roundTrips(text, m.placeholder, name) {
			return nil, fmt.Errorf("presentation %s: %w", documentID, ErrNameCollision)
		}
	}

	rev, err := m.replace(ctx, documentID, p.RevisionID, m.placeholder, name)
	if err != nil {
		return nil, err
	}
	if rev.OccurrencesChanged == 0 {
		// The placeholder vanished between the read and the write without a
		// revision change, which the service should never allow.
		return rev, fmt.Errorf("presentation %s: %w", documentID, ErrPlaceholderMissing)
	}

	m.log.Debug().
		Str("document_id", documentID).
		Str("revision", rev.ID).
		Int64("occurrences", rev.OccurrencesChanged).
		Msg("name applied")
	return rev, nil
}

// ResetPlaceholder replaces name with the placeholder, restoring the template.
// It is a no-op when the name is no longer present.
func (m *Mutator) ResetPlaceholder(ctx context.Context, documentID, name string) (*Revision, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", certerr.ErrInvalidInput)
	}

	rev, err := m.ReplaceText(ctx, documentID, name, m.placeholder)
	if err != nil {
		return nil, err
	}
	if rev.OccurrencesChanged == 0 {
		m.log.Warn().Str("document_id", documentID).Msg("reset found nothing to restore")
	} else {
		m.log.Debug().
			Str("document_id", documentID).
			Str("revision", rev.ID).
			Int64("occurrences", rev.OccurrencesChanged).
			Msg("placeholder restored")
	}
	return rev, nil
}

// roundTrips reports whether replacing placeholder with name in text and then
// name with placeholder touches exactly the inserted spans. Both replacements
// match case-insensitively and left to right, as replaceAllText does.
func roundTrips(text, placeholder, name string) bool {
	var applied strings.Builder
	var inserted [][]int
	last := 0
	for _, loc := range matcher(placeholder).FindAllStringIndex(text, -1) {
		applied.WriteString(text[last:loc[0]])
		start := applied.Len()
		applied.WriteString(name)
		inserted = append(inserted, []int{start, applied.Len()})
		last = loc[1]
	}
	applied.WriteString(text[last:])

	found := matcher(name).FindAllStringIndex(applied.String(), -1)
	return slices.EqualFunc(found, inserted, func(a, b []int) bool { return slices.Equal(a, b) })
}

func matcher(s string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(s))
}

// ValidateName checks that name can be applied and later reset safely.
// name is expected to be trimmed already.
func ValidateName(name, placeholder string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: name must be non-empty and trimmed", certerr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", certerr.ErrInvalidInput, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", certerr.ErrInvalidInput)
		}
	}
	if strings.Contains(strings.ToLower(name), strings.ToLower(placeholder)) {
		return fmt.Errorf("%w: name contains the placeholder", certerr.ErrInvalidInput)
	}
	return nil
}
