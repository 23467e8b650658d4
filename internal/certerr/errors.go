// Package certerr defines the error taxonomy shared by every stage of a
// certificate job. Callers classify failures with errors.Is against the
// sentinels below; Kind turns an error into a stable code for responses,
// metrics and the job store.
package certerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrAuth means the credential is missing, expired or revoked. Re-authorize out of band.
	ErrAuth = errors.New("credential is invalid or expired")

	// ErrConflict means the document changed after its revision was read.
	ErrConflict = errors.New("document revision conflict")

	// ErrNotFound means the document, the slide or the placeholder is absent.
	ErrNotFound = errors.New("document or slide not found")

	// ErrFetch means the rendered artifact could not be downloaded.
	ErrFetch = errors.New("artifact fetch failed")

	// ErrTransient means a remote service failed in a way worth retrying later.
	ErrTransient = errors.New("service temporarily unavailable")

	// ErrTemplateDirty means the template still shows a recipient name instead of the placeholder.
	ErrTemplateDirty = errors.New("template left dirty")

	// ErrInvalidInput means the job request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind codes returned by Kind.
const (
	KindAuth          = "auth_error"
	KindConflict      = "conflict"
	KindNotFound      = "not_found"
	KindFetch         = "fetch_error"
	KindTransient     = "transient_error"
	KindTemplateDirty = "template_dirty"
	KindInvalidInput  = "invalid_request"
	KindCanceled      = "canceled"
	KindInternal      = "internal_error"
)

// TemplateDirtyError reports that a job failed after its name was applied and
// the template could not be restored. Name is the text left in the document.
type TemplateDirtyError struct {
	DocumentID string
	Name       string
	// JobErr is the failure that aborted the job, nil when the reset phase itself failed.
	JobErr error
	// ResetErr is the failure of the reset attempt.
	ResetErr error
}

func (e *TemplateDirtyError) Error() string {
	if e.JobErr != nil {
		return fmt.Sprintf("template %s left dirty with %q: %v (reset failed: %v)", e.DocumentID, e.Name, e.JobErr, e.ResetErr)
	}
	return fmt.Sprintf("template %s left dirty with %q: reset failed: %v", e.DocumentID, e.Name, e.ResetErr)
}

// Unwrap exposes ErrTemplateDirty and both underlying failures to errors.Is/As.
func (e *TemplateDirtyError) Unwrap() []error {
	errs := []error{ErrTemplateDirty}
	if e.JobErr != nil {
		errs = append(errs, e.JobErr)
	}
	if e.ResetErr != nil {
		errs = append(errs, e.ResetErr)
	}
	return errs
}

// Kind returns the stable code of the most significant error in the chain.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTemplateDirty):
		return KindTemplateDirty
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrFetch):
		return KindFetch
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// Retryable reports whether running the whole job again from scratch may succeed.
// A dirty template is never retryable until it has been reset.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindConflict, KindFetch, KindTransient:
		return true
	}
	return false
}

// FromGoogleAPI maps a Google API client error onto the taxonomy. Unknown
// errors are returned unchanged.
func FromGoogleAPI(err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuth, err)
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case apiErr.Code == http.StatusConflict:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case apiErr.Code == http.StatusBadRequest && isRevisionMismatch(apiErr):
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "not found"):
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// isRevisionMismatch recognizes the precondition failure returned when
// WriteControl.RequiredRevisionId no longer matches the document.
func isRevisionMismatch(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if strings.EqualFold(item.Reason, "failedPrecondition") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "revision")
}
