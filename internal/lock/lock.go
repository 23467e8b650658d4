// Package lock serializes jobs that touch the same template document.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certgen/certgen/internal/certerr"
)

var (
	// ErrBusy means the document stayed locked for the whole wait budget.
	ErrBusy = fmt.Errorf("%w: document is locked by another job", certerr.ErrTransient)

	// ErrLeaseLost means the lease expired and may now be held by someone else.
	ErrLeaseLost = errors.New("lock lease lost before release")
)

// Locker grants exclusive leases keyed by document.
type Locker interface {
	// Acquire blocks until the key is free, ctx is done or the wait budget
	// runs out.
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Key returns the lock key of a template document.
func Key(documentID string) string {
	return "template:" + documentID
}

// waitContext bounds ctx by the wait budget. The returned check turns a
// budget expiry into ErrBusy and leaves caller cancellation untouched.
func waitContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc, func(error) error) {
	if wait <= 0 {
		c, cancel := context.WithCancel(ctx)
		return c, cancel, func(err error) error { return err }
	}
	c, cancel := context.WithTimeout(ctx, wait)
	return c, cancel, func(err error) error {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return ErrBusy
		}
		return err
	}
}
