package types

import (
	"context"
	"errors"
	"fmt"

	"propscout-engine/internal/domain"
)

// Page is one page of search results from a source.
type Page struct {
	Listings []domain.RawListing
	HasMore  bool
	Skipped  int // records the adapter could not parse on this page
}

// Adapter is the per-site capability set. One implementation per source;
// the scheduler depends only on this interface.
type Adapter interface {
	Name() domain.DataSource
	Search(ctx context.Context, criteria domain.SearchCriteria, page int) (Page, error)
	Detail(ctx context.Context, listingURL string) (domain.RawListing, error)
}

// ErrBlocked marks a detected access block: challenge page, 403/429, or an
// empty-but-valid response after a page that had results. The scheduler
// suspends the job's remaining pages instead of retrying.
var ErrBlocked = errors.New("source blocked access")

// TransientError wraps failures worth retrying: timeouts, 5xx, connection
// resets.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}
