package httpapi

import (
	"context"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/events"
	"propscout-engine/internal/store"
)

// PropertyLister is the read side of the property store.
type PropertyLister interface {
	ListProperties(ctx context.Context, opts store.ListOpts) ([]domain.Property, error)
}

// JobRunner is what the API needs from the scheduler.
type JobRunner interface {
	Submit(ctx context.Context, source domain.DataSource, criteria domain.SearchCriteria, maxPages int) (domain.Job, error)
	Cancel(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
	Archive(ctx context.Context, id string) error
}

type Deps struct {
	Runner     JobRunner
	Properties PropertyLister
	Hub        *events.Hub
}
