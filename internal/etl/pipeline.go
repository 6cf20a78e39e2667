package etl

import (
	"context"
	"log"
	"strings"
	"time"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/events"
)

// Outcome routes one raw listing's counters after the full
// validate → transform → dedupe → score → load chain.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeLoaded
	OutcomeMerged
	OutcomeFailed // storage gave up on this record
)

// Pipeline is one sequential processing instance. Workers each run their
// own records through a shared Pipeline; all state lives in the loader's
// store behind per-fingerprint locks.
type Pipeline struct {
	Loader *Loader
	Hub    *events.Hub
}

// Process pushes a single raw listing through the chain. Validation and
// transformation are in-memory; only the load step touches storage.
func (pl *Pipeline) Process(ctx context.Context, jobID string, raw domain.RawListing) Outcome {
	rep := Validate(raw, time.Now().UTC())
	if rep.Rejected {
		reason := strings.Join(rep.Reasons, "; ")
		log.Printf("[etl:%s] rejected url=%q: %s", raw.Source, raw.SourceURL, reason)
		if pl.Hub != nil {
			pl.Hub.Publish(events.Make(events.KindRecordRejected, jobID, raw.Source, reason))
		}
		return OutcomeRejected
	}
	if len(rep.Flags) > 0 {
		log.Printf("[etl:%s] flagged url=%q: %s", raw.Source, raw.SourceURL, strings.Join(rep.Flags, "; "))
	}

	candidate := Transform(raw)

	merged, err := pl.Loader.Load(ctx, jobID, candidate)
	if err != nil {
		log.Printf("[etl:%s] load failed url=%q: %v", raw.Source, raw.SourceURL, err)
		return OutcomeFailed
	}
	if merged {
		return OutcomeMerged
	}
	return OutcomeLoaded
}
