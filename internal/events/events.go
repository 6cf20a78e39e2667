package events

import (
	"encoding/json"
	"time"

	"propscout-engine/internal/domain"
)

// Event kinds emitted by the pipeline.
const (
	KindJobTransition  = "job_transition"
	KindAdapterError   = "adapter_error"
	KindRecordRejected = "record_rejected"
	KindRecordMerged   = "record_merged"
	KindRecordLoaded   = "record_loaded"
)

type Event struct {
	Kind   string            `json:"event_kind"`
	At     time.Time         `json:"at"`
	JobID  string            `json:"job_id,omitempty"`
	Source domain.DataSource `json:"data_source,omitempty"`
	Detail string            `json:"detail,omitempty"`
}

func Make(kind, jobID string, source domain.DataSource, detail string) string {
	e := Event{
		Kind:   kind,
		At:     time.Now().UTC(),
		JobID:  jobID,
		Source: source,
		Detail: detail,
	}
	b, _ := json.Marshal(e)
	return string(b)
}
