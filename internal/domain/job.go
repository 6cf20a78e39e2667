package domain

import "time"

// JobStatus is the lifecycle of a scrape job. Transitions are one-way:
// pending → running → succeeded/failed, with cancelled reachable from
// pending or running.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCancelled:
		return true
	}
	return false
}

// JobCounts are the per-record counters accumulated while a job runs.
// validated is everything fetched that was neither rejected nor skipped.
type JobCounts struct {
	Fetched   int `json:"fetched"`
	Validated int `json:"validated"`
	Rejected  int `json:"rejected"`
	Skipped   int `json:"skipped"`
	Merged    int `json:"merged"`
	Loaded    int `json:"loaded"`
}

// Job is one scrape run against a single source. Completed jobs are kept
// for history; they are archived rather than deleted.
type Job struct {
	ID           string         `json:"id"`
	Source       DataSource     `json:"source"`
	Criteria     SearchCriteria `json:"criteria"`
	MaxPages     int            `json:"max_pages"`
	Status       JobStatus      `json:"status"`
	Counts       JobCounts      `json:"counts"`
	AttemptCount int            `json:"attempt_count"`
	Error        string         `json:"error,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Archived     bool           `json:"archived,omitempty"`
}
