package types

import (
	"encoding/json"
	"time"
)

// EntityStatus is the outcome of processing one audit entry
type EntityStatus string

const (
	EntityCommitted EntityStatus = "committed"
	EntitySkipped   EntityStatus = "skipped"
	EntityFailed    EntityStatus = "failed"
)

// EntityResult records what happened to one audit entry during a cycle
type EntityResult struct {
	Raw       string           `json:"raw"`
	Ref       *EntityReference `json:"ref,omitempty"`
	User      string           `json:"user"`
	Timestamp int64            `json:"timestamp"`
	Status    EntityStatus     `json:"status"`
	Path      string           `json:"path,omitempty"`
	SHA       string           `json:"sha,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// CycleReport summarizes one sync cycle
type CycleReport struct {
	RunID      string         `json:"run_id"`
	Window     SyncWindow     `json:"window"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Entries    int            `json:"entries"`
	Committed  int            `json:"committed"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Results    []EntityResult `json:"results,omitempty"`
}

// Add appends a result and updates the counters
func (r *CycleReport) Add(res EntityResult) {
	switch res.Status {
	case EntityCommitted:
		r.Committed++
	case EntitySkipped:
		r.Skipped++
	case EntityFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// HasFailures reports whether any entity failed to commit
func (r *CycleReport) HasFailures() bool {
	return r.Failed > 0
}

// Duration returns how long the cycle took
func (r *CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToJSON converts CycleReport to JSON
func (r *CycleReport) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON converts JSON to CycleReport
func (r *CycleReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
