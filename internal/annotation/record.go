// Package annotation tracks user corrections to graph entity attributes as an
// append-only log of records plus a derived index of the values that win.
package annotation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Status is the lifecycle state of a record
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusConflicted Status = "conflicted"
	StatusDiscarded  Status = "discarded"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCommitted, StatusConflicted, StatusDiscarded:
		return true
	}
	return false
}

// active statuses contribute to the effective view
func (s Status) active() bool {
	return s == StatusCommitted || s == StatusConflicted
}

// canMove enforces forward-only transitions:
// pending -> committed | discarded, committed -> conflicted | discarded, conflicted -> discarded.
func canMove(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCommitted || to == StatusDiscarded
	case StatusCommitted:
		return to == StatusConflicted || to == StatusDiscarded
	case StatusConflicted:
		return to == StatusDiscarded
	}
	return false
}

// Record is one user-authored correction, or a discard marker when Supersedes is set.
type Record struct {
	ID          string         `json:"id"`
	EntityID    graph.EntityID `json:"entity_id"`
	Attribute   string         `json:"attribute_name"`
	NewValue    graph.Value    `json:"new_value"`
	Baseline    *graph.Value   `json:"baseline_value,omitempty"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CommittedAt *time.Time     `json:"committed_at"`
	Supersedes  string         `json:"supersedes,omitempty"`
}

// UnmarshalJSON keeps an explicit null baseline apart from a missing one
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		Baseline json.RawMessage `json:"baseline_value"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Baseline = nil
	if aux.Baseline != nil {
		var b graph.Value
		if err := b.UnmarshalJSON(aux.Baseline); err != nil {
			return fmt.Errorf("baseline_value: %w", err)
		}
		r.Baseline = &b
	}
	return nil
}

// Key identifies the attribute a record targets
type Key struct {
	EntityID  graph.EntityID
	Attribute string
}

func (r *Record) key() Key { return Key{EntityID: r.EntityID, Attribute: r.Attribute} }

// IsMarker reports whether the record only marks another record as discarded
func (r *Record) IsMarker() bool { return r.Supersedes != "" }

// NoOp reports whether the staged value equals its baseline, meaning committing
// it changes nothing functionally.
func (r *Record) NoOp() bool {
	return r.Baseline != nil && r.Baseline.Equal(r.NewValue)
}

func (r Record) clone() Record {
	if r.Baseline != nil {
		b := *r.Baseline
		r.Baseline = &b
	}
	if r.CommittedAt != nil {
		c := *r.CommittedAt
		r.CommittedAt = &c
	}
	return r
}
