// Package conflict compares a reloaded document with the baselines recorded
// on committed annotations and flags fields the source changed independently.
package conflict

import (
	"fmt"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Conflict is a field where the source moved away from the recorded baseline
// to a value that also disagrees with the user's annotation.
type Conflict struct {
	RecordID  string         `json:"record_id"`
	EntityID  graph.EntityID `json:"entity_id"`
	Attribute string         `json:"attribute_name"`
	Baseline  graph.Value    `json:"baseline_value"`
	// External is nil when the attribute or its entity no longer exists in the source.
	External *graph.Value `json:"external_value"`
	User     graph.Value  `json:"user_value"`
}

func (c Conflict) String() string {
	ext := "<absent>"
	if c.External != nil {
		ext = c.External.String()
	}
	return fmt.Sprintf("%s.%s: baseline=%s external=%s user=%s", c.EntityID, c.Attribute, c.Baseline, ext, c.User)
}

// Outcome classifies one checked record
type Outcome int

const (
	Unchanged  Outcome = iota // source still equals the baseline
	Converged                 // source now equals the user's value
	Conflicted                // source differs from both
	NoBaseline                // nothing to compare against
)

// Report is the result of a detection pass
type Report struct {
	Conflicts  []Conflict `json:"conflicts"`
	Checked    int        `json:"checked"`
	Unchanged  int        `json:"unchanged"`
	Converged  int        `json:"converged"`
	NoBaseline int        `json:"no_baseline"`
}

// Store is the part of the annotation store detection needs
type Store interface {
	ActiveRecords() []annotation.Record
	// MarkConflicted flags all ids or none of them
	MarkConflicted(ids ...string) error
}

// Classify compares one record with the current source value
func Classify(rec annotation.Record, current graph.Value, present bool) Outcome {
	if rec.Baseline == nil {
		return NoBaseline
	}
	if present && current.Equal(*rec.Baseline) {
		return Unchanged
	}
	if present && current.Equal(rec.NewValue) {
		return Converged
	}
	return Conflicted
}

// Check runs detection without changing the store. Only committed winners are
// examined: records already flagged, superseded or pending are skipped.
func Check(doc *graph.Document, store Store) *Report {
	report := &Report{}
	for _, rec := range store.ActiveRecords() {
		if rec.Status != annotation.StatusCommitted {
			continue
		}
		report.Checked++
		current, present := doc.Attr(rec.EntityID, rec.Attribute)
		switch Classify(rec, current, present) {
		case NoBaseline:
			report.NoBaseline++
		case Unchanged:
			report.Unchanged++
		case Converged:
			report.Converged++
		case Conflicted:
			c := Conflict{
				RecordID:  rec.ID,
				EntityID:  rec.EntityID,
				Attribute: rec.Attribute,
				Baseline:  *rec.Baseline,
				User:      rec.NewValue,
			}
			if present {
				v := current
				c.External = &v
			}
			report.Conflicts = append(report.Conflicts, c)
		}
	}
	return report
}

// Detect runs Check and marks every conflicting record CONFLICTED in one step,
// so a failure leaves the store as it was. Conflicts are never resolved here;
// the user's value stays in effect until discarded or rebaselined.
func Detect(doc *graph.Document, store Store) (*Report, error) {
	report := Check(doc, store)
	if len(report.Conflicts) == 0 {
		return report, nil
	}
	ids := make([]string, len(report.Conflicts))
	for i, c := range report.Conflicts {
		ids[i] = c.RecordID
	}
	if err := store.MarkConflicted(ids...); err != nil {
		return report, fmt.Errorf("marking %d records conflicted: %w", len(ids), err)
	}
	return report, nil
}
