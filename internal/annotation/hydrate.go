package annotation

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// SnapshotVersion is the current sidecar format version. Version 1 wrote a
// missing baseline as null; version 2 omits it and keeps null for null.
const SnapshotVersion = 2

// Snapshot is the serializable form of a store: the ordered record log.
// The derived index is never persisted.
type Snapshot struct {
	Version     int       `json:"version"`
	SavedAt     time.Time `json:"saved_at"`
	Source      string    `json:"source,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Records     []Record  `json:"records"`
}

// Hydrate builds a store from a persisted record log. Records are validated,
// discard markers are re-applied to their targets, and the winner index is
// rebuilt by sorting on (committed_at, insertion index).
func Hydrate(records []Record, opts ...Option) (*Store, error) {
	s := NewStore(opts...)
	for i, rec := range records {
		if err := checkRecord(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := s.byID[rec.ID]; dup {
			return nil, fmt.Errorf("record %d: %w: duplicate id %s", i, ErrInvariant, rec.ID)
		}
		s.byID[rec.ID] = i
		s.records = append(s.records, rec.clone())
	}

	for i := range s.records {
		rec := &s.records[i]
		if !rec.IsMarker() {
			continue
		}
		target, ok := s.byID[rec.Supersedes]
		if !ok || s.records[target].IsMarker() {
			return nil, fmt.Errorf("record %d: %w: marker %s supersedes unknown record %s", i, ErrInvariant, rec.ID, rec.Supersedes)
		}
		s.records[target].Status = StatusDiscarded
	}

	s.rebuild()
	for i := range s.records {
		if t := s.records[i].CreatedAt; t.After(s.updatedAt) {
			s.updatedAt = t
		}
		if t := s.records[i].CommittedAt; t != nil && t.After(s.updatedAt) {
			s.updatedAt = *t
		}
	}
	return s, nil
}

func checkRecord(rec Record) error {
	switch {
	case rec.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvariant)
	case rec.EntityID == "" || rec.Attribute == "":
		return fmt.Errorf("%w: record %s has no entity or attribute", ErrInvariant, rec.ID)
	case !rec.Status.Valid():
		return fmt.Errorf("%w: record %s has unknown status %q", ErrInvariant, rec.ID, rec.Status)
	case !storable(rec.NewValue):
		return fmt.Errorf("%w: record %s has no value", ErrInvariant, rec.ID)
	case rec.IsMarker() && rec.Status != StatusDiscarded:
		return fmt.Errorf("%w: marker %s must be discarded", ErrInvariant, rec.ID)
	case rec.Status.active() && rec.CommittedAt == nil:
		return fmt.Errorf("%w: record %s is %s without committed_at", ErrInvariant, rec.ID, rec.Status)
	case rec.Status == StatusPending && rec.CommittedAt != nil:
		return fmt.Errorf("%w: pending record %s has committed_at", ErrInvariant, rec.ID)
	}
	return nil
}

// rebuild recomputes winners and the annotated set from the record log alone.
func (s *Store) rebuild() {
	s.winners = make(map[Key]int)
	s.annotated = make(map[graph.EntityID]map[string]struct{})

	var committed []int
	for i := range s.records {
		if !s.records[i].IsMarker() && s.records[i].CommittedAt != nil {
			committed = append(committed, i)
		}
	}
	sort.SliceStable(committed, func(a, b int) bool {
		return s.later(committed[b], committed[a])
	})
	for _, idx := range committed {
		s.winners[s.records[idx].key()] = idx
	}
	for k := range s.winners {
		s.syncKey(k)
	}
}

// Verify rebuilds the index from the log and compares it with the live one.
// A mismatch means the store can no longer be trusted.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	check := &Store{records: s.records}
	check.rebuild()
	if len(check.winners) != len(s.winners) {
		return fmt.Errorf("%w: index has %d keys, log implies %d", ErrInvariant, len(s.winners), len(check.winners))
	}
	for k, idx := range check.winners {
		if cur, ok := s.winners[k]; !ok || cur != idx {
			return fmt.Errorf("%w: %s.%s resolves to record %d, log implies %d", ErrInvariant, k.EntityID, k.Attribute, cur, idx)
		}
	}
	if len(check.annotated) != len(s.annotated) {
		return fmt.Errorf("%w: annotated entity set diverged", ErrInvariant)
	}
	for id, want := range check.annotated {
		got := s.annotated[id]
		if len(got) != len(want) {
			return fmt.Errorf("%w: %s has %d annotated attributes, log implies %d", ErrInvariant, id, len(got), len(want))
		}
		for attr := range want {
			if _, ok := got[attr]; !ok {
				return fmt.Errorf("%w: %s.%s missing from the annotated set", ErrInvariant, id, attr)
			}
		}
	}
	return nil
}

// EncodeSnapshot writes snap as indented JSON. A nil log is written as [].
func EncodeSnapshot(w io.Writer, snap Snapshot) error {
	if snap.Records == nil {
		snap.Records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot and checks its version
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w", err)
	}
	switch snap.Version {
	case SnapshotVersion:
	case 1:
		for i := range snap.Records {
			if b := snap.Records[i].Baseline; b != nil && b.IsNull() {
				snap.Records[i].Baseline = nil
			}
		}
		snap.Version = SnapshotVersion
	default:
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}
