package annotation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/google/uuid"
)

// Store holds the annotation log for one graph document.
//
// records is append-only and is the source of truth. winners maps each
// (entity, attribute) key to the record that most recently committed for it,
// ordered by (committed_at, insertion index); the key is effective only while
// that record is committed or conflicted. Discarding the winner therefore falls
// back to the source value, never to an older superseded record.
type Store struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int
	winners map[Key]int
	// entity -> attributes whose winner is active
	annotated map[graph.EntityID]map[string]struct{}
	updatedAt time.Time

	now   func() time.Time
	newID func() string

	// commitHook runs for each record of a CommitAllPending batch before
	// anything is applied. Tests use it to simulate an invariant failure.
	commitHook func(r *Record) error
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for created_at and committed_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides record id generation
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:      make(map[string]int),
		winners:   make(map[Key]int),
		annotated: make(map[graph.EntityID]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage records a pending correction and returns its id. baseline is the source
// value observed when the correction was made, or nil if the attribute did not exist.
// Re-staging the same attribute is allowed; the latest commit wins.
func (s *Store) Stage(entityID graph.EntityID, attribute string, value graph.Value, baseline *graph.Value) (string, error) {
	if entityID == "" || attribute == "" {
		return "", fmt.Errorf("%w: entity and attribute are required", ErrInvalidValue)
	}
	if !storable(value) {
		return "", fmt.Errorf("%w: %s.%s: value must not be null", ErrInvalidValue, entityID, attribute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageLocked(entityID, attribute, value, baseline), nil
}

func (s *Store) stageLocked(entityID graph.EntityID, attribute string, value graph.Value, baseline *graph.Value) string {
	var b *graph.Value
	if baseline != nil {
		v := *baseline
		b = &v
	}
	rec := Record{
		ID:        s.newID(),
		EntityID:  entityID,
		Attribute: attribute,
		NewValue:  value,
		Baseline:  b,
		Status:    StatusPending,
		CreatedAt: s.now(),
	}
	s.appendLocked(rec)
	return rec.ID
}

func (s *Store) appendLocked(rec Record) {
	s.byID[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	s.updatedAt = rec.CreatedAt
}

// Commit moves a pending record to committed and makes it the winner for its key
func (s *Store) Commit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.commitLocked(id)
	return err
}

func (s *Store) commitLocked(id string) (int, error) {
	idx, err := s.transitionLocked(id, StatusCommitted)
	if err != nil {
		return 0, err
	}
	now := s.now()
	rec := &s.records[idx]
	rec.CommittedAt = &now
	s.updatedAt = now

	k := rec.key()
	if cur, ok := s.winners[k]; !ok || s.later(idx, cur) {
		s.winners[k] = idx
	}
	s.syncKey(k)
	return idx, nil
}

// CommitAllPending commits every pending record in insertion order and returns
// their ids. The batch is prepared against a scratch copy of the index; if any
// record fails the invariant checks nothing is applied.
func (s *Store) CommitAllPending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []int
	for i := range s.records {
		if s.records[i].Status == StatusPending {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	now := s.now()
	scratch := make(map[Key]int)
	for _, idx := range pending {
		rec := s.records[idx]
		if s.commitHook != nil {
			if err := s.commitHook(&rec); err != nil {
				return nil, fmt.Errorf("%w: committing %s: %v", ErrInvariant, rec.ID, err)
			}
		}
		if !canMove(rec.Status, StatusCommitted) || !storable(rec.NewValue) {
			return nil, fmt.Errorf("%w: record %s cannot be committed", ErrInvariant, rec.ID)
		}
		// Same timestamp for the whole batch: insertion order breaks the tie.
		k := rec.key()
		if _, staged := scratch[k]; staged {
			scratch[k] = idx
			continue
		}
		cur, ok := s.winners[k]
		if !ok {
			scratch[k] = idx
			continue
		}
		curT := *s.records[cur].CommittedAt
		if now.After(curT) || (now.Equal(curT) && idx > cur) {
			scratch[k] = idx
		}
	}

	ids := make([]string, 0, len(pending))
	for _, idx := range pending {
		t := now
		s.records[idx].Status = StatusCommitted
		s.records[idx].CommittedAt = &t
		ids = append(ids, s.records[idx].ID)
	}
	for k, idx := range scratch {
		s.winners[k] = idx
		s.syncKey(k)
	}
	s.updatedAt = now
	return ids, nil
}

// Discard marks a pending, committed or conflicted record as discarded and
// appends a marker record that supersedes it. It returns the marker's id.
func (s *Store) Discard(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discardLocked(id)
}

func (s *Store) discardLocked(id string) (string, error) {
	idx, err := s.transitionLocked(id, StatusDiscarded)
	if err != nil {
		return "", err
	}
	target := s.records[idx]
	marker := Record{
		ID:         s.newID(),
		EntityID:   target.EntityID,
		Attribute:  target.Attribute,
		NewValue:   target.NewValue,
		Baseline:   target.clone().Baseline,
		Status:     StatusDiscarded,
		CreatedAt:  s.now(),
		Supersedes: target.ID,
	}
	s.appendLocked(marker)
	s.syncKey(target.key())
	return marker.ID, nil
}

// MarkConflicted flags committed records whose source value changed underneath
// them. Every id is checked before any is marked: either all move or none do.
// The records stay authoritative in the effective view.
func (s *Store) MarkConflicted(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idxs := make([]int, 0, len(ids))
	for _, id := range ids {
		idx, ok := s.byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		rec := s.records[idx]
		if rec.IsMarker() || !canMove(rec.Status, StatusConflicted) {
			return &TransitionError{RecordID: id, From: rec.Status, To: StatusConflicted}
		}
		idxs = append(idxs, idx)
	}
	for _, idx := range idxs {
		s.records[idx].Status = StatusConflicted
		s.syncKey(s.records[idx].key())
	}
	return nil
}

// Rebaseline resolves a conflicted record by discarding it and committing a fresh
// record with the same user value and baseline as the new source value.
// It returns the id of the new committed record.
func (s *Store) Rebaseline(id string, baseline *graph.Value) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	target := s.records[idx]
	if target.Status != StatusConflicted {
		return "", &TransitionError{RecordID: id, From: target.Status, To: StatusCommitted}
	}
	if _, err := s.discardLocked(id); err != nil {
		return "", err
	}
	newID := s.stageLocked(target.EntityID, target.Attribute, target.NewValue, baseline)
	if _, err := s.commitLocked(newID); err != nil {
		return "", err
	}
	return newID, nil
}

// storable reports whether v can be the value of a correction
func storable(v graph.Value) bool { return v.IsValid() && !v.IsNull() }

func (s *Store) transitionLocked(id string, to Status) (int, error) {
	idx, ok := s.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	rec := &s.records[idx]
	if rec.IsMarker() || !canMove(rec.Status, to) {
		return 0, &TransitionError{RecordID: id, From: rec.Status, To: to}
	}
	rec.Status = to
	return idx, nil
}

// later reports whether record i beats record j for the same key:
// later committed_at wins, then later insertion index.
func (s *Store) later(i, j int) bool {
	ti, tj := s.records[i].CommittedAt, s.records[j].CommittedAt
	if ti.Equal(*tj) {
		return i > j
	}
	return ti.After(*tj)
}

func (s *Store) syncKey(k Key) {
	idx, ok := s.winners[k]
	if ok && s.records[idx].Status.active() {
		attrs := s.annotated[k.EntityID]
		if attrs == nil {
			attrs = make(map[string]struct{})
			s.annotated[k.EntityID] = attrs
		}
		attrs[k.Attribute] = struct{}{}
		return
	}
	if attrs := s.annotated[k.EntityID]; attrs != nil {
		delete(attrs, k.Attribute)
		if len(attrs) == 0 {
			delete(s.annotated, k.EntityID)
		}
	}
}

// EffectiveValue returns the committed value for an attribute, if any.
// Callers fall back to the source document when ok is false.
func (s *Store) EffectiveValue(entityID graph.EntityID, attribute string) (graph.Value, bool) {
	rec, ok := s.Active(entityID, attribute)
	if !ok {
		return graph.Value{}, false
	}
	return rec.NewValue, true
}

// Active returns the winning committed or conflicted record for an attribute
func (s *Store) Active(entityID graph.EntityID, attribute string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.winners[Key{EntityID: entityID, Attribute: attribute}]
	if !ok || !s.records[idx].Status.active() {
		return Record{}, false
	}
	return s.records[idx].clone(), true
}

// ActiveRecords returns every winning record in insertion order
func (s *Store) ActiveRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idxs := make([]int, 0, len(s.winners))
	for _, idx := range s.winners {
		if s.records[idx].Status.active() {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	out := make([]Record, len(idxs))
	for i, idx := range idxs {
		out[i] = s.records[idx].clone()
	}
	return out
}

// IsAnnotated reports whether the entity has at least one effective annotation
func (s *Store) IsAnnotated(entityID graph.EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.annotated[entityID]) > 0
}

// HasAnnotations reports whether any entity is annotated
func (s *Store) HasAnnotations() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.annotated) > 0
}

// AnnotatedEntities returns the sorted ids of entities with effective annotations
func (s *Store) AnnotatedEntities() []graph.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]graph.EntityID, 0, len(s.annotated))
	for id := range s.annotated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Overrides returns the effective annotated values of one entity, sorted by attribute name
func (s *Store) Overrides(entityID graph.EntityID) []graph.Attr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := s.annotated[entityID]
	if len(attrs) == 0 {
		return nil
	}
	out := make([]graph.Attr, 0, len(attrs))
	for name := range attrs {
		idx := s.winners[Key{EntityID: entityID, Attribute: name}]
		out = append(out, graph.Attr{Name: name, Value: s.records[idx].NewValue})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a copy of a record by id
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[idx].clone(), true
}

// History returns every record touching the entity, in insertion order
func (s *Store) History(entityID graph.EntityID) []Record {
	return s.filter(func(r *Record) bool { return r.EntityID == entityID })
}

// Pending returns the records still awaiting commit
func (s *Store) Pending() []Record {
	return s.filter(func(r *Record) bool { return r.Status == StatusPending })
}

// Conflicted returns the records flagged by conflict detection and not yet resolved
func (s *Store) Conflicted() []Record {
	return s.filter(func(r *Record) bool { return r.Status == StatusConflicted })
}

// Records returns a copy of the whole log, suitable for snapshotting
func (s *Store) Records() []Record {
	return s.filter(func(*Record) bool { return true })
}

// Len returns the number of records in the log
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) filter(keep func(*Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for i := range s.records {
		if keep(&s.records[i]) {
			out = append(out, s.records[i].clone())
		}
	}
	return out
}

// Summary counts records by status
type Summary struct {
	Total             int        `json:"total"`
	Pending           int        `json:"pending"`
	Committed         int        `json:"committed"`
	Conflicted        int        `json:"conflicted"`
	Discarded         int        `json:"discarded"`
	AnnotatedEntities int        `json:"annotated_entities"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
}

// Summary reports annotation statistics. Discard markers are not counted.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for i := range s.records {
		r := &s.records[i]
		if r.IsMarker() {
			continue
		}
		sum.Total++
		switch r.Status {
		case StatusPending:
			sum.Pending++
		case StatusCommitted:
			sum.Committed++
		case StatusConflicted:
			sum.Conflicted++
		case StatusDiscarded:
			sum.Discarded++
		}
	}
	sum.AnnotatedEntities = len(s.annotated)
	if !s.updatedAt.IsZero() {
		t := s.updatedAt
		sum.LastUpdate = &t
	}
	return sum
}
