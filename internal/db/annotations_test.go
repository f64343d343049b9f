package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// setupTestDB opens an in-memory database with the annotation schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testStore(t *testing.T) *annotation.Store {
	t.Helper()
	clock := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	return annotation.NewStore(
		annotation.WithClock(func() time.Time {
			clock = clock.Add(1500 * time.Microsecond)
			return clock
		}),
		annotation.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("rec-%d", seq)
		}),
	)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	d := setupTestDB(t)
	s := testStore(t)

	base := graph.Int(10)
	id, _ := s.Stage("n1", "weight", graph.Int(12), &base)
	if err := s.Commit(id); err != nil {
		t.Fatal(err)
	}
	other, _ := s.Stage("n1", "smiles", graph.String("CCO"), nil)
	if _, err := s.Discard(other); err != nil {
		t.Fatal(err)
	}

	if err := d.SaveRecords("/data/net.graphml", "fp1", s.Records()); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	got, err := d.LoadRecords("/data/net.graphml")
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	want := s.Records()
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Status != want[i].Status || got[i].Supersedes != want[i].Supersedes {
			t.Errorf("record %d: got %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("record %d: created_at %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
		if (got[i].CommittedAt == nil) != (want[i].CommittedAt == nil) {
			t.Errorf("record %d: committed_at presence differs", i)
		}
	}
	if got[0].Baseline == nil || !got[0].Baseline.Equal(graph.Int(10)) {
		t.Errorf("baseline not restored: %v", got[0].Baseline)
	}
	if got[0].NewValue.Kind() != graph.KindInt {
		t.Errorf("new_value kind = %v, want int", got[0].NewValue.Kind())
	}
	if got[1].Baseline != nil {
		t.Errorf("absent baseline must stay absent")
	}

	hydrated, err := annotation.Hydrate(got)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	v, ok := hydrated.EffectiveValue("n1", "weight")
	if !ok || !v.Equal(graph.Int(12)) {
		t.Errorf("effective weight = %v, %v", v, ok)
	}
}

// sub-millisecond commit ordering must survive storage
func TestSaveLoad_KeepsNanosecondOrder(t *testing.T) {
	d := setupTestDB(t)
	s := testStore(t)

	first, _ := s.Stage("n1", "w", graph.Int(1), nil)
	second, _ := s.Stage("n1", "w", graph.Int(2), nil)
	if err := s.Commit(second); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(first); err != nil {
		t.Fatal(err)
	}

	if err := d.SaveRecords("p", "", s.Records()); err != nil {
		t.Fatal(err)
	}
	records, err := d.LoadRecords("p")
	if err != nil {
		t.Fatal(err)
	}
	hydrated, err := annotation.Hydrate(records)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := hydrated.EffectiveValue("n1", "w")
	if !v.Equal(graph.Int(1)) {
		t.Errorf("got %v, want the later commit (1)", v)
	}
}

func TestSaveRecords_AppendsAndUpdates(t *testing.T) {
	d := setupTestDB(t)
	s := testStore(t)

	id, _ := s.Stage("n1", "w", graph.Int(1), nil)
	if err := d.SaveRecords("p", "fp1", s.Records()); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(id); err != nil {
		t.Fatal(err)
	}
	s.Stage("n2", "w", graph.Int(2), nil)
	if err := d.SaveRecords("p", "fp2", s.Records()); err != nil {
		t.Fatal(err)
	}

	records, err := d.LoadRecords("p")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Status != annotation.StatusCommitted || records[0].CommittedAt == nil {
		t.Errorf("status update not stored: %+v", records[0])
	}

	sources, err := d.ListSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].Records != 2 || sources[0].Fingerprint != "fp2" {
		t.Errorf("unexpected sources: %+v", sources)
	}
}

func TestSaveRecords_RejectsDivergedLog(t *testing.T) {
	d := setupTestDB(t)
	s := testStore(t)
	s.Stage("n1", "w", graph.Int(1), nil)
	s.Stage("n1", "w", graph.Int(2), nil)
	if err := d.SaveRecords("p", "", s.Records()); err != nil {
		t.Fatal(err)
	}

	t.Run("shorter", func(t *testing.T) {
		err := d.SaveRecords("p", "", s.Records()[:1])
		if !errors.Is(err, ErrLogDiverged) {
			t.Errorf("got %v, want ErrLogDiverged", err)
		}
	})

	t.Run("different ids", func(t *testing.T) {
		other := testStore(t)
		other.Stage("n9", "w", graph.Int(1), nil)
		other.Stage("n9", "w", graph.Int(1), nil)
		records := other.Records()
		records[0].ID = "foreign"
		err := d.SaveRecords("p", "", records)
		if !errors.Is(err, ErrLogDiverged) {
			t.Errorf("got %v, want ErrLogDiverged", err)
		}
	})

	records, _ := d.LoadRecords("p")
	if len(records) != 2 {
		t.Errorf("failed saves must not change the stored log, got %d records", len(records))
	}
}

func TestLoadRecords_UnknownSource(t *testing.T) {
	d := setupTestDB(t)
	records, err := d.LoadRecords("nowhere")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty log, got %d", len(records))
	}
}

func TestDeleteSource_Cascades(t *testing.T) {
	d := setupTestDB(t)
	s := testStore(t)
	s.Stage("n1", "w", graph.Int(1), nil)
	if err := d.SaveRecords("p", "", s.Records()); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteSource("p"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := d.Conn().QueryRow(`SELECT COUNT(*) FROM annotations`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("annotations left after delete: %d", n)
	}
}
