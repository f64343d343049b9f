package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// ErrLogDiverged means the stored log is not a prefix of the log being saved
var ErrLogDiverged = errors.New("stored annotation log diverged")

// scanRecord scans a row into a Record. The row must have the 9 annotation columns in standard order.
func scanRecord(scanner interface{ Scan(dest ...any) error }) (annotation.Record, error) {
	var (
		r           annotation.Record
		newValue    string
		baseline    sql.NullString
		status      string
		createdAt   int64
		committedAt sql.NullInt64
		supersedes  sql.NullString
	)
	err := scanner.Scan(
		&r.ID, &r.EntityID, &r.Attribute, &newValue, &baseline,
		&status, &createdAt, &committedAt, &supersedes,
	)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(newValue), &r.NewValue); err != nil {
		return r, fmt.Errorf("record %s: decoding new_value: %w", r.ID, err)
	}
	if baseline.Valid {
		var b graph.Value
		if err := json.Unmarshal([]byte(baseline.String), &b); err != nil {
			return r, fmt.Errorf("record %s: decoding baseline: %w", r.ID, err)
		}
		r.Baseline = &b
	}
	r.Status = annotation.Status(status)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if committedAt.Valid {
		t := time.Unix(0, committedAt.Int64).UTC()
		r.CommittedAt = &t
	}
	r.Supersedes = supersedes.String
	return r, nil
}

// SaveRecords stores the annotation log for a source path in one transaction.
// The log is append-only: rows already stored must match the leading records by
// id, only their status and committed_at are updated, and new records are appended.
func (d *DB) SaveRecords(sourcePath, fingerprint string, records []annotation.Record) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var sourceID int64
	err = tx.QueryRow(`
		INSERT INTO sources (path, fingerprint, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET fingerprint = excluded.fingerprint, saved_at = excluded.saved_at
		RETURNING id
	`, sourcePath, fingerprint, time.Now().UnixMilli()).Scan(&sourceID)
	if err != nil {
		return fmt.Errorf("upserting source: %w", err)
	}

	rows, err := tx.Query(`SELECT id FROM annotations WHERE source_id = ? ORDER BY position`, sourceID)
	if err != nil {
		return fmt.Errorf("reading stored log: %w", err)
	}
	var stored []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stored = append(stored, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(stored) > len(records) {
		return fmt.Errorf("%w: %s has %d stored records, saving %d", ErrLogDiverged, sourcePath, len(stored), len(records))
	}
	for i, id := range stored {
		if records[i].ID != id {
			return fmt.Errorf("%w: %s at position %d (stored %s, saving %s)", ErrLogDiverged, sourcePath, i, id, records[i].ID)
		}
		if _, err := tx.Exec(
			`UPDATE annotations SET status = ?, committed_at = ? WHERE source_id = ? AND position = ?`,
			string(records[i].Status), nanos(records[i].CommittedAt), sourceID, i,
		); err != nil {
			return fmt.Errorf("updating record %s: %w", id, err)
		}
	}

	for i := len(stored); i < len(records); i++ {
		r := records[i]
		newValue, err := json.Marshal(r.NewValue)
		if err != nil {
			return fmt.Errorf("record %s: encoding new_value: %w", r.ID, err)
		}
		var baseline sql.NullString
		if r.Baseline != nil {
			b, err := json.Marshal(*r.Baseline)
			if err != nil {
				return fmt.Errorf("record %s: encoding baseline: %w", r.ID, err)
			}
			baseline = sql.NullString{String: string(b), Valid: true}
		}
		var supersedes sql.NullString
		if r.Supersedes != "" {
			supersedes = sql.NullString{String: r.Supersedes, Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT INTO annotations (source_id, position, id, entity_id, attribute, new_value,
			                         baseline, status, created_at, committed_at, supersedes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sourceID, i, r.ID, string(r.EntityID), r.Attribute, string(newValue),
			baseline, string(r.Status), r.CreatedAt.UnixNano(), nanos(r.CommittedAt), supersedes,
		); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// LoadRecords returns the stored log for a source path in insertion order.
// An unknown path yields an empty log.
func (d *DB) LoadRecords(sourcePath string) ([]annotation.Record, error) {
	rows, err := d.conn.Query(`
		SELECT a.id, a.entity_id, a.attribute, a.new_value, a.baseline,
		       a.status, a.created_at, a.committed_at, a.supersedes
		FROM annotations a JOIN sources s ON s.id = a.source_id
		WHERE s.path = ?
		ORDER BY a.position
	`, sourcePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []annotation.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListSources returns every source with a stored log, ordered by path
func (d *DB) ListSources() ([]SourceInfo, error) {
	rows, err := d.conn.Query(`
		SELECT s.id, s.path, s.fingerprint, s.saved_at, COUNT(a.id)
		FROM sources s LEFT JOIN annotations a ON a.source_id = s.id
		GROUP BY s.id
		ORDER BY s.path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceInfo
	for rows.Next() {
		var s SourceInfo
		if err := rows.Scan(&s.ID, &s.Path, &s.Fingerprint, &s.SavedAt, &s.Records); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSource removes a source and its log
func (d *DB) DeleteSource(sourcePath string) error {
	_, err := d.conn.Exec(`DELETE FROM sources WHERE path = ?`, sourcePath)
	return err
}
