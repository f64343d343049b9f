package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrBackupFailed means the pre-write backup could not be created; nothing was written.
	ErrBackupFailed = errors.New("backup failed")

	// ErrSerializeFailed means the serializer rejected the materialized document.
	ErrSerializeFailed = errors.New("serialize failed")

	// ErrPersistFailed means the write did not complete and the source was restored from backup.
	ErrPersistFailed = errors.New("persist failed")

	// ErrBackupNotFound is returned by rollback for an id unknown to the source path.
	ErrBackupNotFound = errors.New("backup not found")

	// ErrStaleSource means the file on disk no longer matches the document being persisted.
	// Reload, re-run conflict detection and retry.
	ErrStaleSource = errors.New("source changed since it was loaded")
)

// Error carries the context of a failed persistence operation
type Error struct {
	Op         string // backup, serialize, write, rollback
	Path       string
	BackupID   string
	RolledBack bool
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Path)
	if e.BackupID != "" {
		msg += fmt.Sprintf(" (backup %s", e.BackupID)
		if e.RolledBack {
			msg += ", restored"
		}
		msg += ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
