// Package store keeps the history of installation runs in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Installation struct {
	UUID          string
	InProgress    bool
	Success       *bool
	Tasks         *int
	FailureReason *string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

type InstallationRow struct {
	Installation
	ID int
}

func (r InstallationRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, in_progress: %t", r.UUID, r.InProgress)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.Tasks != nil {
		fmt.Fprintf(&sb, ", tasks: %d", *r.Tasks)
	} else {
		sb.WriteString(", tasks: nil")
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	} else {
		sb.WriteString(", failure_reason: nil")
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS installations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			tasks INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}

// Start persists, on success, information that an installation identified by 'uuid' is in progress.
// If the installation is still in progress, no error is returned,
// if it has already finished ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, uuid string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM installations WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO installations (uuid, in_progress, started_at) VALUES (?,?,?);`,
		uuid, true, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns info about an installation identified by 'uuid' on success,
// ErrNotFound when it does not exist,
// error otherwise.
func Get(ctx context.Context, db *sql.DB, uuid string) (InstallationRow, error) {
	var (
		row        InstallationRow
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, uuid, in_progress, success, tasks, failure_reason, started_at, finished_at
		 FROM installations WHERE uuid=?`, uuid,
	).Scan(
		&row.ID,
		&row.UUID,
		&row.InProgress,
		&row.Success,
		&row.Tasks,
		&row.FailureReason,
		&startedAt,
		&finishedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return InstallationRow{}, ErrNotFound
	case err != nil:
		return InstallationRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}

	row.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		row.FinishedAt = &t
	}
	return row, nil
}

// finish marks the in progress installation 'uuid' as finished.
func finish(ctx context.Context, db *sql.DB, uuid string, success bool, tasks int, reason *string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM installations WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE installations
		 SET
			in_progress = false,
			success = ?,
			tasks = ?,
			failure_reason = ?,
			finished_at = ?
		WHERE uuid = ?;
		`, success, tasks, reason, time.Now().Unix(), uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// FinishOK stores information that the installation 'uuid' has finished
// successfully after running tasks,
// if it has already finished, ErrAlreadyFinished is returned.
func FinishOK(ctx context.Context, db *sql.DB, uuid string, tasks int) error {
	return finish(ctx, db, uuid, true, tasks, nil)
}

// FinishErr stores information that the installation 'uuid' has failed
// after tasks finished tasks and stores the failure reason with it.
func FinishErr(ctx context.Context, db *sql.DB, uuid string, tasks int, reason string) error {
	return finish(ctx, db, uuid, false, tasks, &reason)
}

func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM installations WHERE uuid=?`, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}

	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetching affected rows failed: %w", err)
	}
	if ra != 1 {
		return ErrNotFound
	}
	return nil
}

// Prune deletes finished installations older than before and returns
// their number. Installations in progress are kept.
func Prune(ctx context.Context, db *sql.DB, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM installations WHERE in_progress = false AND finished_at < ?`, before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("executing sql delete failed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fetching affected rows failed: %w", err)
	}
	return ra, nil
}
