package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "herobot/pkg/logx"
)

// Store is the persistence API used by the scheduler and admin layers:
// the execution ledger plus the user settings table.
type Store interface {
	// Execution ledger.

	// CreateExecution inserts a pending record for the slot and reports
	// whether this call created it. A false return with nil error means a
	// record for (username, executionID) already existed; the caller lost
	// the slot and must not run the job again.
	CreateExecution(ctx context.Context, rec ExecutionRecord) (created bool, err error)

	// UpsertExecution writes the record unconditionally (day-start
	// initialization, which may pre-mark past slots completed).
	UpsertExecution(ctx context.Context, rec ExecutionRecord) error

	GetExecution(ctx context.Context, username, executionID string) (ExecutionRecord, error)

	// UpdateExecutionStatus transitions a record. "running" sets StartTime
	// once; terminal statuses set EndTime and the optional error text.
	UpdateExecutionStatus(ctx context.Context, username, executionID string, status Status, errorMessage string) error

	// MissedExecutions returns pending/running records with a scheduled
	// time strictly before now.
	MissedExecutions(ctx context.Context, now time.Time) ([]ExecutionRecord, error)

	// ActiveExecutions returns records currently marked running.
	ActiveExecutions(ctx context.Context) ([]ExecutionRecord, error)

	// RecentExecutions returns up to limit records, newest scheduled first,
	// optionally filtered by username ("" = all users).
	RecentExecutions(ctx context.Context, username string, limit int) ([]ExecutionRecord, error)

	// HasExecutionsOn reports whether any record is scheduled on the given day.
	HasExecutionsOn(ctx context.Context, day time.Time) (bool, error)

	// CleanupBefore deletes records scheduled before the cutoff and returns
	// how many were removed.
	CleanupBefore(ctx context.Context, cutoff time.Time) (int, error)

	DailySummary(ctx context.Context, day time.Time) (DailySummary, error)

	// User settings table.

	Users(ctx context.Context) ([]UserRecord, error)
	GetUser(ctx context.Context, username string) (UserRecord, error)
	UpsertUser(ctx context.Context, u UserRecord) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
