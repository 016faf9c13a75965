package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")
)

// Config configures the persistence layer.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, lost on restart (tests, local runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is the lifecycle state of one execution record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExecutionRecord tracks one scheduled occurrence of one job for one user.
// Keyed by (Username, ExecutionID); ExecutionID embeds job ID and scheduled
// instant, so the key is unique per slot. Fields are additive-only.
type ExecutionRecord struct {
	Username      string
	ExecutionID   string
	JobID         string
	JobType       string
	ScheduledTime time.Time
	StartTime     time.Time // zero until first transition to running
	EndTime       time.Time // zero until terminal
	Status        Status
	ErrorMessage  string
}

// UserRecord is the slice of a user row the scheduler cares about.
type UserRecord struct {
	Username        string
	UserType        string // "player" or "admin"; admins are skipped
	JobsEnabled     bool   // master per-user scheduling toggle
	JobSettingsJSON string // jobs.Settings blob
}

// DailySummary aggregates one day's execution records for the admin surface.
type DailySummary struct {
	Date      string                  `json:"date"`
	Total     int                     `json:"total"`
	Pending   int                     `json:"pending"`
	Running   int                     `json:"running"`
	Completed int                     `json:"completed"`
	Failed    int                     `json:"failed"`
	ByUser    map[string]*UserSummary `json:"jobs_by_user"`
}

type UserSummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
