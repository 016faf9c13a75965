// Package sched is the job scheduler core: cron-driven scheduling passes,
// priority-ordered submission to the task engine, persisted execution
// records, startup recovery, and a bounded shutdown drain.
package sched

import (
	"time"
)

// Config controls the scheduler service. The app layer maps
// config.scheduler into this struct.
type Config struct {
	Enabled  bool
	Timezone string

	// DrainTimeout bounds how long Stop waits for in-flight jobs.
	DrainTimeout time.Duration
	// DrainPoll is how often the drain re-checks the active set.
	DrainPoll time.Duration
	// StuckAfter marks recovered "running" records failed instead of
	// re-executing them when they have been running longer than this.
	StuckAfter time.Duration
	// RetentionDays keeps this many days of execution records before the
	// 03:00 cleanup purges them. 0 keeps only the current day.
	RetentionDays int

	// JobTimeout bounds a single job execution; 0 means no per-job timeout
	// beyond the engine default.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Minute
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = 5 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 2 * time.Hour
	}
	if c.RetentionDays < 0 {
		c.RetentionDays = 0
	}
	return c
}

// JobEvent is the event bus payload for job lifecycle events.
type JobEvent struct {
	Username    string        `json:"username"`
	JobID       string        `json:"job_id"`
	JobName     string        `json:"job_name,omitempty"`
	JobType     string        `json:"job_type"`
	ExecutionID string        `json:"execution_id"`
	Scheduled   time.Time     `json:"scheduled"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Snapshot is the scheduler view served by the admin surface.
type Snapshot struct {
	Enabled      bool        `json:"enabled"`
	Paused       bool        `json:"paused"`
	ShuttingDown bool        `json:"shutting_down"`
	ActiveJobs   []ActiveJob `json:"active_jobs"`
	DayTracked   int         `json:"day_tracked"`
}
