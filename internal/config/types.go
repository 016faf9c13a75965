package config

// Config is the full on-disk configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON so the strict decoder covers both.
// All durations are Go duration strings (e.g. "500ms", "10s", "30m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine,omitempty"`
	Notify     NotifyConfig     `json:"notify,omitempty"`
	Admin      AdminConfig      `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors to the operator chat via the
// notify bot. Independent from notify.enabled failure events.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`                 // "sqlite" (default) or "memory"
	Path        string `json:"path"`                   // sqlite file path
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	DrainTimeout  string `json:"drain_timeout,omitempty"`  // default "30m"
	DrainPoll     string `json:"drain_poll,omitempty"`     // default "5s"
	StuckAfter    string `json:"stuck_after,omitempty"`    // default "2h"
	RetentionDays int    `json:"retention_days,omitempty"` // default 0 (today only)
	JobTimeout    string `json:"job_timeout,omitempty"`    // default none
}

// TaskEngineConfig controls the execution pool.
//
// Enabled is a pointer so "omitted" (follow scheduler.enabled) can be told
// apart from an explicit false.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"` // default min(32, NumCPU+4)
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// AdminConfig controls the local admin HTTP API.
//
// Prefer binding to localhost. Non-loopback binds should set a token.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:8177"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	// Token-bucket limit applied to mutating endpoints.
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // default 5
	Burst      int     `json:"burst,omitempty"`        // default 10

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
