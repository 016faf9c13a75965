package config

import (
	"fmt"
	"strings"
)

// Validate applies semantic checks the strict decoder cannot express.
// Used directly at startup and as the Watch validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	for _, f := range []struct{ path, raw string }{
		{"scheduler.drain_timeout", cfg.Scheduler.DrainTimeout},
		{"scheduler.drain_poll", cfg.Scheduler.DrainPoll},
		{"scheduler.stuck_after", cfg.Scheduler.StuckAfter},
		{"scheduler.job_timeout", cfg.Scheduler.JobTimeout},
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("scheduler.retention_days: must be >= 0")
	}
	if cfg.TaskEngine.Workers < 0 {
		return fmt.Errorf("task_engine.workers: must be >= 0")
	}

	if cfg.Notify.Enabled {
		if strings.TrimSpace(cfg.Notify.Token) == "" {
			return fmt.Errorf("notify.token: required when notify is enabled")
		}
		if cfg.Notify.ChatID == 0 {
			return fmt.Errorf("notify.chat_id: required when notify is enabled")
		}
	}

	if cfg.Admin.Enabled {
		addr := strings.TrimSpace(cfg.Admin.Addr)
		if addr != "" && !strings.HasPrefix(addr, "127.0.0.1") &&
			!strings.HasPrefix(addr, "localhost") && strings.TrimSpace(cfg.Admin.Token) == "" {
			return fmt.Errorf("admin.token: required for non-loopback bind %q", addr)
		}
	}
	return nil
}
