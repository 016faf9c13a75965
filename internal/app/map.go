package app

import (
	"time"

	"herobot/internal/config"
	"herobot/internal/sched"
	"herobot/internal/storage"
	"herobot/internal/task/engine"
	"herobot/internal/web"
	logx "herobot/pkg/logx"
)

// Config mapping lives here so the service packages stay free of the
// on-disk representation (duration strings, pointers-for-omitted).

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = "./herobot.db"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	if cfg.TaskEngine.Enabled != nil {
		enabled = *cfg.TaskEngine.Enabled
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        enabled,
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: defTimeout,
		HistorySize:    cfg.TaskEngine.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (sched.Config, error) {
	drain, err := config.ParseDurationOrDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout, 30*time.Minute)
	if err != nil {
		return sched.Config{}, err
	}
	poll, err := config.ParseDurationOrDefault("scheduler.drain_poll", cfg.Scheduler.DrainPoll, 5*time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	stuck, err := config.ParseDurationOrDefault("scheduler.stuck_after", cfg.Scheduler.StuckAfter, 2*time.Hour)
	if err != nil {
		return sched.Config{}, err
	}
	jobTimeout, err := config.ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{
		Enabled:       cfg.Scheduler.Enabled,
		Timezone:      cfg.Scheduler.Timezone,
		DrainTimeout:  drain,
		DrainPoll:     poll,
		StuckAfter:    stuck,
		RetentionDays: cfg.Scheduler.RetentionDays,
		JobTimeout:    jobTimeout,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (web.Config, error) {
	read, err := config.ParseDurationField("admin.read_timeout", cfg.Admin.ReadTimeout)
	if err != nil {
		return web.Config{}, err
	}
	write, err := config.ParseDurationField("admin.write_timeout", cfg.Admin.WriteTimeout)
	if err != nil {
		return web.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", cfg.Admin.IdleTimeout, 60*time.Second)
	if err != nil {
		return web.Config{}, err
	}
	return web.Config{
		Enabled:      cfg.Admin.Enabled,
		Addr:         cfg.Admin.Addr,
		Token:        cfg.Admin.Token,
		RatePerSec:   cfg.Admin.RatePerSec,
		Burst:        cfg.Admin.Burst,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
