package sched

import (
	"context"
	"time"

	"herobot/internal/jobs"
	"herobot/internal/storage"
	logx "herobot/pkg/logx"
)

// Recover reconciles the execution ledger with reality after a restart.
// Runs synchronously before cron triggering begins so recovered jobs
// cannot race freshly scheduled ones.
//
// Two cases:
//   - empty ledger for today (first boot of the day, or the process was
//     down at midnight): lay down the day's records instead of replaying;
//     past slots are recorded completed so the bot does not hammer the
//     game with a day's worth of catch-up runs.
//   - records exist: fetch pending/running ones scheduled in the past.
//     A record stuck in running for longer than StuckAfter is marked
//     failed without re-execution; everything else runs once, here, with
//     the normal status transitions.
func (s *Service) Recover(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	has, err := s.store.HasExecutionsOn(ctx, now)
	if err != nil {
		return err
	}
	if !has {
		s.log.Info("no execution records for today, initializing day")
		return s.InitializeDay(ctx, now)
	}

	missed, err := s.store.MissedExecutions(ctx, now)
	if err != nil {
		return err
	}
	if len(missed) == 0 {
		s.log.Info("recovery: nothing missed")
		return nil
	}
	s.log.Info("recovery: processing missed executions", logx.Int("count", len(missed)))

	for _, rec := range missed {
		if s.state.ShuttingDown() {
			return nil
		}
		if rec.Status == storage.StatusRunning && s.looksStuck(rec, now, cfg.StuckAfter) {
			s.log.Warn("marking stuck execution failed",
				logx.String("username", rec.Username),
				logx.String("exec", rec.ExecutionID))
			if err := s.store.UpdateExecutionStatus(ctx, rec.Username, rec.ExecutionID,
				storage.StatusFailed, "likely stuck, marked failed on restart"); err != nil {
				s.log.Error("cannot fail stuck execution",
					logx.String("exec", rec.ExecutionID), logx.Err(err))
			}
			continue
		}
		s.recoverOne(ctx, rec)
	}
	return nil
}

func (s *Service) looksStuck(rec storage.ExecutionRecord, now time.Time, stuckAfter time.Duration) bool {
	since := rec.StartTime
	if since.IsZero() {
		since = rec.ScheduledTime
	}
	return now.Sub(since) > stuckAfter
}

// recoverOne re-executes a single missed record synchronously. The job's
// current settings are looked up fresh; a job that was removed or disabled
// since the record was written is closed out as failed, not replayed.
func (s *Service) recoverOne(ctx context.Context, rec storage.ExecutionRecord) {
	closeOut := func(reason string) {
		if err := s.store.UpdateExecutionStatus(ctx, rec.Username, rec.ExecutionID,
			storage.StatusFailed, reason); err != nil {
			s.log.Error("cannot close out missed execution",
				logx.String("exec", rec.ExecutionID), logx.Err(err))
		}
	}

	user, err := s.store.GetUser(ctx, rec.Username)
	if err != nil {
		s.log.Warn("missed execution for unknown user",
			logx.String("username", rec.Username),
			logx.String("exec", rec.ExecutionID), logx.Err(err))
		closeOut("user no longer exists")
		return
	}
	if !user.JobsEnabled {
		closeOut("jobs disabled for user")
		return
	}
	settings, err := jobs.ParseSettings(user.JobSettingsJSON)
	if err != nil {
		closeOut("unreadable job settings")
		return
	}
	cfg, ok := settings[rec.JobID]
	if !ok || !cfg.Enabled {
		closeOut("job no longer configured")
		return
	}
	if _, _, ok := s.registry.Lookup(rec.JobID); !ok {
		closeOut("no executor registered")
		return
	}

	s.log.Info("re-running missed execution",
		logx.String("username", rec.Username),
		logx.String("job", rec.JobID),
		logx.Time("scheduled", rec.ScheduledTime))
	_ = s.runOne(ctx, runItem{
		username:    rec.Username,
		jobID:       rec.JobID,
		cfg:         cfg,
		executionID: rec.ExecutionID,
		scheduled:   rec.ScheduledTime,
	})
}

// InitializeDay writes the day's execution records up front: one per slot
// per enabled job per user, past slots recorded completed and future ones
// pending. Also resets the in-memory day tracker. Runs at midnight and
// from recovery when today's ledger is empty.
func (s *Service) InitializeDay(ctx context.Context, now time.Time) error {
	dropped := s.state.ResetDayTracker(now.Format("2006-01-02"))
	if dropped > 0 {
		s.log.Debug("day tracker reset", logx.Int("dropped", dropped))
	}

	users, err := s.store.Users(ctx)
	if err != nil {
		return err
	}

	written := 0
	for _, user := range users {
		if user.UserType == "admin" || !user.JobsEnabled {
			continue
		}
		settings, err := jobs.ParseSettings(user.JobSettingsJSON)
		if err != nil {
			s.log.Warn("day init skipping user, bad job settings",
				logx.String("username", user.Username), logx.Err(err))
			continue
		}
		for jobID, cfg := range settings {
			if !cfg.Enabled {
				continue
			}
			for _, slot := range cfg.SlotsOn(now) {
				status := storage.StatusPending
				if slot.Before(now) {
					status = storage.StatusCompleted
				}
				rec := storage.ExecutionRecord{
					Username:      user.Username,
					ExecutionID:   jobs.ExecutionID(jobID, slot),
					JobID:         jobID,
					JobType:       string(cfg.Type),
					ScheduledTime: slot,
					Status:        status,
				}
				if err := s.store.UpsertExecution(ctx, rec); err != nil {
					s.log.Error("day init upsert failed",
						logx.String("username", user.Username),
						logx.String("exec", rec.ExecutionID),
						logx.Err(err))
					continue
				}
				written++
			}
		}
	}
	s.log.Info("day initialized",
		logx.String("date", now.Format("2006-01-02")), logx.Int("records", written))
	return nil
}

// Cleanup purges execution records older than the retention window.
func (s *Service) Cleanup(ctx context.Context, now time.Time) {
	s.mu.Lock()
	keep := s.cfg.RetentionDays
	s.mu.Unlock()

	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -keep)
	n, err := s.store.CleanupBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("cleanup failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("old execution records purged",
			logx.Int("removed", n), logx.Time("cutoff", cutoff))
	}
}
