package sched

import (
	"context"
	"time"

	"herobot/internal/eventbus"
	"herobot/internal/jobs"
	"herobot/internal/session"
	"herobot/internal/storage"
	"herobot/internal/task/engine"
	logx "herobot/pkg/logx"
)

// Pass runs one scheduling sweep for a single job type: collect every due
// job across users, order by priority, submit to the engine. One user's
// bad settings or storage hiccup never aborts the rest of the pass.
func (s *Service) Pass(ctx context.Context, jobType jobs.Type, now time.Time) {
	if s.state.ShuttingDown() {
		return
	}
	if s.state.Paused() {
		s.log.Debug("pass skipped, scheduler paused", logx.String("type", string(jobType)))
		return
	}

	users, err := s.store.Users(ctx)
	if err != nil {
		s.log.Error("pass aborted, cannot load users",
			logx.String("type", string(jobType)), logx.Err(err))
		return
	}

	q := newRunQueue()
	for _, user := range users {
		s.collectDue(ctx, q, user, jobType, now)
	}
	if q.Len() == 0 {
		return
	}
	s.log.Debug("pass collected due jobs",
		logx.String("type", string(jobType)), logx.Int("count", q.Len()))

	for {
		it, ok := q.pop()
		if !ok {
			return
		}
		// A shutdown that lands mid-pass stops further submissions; jobs
		// already handed to the engine run to completion and drain.
		if s.state.ShuttingDown() {
			s.log.Info("pass stopped mid-drain, shutting down",
				logx.Int("remaining", q.Len()+1))
			return
		}
		if err := s.submit(ctx, it); err != nil {
			s.log.Warn("job submission failed",
				logx.String("username", it.username),
				logx.String("job", it.jobID),
				logx.Err(err))
		}
	}
}

func (s *Service) collectDue(ctx context.Context, q *runQueue, user storage.UserRecord, jobType jobs.Type, now time.Time) {
	if user.UserType == "admin" || !user.JobsEnabled {
		return
	}
	settings, err := jobs.ParseSettings(user.JobSettingsJSON)
	if err != nil {
		s.log.Warn("skipping user, bad job settings",
			logx.String("username", user.Username), logx.Err(err))
		return
	}

	for jobID, cfg := range settings {
		if cfg.Type != jobType || !cfg.Due(now) {
			continue
		}
		if _, _, ok := s.registry.Lookup(jobID); !ok {
			s.log.Warn("no executor registered, skipping",
				logx.String("username", user.Username), logx.String("job", jobID))
			continue
		}
		// Daily and weekly jobs run once per day; the in-memory tracker
		// stops the grace window from collecting the same job twice.
		if cfg.Type != jobs.TypeHourly && s.state.DayDone(jobs.DayKey(user.Username, jobID, now)) {
			continue
		}

		scheduled := cfg.ScheduledTime(now)
		execID := jobs.ExecutionID(jobID, scheduled)
		if s.state.IsActive(user.Username, execID) {
			continue
		}

		runnable, err := s.ensureRecord(ctx, user.Username, jobID, cfg, execID, scheduled)
		if err != nil {
			s.log.Error("cannot ensure execution record",
				logx.String("username", user.Username),
				logx.String("job", jobID),
				logx.Err(err))
			continue
		}
		if !runnable {
			continue
		}

		q.push(runItem{
			username:    user.Username,
			jobID:       jobID,
			cfg:         cfg,
			executionID: execID,
			scheduled:   scheduled,
			priority:    cfg.Priority(),
		})
	}
}

// ensureRecord gets the slot's record into a runnable state. The insert is
// conflict-free: when two passes race for the same slot, one creates the
// record and both then see it pending, but only one wins AddActive later.
// Returns false when the slot already ran (terminal) or is running now.
func (s *Service) ensureRecord(ctx context.Context, username, jobID string, cfg jobs.Config, execID string, scheduled time.Time) (bool, error) {
	created, err := s.store.CreateExecution(ctx, storage.ExecutionRecord{
		Username:      username,
		ExecutionID:   execID,
		JobID:         jobID,
		JobType:       string(cfg.Type),
		ScheduledTime: scheduled,
		Status:        storage.StatusPending,
	})
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}
	rec, err := s.store.GetExecution(ctx, username, execID)
	if err != nil {
		return false, err
	}
	return rec.Status == storage.StatusPending, nil
}

func (s *Service) submit(ctx context.Context, it runItem) error {
	s.mu.Lock()
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()

	return s.engine.Submit(ctx, engine.Task{
		ID:      it.username + "/" + it.executionID,
		Name:    it.username + "/" + it.jobID,
		Timeout: timeout,
		Run: func(runCtx context.Context) error {
			return s.runOne(runCtx, it)
		},
	})
}

// runOne is the per-job execution wrapper: lifecycle transitions on the
// record, the active set, the day tracker, and the event bus all happen
// here so executors stay plain functions.
func (s *Service) runOne(ctx context.Context, it runItem) error {
	// A backlogged engine queue can hold two copies of one slot: the grace
	// tick collects the job again while the first copy is still waiting for
	// a worker, and by the time the second copy runs the first has already
	// finished and released the active set. Re-check the day tracker and
	// the record right before running. Manual runs skip the tracker check:
	// an operator may rerun a daily job that already ran today.
	if !it.manual && it.cfg.Type != jobs.TypeHourly && s.state.DayDone(jobs.DayKey(it.username, it.jobID, it.scheduled)) {
		s.log.Debug("slot already ran today, skipping",
			logx.String("username", it.username), logx.String("job", it.jobID))
		return nil
	}
	if rec, err := s.store.GetExecution(ctx, it.username, it.executionID); err == nil && rec.Status.Terminal() {
		s.log.Debug("execution already finished, skipping",
			logx.String("username", it.username), logx.String("exec", it.executionID))
		return nil
	}

	if !s.state.AddActive(ActiveJob{
		Username:    it.username,
		JobID:       it.jobID,
		ExecutionID: it.executionID,
		StartedAt:   time.Now(),
	}) {
		s.log.Debug("execution already in flight, skipping",
			logx.String("username", it.username), logx.String("exec", it.executionID))
		return nil
	}
	defer s.state.RemoveActive(it.username, it.executionID)

	// The request registry collapses identical concurrent requests (same
	// user, same job, same account set) across scheduled and manual runs.
	reqKey := session.Key(it.username, it.jobID, it.cfg.Accounts)
	if !s.sessions.MarkActive(reqKey) {
		s.log.Info("identical request already running, skipping",
			logx.String("username", it.username), logx.String("job", it.jobID))
		s.publish(eventbus.TypeJobSkipped, it, 0, "duplicate request")
		return nil
	}
	defer s.sessions.MarkInactive(reqKey)

	if err := s.store.UpdateExecutionStatus(ctx, it.username, it.executionID, storage.StatusRunning, ""); err != nil {
		s.log.Error("cannot mark execution running",
			logx.String("exec", it.executionID), logx.Err(err))
		return err
	}
	if it.cfg.Type != jobs.TypeHourly {
		s.state.MarkDayDone(jobs.DayKey(it.username, it.jobID, it.scheduled), time.Now())
	}

	start := time.Now()
	s.log.Info("job started",
		logx.String("username", it.username),
		logx.String("job", it.jobID),
		logx.String("exec", it.executionID))
	s.publish(eventbus.TypeJobStarted, it, 0, "")

	err := s.registry.Execute(ctx, it.jobID, it.username, it.cfg)
	dur := time.Since(start)

	if err != nil {
		if uerr := s.store.UpdateExecutionStatus(ctx, it.username, it.executionID, storage.StatusFailed, err.Error()); uerr != nil {
			s.log.Error("cannot mark execution failed",
				logx.String("exec", it.executionID), logx.Err(uerr))
		}
		s.log.Warn("job failed",
			logx.String("username", it.username),
			logx.String("job", it.jobID),
			logx.Duration("dur", dur),
			logx.Err(err))
		s.publish(eventbus.TypeJobFailed, it, dur, err.Error())
	} else {
		if uerr := s.store.UpdateExecutionStatus(ctx, it.username, it.executionID, storage.StatusCompleted, ""); uerr != nil {
			s.log.Error("cannot mark execution completed",
				logx.String("exec", it.executionID), logx.Err(uerr))
		}
		s.log.Info("job completed",
			logx.String("username", it.username),
			logx.String("job", it.jobID),
			logx.Duration("dur", dur))
		s.publish(eventbus.TypeJobCompleted, it, dur, "")
	}

	// Hourly jobs keep the ledger one slot ahead so recovery can tell a
	// missed future run from a slot that never existed.
	if it.cfg.Type == jobs.TypeHourly {
		s.precreateNextHourly(ctx, it)
	}
	return err
}

func (s *Service) precreateNextHourly(ctx context.Context, it runItem) {
	next := it.cfg.NextHourlyTime(it.scheduled)
	nextID := jobs.ExecutionID(it.jobID, next)
	_, err := s.store.CreateExecution(ctx, storage.ExecutionRecord{
		Username:      it.username,
		ExecutionID:   nextID,
		JobID:         it.jobID,
		JobType:       string(it.cfg.Type),
		ScheduledTime: next,
		Status:        storage.StatusPending,
	})
	if err != nil {
		s.log.Warn("cannot pre-create next hourly record",
			logx.String("username", it.username),
			logx.String("job", it.jobID),
			logx.Err(err))
	}
}

func (s *Service) publish(eventType string, it runItem, dur time.Duration, errText string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventType,
		Time: time.Now(),
		Data: JobEvent{
			Username:    it.username,
			JobID:       it.jobID,
			JobName:     s.registry.DisplayName(it.jobID),
			JobType:     string(it.cfg.Type),
			ExecutionID: it.executionID,
			Scheduled:   it.scheduled,
			Duration:    dur,
			Error:       errText,
		},
	})
}
