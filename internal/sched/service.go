package sched

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"herobot/internal/eventbus"
	"herobot/internal/jobs"
	"herobot/internal/session"
	"herobot/internal/storage"
	"herobot/internal/task/engine"
	logx "herobot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store    storage.Store
	registry *jobs.Registry
	sessions *session.Registry
	engine   *engine.Service
	state    *State

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
}

func New(cfg Config, store storage.Store, registry *jobs.Registry, sessions *session.Registry, eng *engine.Service, state *State, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if state == nil {
		state = NewState()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		store:    store,
		registry: registry,
		sessions: sessions,
		engine:   eng,
		state:    state,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) State() *State { return s.state }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg.withDefaults()

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start registers the cron entries and begins triggering passes.
// Recovery is expected to have run already; Start does not block.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cur := s.cfg
	if !cur.Enabled {
		s.log.Debug("scheduler disabled, not starting")
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.registerEntriesLocked()
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()))
}

func (s *Service) registerEntriesLocked() {
	// Every minute: daily then hourly, so a shared minute drains in one
	// deterministic order.
	_, _ = s.c.AddFunc("* * * * *", func() {
		now := s.now()
		s.Pass(context.Background(), jobs.TypeDaily, now)
		s.Pass(context.Background(), jobs.TypeHourly, now)
	})
	// Weekly jobs match on (day, hour); one pass per hour boundary is enough.
	_, _ = s.c.AddFunc("0 * * * *", func() {
		s.Pass(context.Background(), jobs.TypeWeekly, s.now())
	})
	// Midnight: lay down the day's execution records, reset the day tracker.
	_, _ = s.c.AddFunc("0 0 * * *", func() {
		s.InitializeDay(context.Background(), s.now())
	})
	// 03:00: purge records older than the retention window.
	_, _ = s.c.AddFunc("0 3 * * *", func() {
		s.Cleanup(context.Background(), s.now())
	})
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.registerEntriesLocked()
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) now() time.Time {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	return time.Now().In(loc)
}

// Stop flips the shutdown flag, stops cron triggering, then drains:
// waits (bounded by DrainTimeout, polling every DrainPoll) until no
// executions remain in flight. Jobs already submitted run to completion.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.state.BeginShutdown()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cfg := s.cfg
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// Running cron callbacks observe the shutdown flag themselves.
		}
	}

	s.drain(ctx, cfg)
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) drain(ctx context.Context, cfg Config) {
	n := s.state.ActiveCount()
	if n == 0 {
		return
	}
	s.log.Info("draining in-flight jobs",
		logx.Int("active", n), logx.Duration("timeout", cfg.DrainTimeout))

	deadline := time.Now().Add(cfg.DrainTimeout)
	ticker := time.NewTicker(cfg.DrainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Warn("drain interrupted",
				logx.Int("still_active", s.state.ActiveCount()), logx.Err(ctx.Err()))
			return
		case <-ticker.C:
		}
		n = s.state.ActiveCount()
		if n == 0 {
			s.log.Info("drain complete")
			return
		}
		if time.Now().After(deadline) {
			for _, j := range s.state.ActiveJobs() {
				s.log.Warn("job still running at drain timeout",
					logx.String("username", j.Username),
					logx.String("job", j.JobID),
					logx.Duration("running_for", time.Since(j.StartedAt)))
			}
			return
		}
		s.log.Debug("waiting for jobs to finish", logx.Int("active", n))
	}
}

// Pause suspends scheduling passes; in-flight jobs are unaffected.
func (s *Service) Pause() {
	s.state.Pause()
	s.log.Info("scheduler paused")
}

func (s *Service) Resume() {
	s.state.Resume()
	s.log.Info("scheduler resumed")
}

// RunJobNow runs one job for one user immediately, bypassing the due
// check but not the dedup layers. The execution record is keyed to the
// current minute so repeated manual runs in the same minute collapse.
func (s *Service) RunJobNow(ctx context.Context, username, jobID string) error {
	if s.state.ShuttingDown() {
		return fmt.Errorf("scheduler is shutting down")
	}

	user, err := s.store.GetUser(ctx, username)
	if err != nil {
		return fmt.Errorf("load user %s: %w", username, err)
	}
	settings, err := jobs.ParseSettings(user.JobSettingsJSON)
	if err != nil {
		return fmt.Errorf("parse settings for %s: %w", username, err)
	}
	cfg, ok := settings[jobID]
	if !ok {
		return fmt.Errorf("job %s not configured for %s", jobID, username)
	}
	if _, _, ok := s.registry.Lookup(jobID); !ok {
		return fmt.Errorf("no executor for job %s", jobID)
	}

	now := s.now()
	scheduled := now.Truncate(time.Minute)
	execID := jobs.ExecutionID(jobID, scheduled)
	if s.state.IsActive(username, execID) {
		return fmt.Errorf("job %s already running for %s", jobID, username)
	}
	runnable, err := s.ensureRecord(ctx, username, jobID, cfg, execID, scheduled)
	if err != nil {
		return err
	}
	if !runnable {
		return fmt.Errorf("execution %s already ran or is running", execID)
	}

	return s.submit(ctx, runItem{
		username:    username,
		jobID:       jobID,
		cfg:         cfg,
		executionID: execID,
		scheduled:   scheduled,
		manual:      true,
	})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	return Snapshot{
		Enabled:      enabled,
		Paused:       s.state.Paused(),
		ShuttingDown: s.state.ShuttingDown(),
		ActiveJobs:   s.state.ActiveJobs(),
		DayTracked:   s.state.DayTrackedCount(),
	}
}
