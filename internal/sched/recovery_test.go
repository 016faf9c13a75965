package sched

import (
	"context"
	"strings"
	"testing"
	"time"

	"herobot/internal/jobs"
	"herobot/internal/storage"
)

func TestRecoverInitializesEmptyDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, 2)
	f.registerJob("wuguan", nil)
	f.registerJob("morning_routine", nil)
	f.registerJob("monday_routine", nil)
	f.addUser(t, "alice", "player", true, jobs.Settings{
		"wuguan":          {Type: jobs.TypeHourly, Enabled: true, Minute: 30},
		"morning_routine": {Type: jobs.TypeDaily, Enabled: true, Hour: 8, Minute: 15},
		"monday_routine":  {Type: jobs.TypeWeekly, Enabled: true, DayOfWeek: 0, Hour: 6},
		"disabled_job":    {Type: jobs.TypeDaily, Enabled: false, Hour: 9},
	})

	now := tick(12, 0)
	if err := f.svc.Recover(context.Background(), now); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	// Nothing is replayed on an empty day; the ledger is just laid down.
	if f.runCount() != 0 {
		t.Errorf("empty-day recovery ran jobs: %v", f.runLog())
	}

	ctx := context.Background()
	// Hourly: 24 slots, past ones recorded completed.
	past, err := f.store.GetExecution(ctx, "alice", jobs.ExecutionID("wuguan", tick(9, 30)))
	if err != nil || past.Status != storage.StatusCompleted {
		t.Errorf("past hourly slot: %+v err=%v", past, err)
	}
	future, err := f.store.GetExecution(ctx, "alice", jobs.ExecutionID("wuguan", tick(15, 30)))
	if err != nil || future.Status != storage.StatusPending {
		t.Errorf("future hourly slot: %+v err=%v", future, err)
	}

	// Daily slot at 08:15 is in the past of 12:00.
	daily, err := f.store.GetExecution(ctx, "alice", jobs.ExecutionID("morning_routine", tick(8, 15)))
	if err != nil || daily.Status != storage.StatusCompleted {
		t.Errorf("daily slot: %+v err=%v", daily, err)
	}

	// 2024-03-04 is a Monday, so the weekly slot exists.
	weekly, err := f.store.GetExecution(ctx, "alice", jobs.ExecutionID("monday_routine", tick(6, 0)))
	if err != nil || weekly.Status != storage.StatusCompleted {
		t.Errorf("weekly slot: %+v err=%v", weekly, err)
	}

	// Disabled jobs get no records.
	if _, err := f.store.GetExecution(ctx, "alice", jobs.ExecutionID("disabled_job", tick(9, 0))); err == nil {
		t.Error("disabled job should have no record")
	}

	sum, err := f.store.DailySummary(ctx, now)
	if err != nil {
		t.Fatalf("DailySummary: %v", err)
	}
	if sum.Total != 26 { // 24 hourly + 1 daily + 1 weekly
		t.Errorf("records written = %d, want 26", sum.Total)
	}
}

func TestRecoverRerunsMissedPending(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, 2)
	f.registerJob("morning_routine", nil)
	f.addUser(t, "alice", "player", true, jobs.Settings{
		"morning_routine": {Type: jobs.TypeDaily, Enabled: true, Hour: 8, Minute: 15},
	})

	execID := jobs.ExecutionID("morning_routine", tick(8, 15))
	err := f.store.UpsertExecution(context.Background(), storage.ExecutionRecord{
		Username: "alice", ExecutionID: execID, JobID: "morning_routine",
		JobType: "daily", ScheduledTime: tick(8, 15), Status: storage.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.svc.Recover(context.Background(), tick(12, 0)); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	// Recovery executes synchronously, so the record is already terminal.
	if f.runCount() != 1 {
		t.Fatalf("executor ran %d times, want 1", f.runCount())
	}
	rec, _ := f.store.GetExecution(context.Background(), "alice", execID)
	if rec.Status != storage.StatusCompleted {
		t.Errorf("recovered record status = %s, want completed", rec.Status)
	}
}

func TestRecoverMarksStuckRunningFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{StuckAfter: 2 * time.Hour}, 2)
	f.registerJob("wuguan", nil)
	f.addUser(t, "alice", "player", true, jobs.Settings{
		"wuguan": {Type: jobs.TypeHourly, Enabled: true, Minute: 30},
	})

	now := tick(12, 0)
	stuckID := jobs.ExecutionID("wuguan", tick(8, 30))
	err := f.store.UpsertExecution(context.Background(), storage.ExecutionRecord{
		Username: "alice", ExecutionID: stuckID, JobID: "wuguan", JobType: "hourly",
		ScheduledTime: tick(8, 30), StartTime: tick(8, 30),
		Status: storage.StatusRunning,
	})
	if err != nil {
		t.Fatalf("seed stuck: %v", err)
	}
	// Running for under the threshold: re-executed, not failed.
	freshID := jobs.ExecutionID("wuguan", tick(11, 30))
	err = f.store.UpsertExecution(context.Background(), storage.ExecutionRecord{
		Username: "alice", ExecutionID: freshID, JobID: "wuguan", JobType: "hourly",
		ScheduledTime: tick(11, 30), StartTime: tick(11, 30),
		Status: storage.StatusRunning,
	})
	if err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	if err := f.svc.Recover(context.Background(), now); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	stuck, _ := f.store.GetExecution(context.Background(), "alice", stuckID)
	if stuck.Status != storage.StatusFailed {
		t.Fatalf("stuck record status = %s, want failed", stuck.Status)
	}
	if !strings.Contains(stuck.ErrorMessage, "stuck") {
		t.Errorf("stuck error message = %q", stuck.ErrorMessage)
	}

	fresh, _ := f.store.GetExecution(context.Background(), "alice", freshID)
	if fresh.Status != storage.StatusCompleted {
		t.Errorf("fresh running record should be re-run to completion, got %s", fresh.Status)
	}
	if f.runCount() != 1 {
		t.Errorf("executor ran %d times, want 1 (the fresh record only)", f.runCount())
	}
}

func TestRecoverClosesOutUnrunnableRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, 2)
	f.registerJob("wuguan", nil)

	f.addUser(t, "disabled_user", "player", false, jobs.Settings{
		"wuguan": {Type: jobs.TypeHourly, Enabled: true, Minute: 30},
	})
	f.addUser(t, "carol", "player", true, jobs.Settings{
		"wuguan": {Type: jobs.TypeHourly, Enabled: true, Minute: 30},
	})

	ctx := context.Background()
	seed := func(user, jobID string, at time.Time) string {
		t.Helper()
		id := jobs.ExecutionID(jobID, at)
		err := f.store.UpsertExecution(ctx, storage.ExecutionRecord{
			Username: user, ExecutionID: id, JobID: jobID, JobType: "hourly",
			ScheduledTime: at, Status: storage.StatusPending,
		})
		if err != nil {
			t.Fatalf("seed %s/%s: %v", user, jobID, err)
		}
		return id
	}

	ghostID := seed("ghost", "wuguan", tick(8, 30))
	disabledID := seed("disabled_user", "wuguan", tick(9, 30))
	unconfiguredID := seed("carol", "fengyun", tick(10, 30))

	if err := f.svc.Recover(ctx, tick(12, 0)); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if f.runCount() != 0 {
		t.Errorf("nothing should have re-run: %v", f.runLog())
	}

	cases := []struct {
		user, id, wantReason string
	}{
		{"ghost", ghostID, "user no longer exists"},
		{"disabled_user", disabledID, "jobs disabled"},
		{"carol", unconfiguredID, "no longer configured"},
	}
	for _, tc := range cases {
		rec, err := f.store.GetExecution(ctx, tc.user, tc.id)
		if err != nil {
			t.Fatalf("get %s: %v", tc.id, err)
		}
		if rec.Status != storage.StatusFailed {
			t.Errorf("%s: status = %s, want failed", tc.id, rec.Status)
		}
		if !strings.Contains(rec.ErrorMessage, tc.wantReason) {
			t.Errorf("%s: reason = %q, want contains %q", tc.id, rec.ErrorMessage, tc.wantReason)
		}
	}
}

func TestRecoverNothingMissed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, 2)
	f.registerJob("wuguan", nil)
	f.addUser(t, "alice", "player", true, jobs.Settings{
		"wuguan": {Type: jobs.TypeHourly, Enabled: true, Minute: 30},
	})

	// Today's ledger exists and everything scheduled so far is terminal.
	err := f.store.UpsertExecution(context.Background(), storage.ExecutionRecord{
		Username: "alice", ExecutionID: jobs.ExecutionID("wuguan", tick(8, 30)),
		JobID: "wuguan", JobType: "hourly",
		ScheduledTime: tick(8, 30), Status: storage.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := f.svc.Recover(context.Background(), tick(9, 0)); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if f.runCount() != 0 {
		t.Error("nothing should run when nothing was missed")
	}
}

func TestCleanupRespectsRetention(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{RetentionDays: 2}, 2)

	ctx := context.Background()
	day := func(offset int) time.Time { return tick(8, 0).AddDate(0, 0, offset) }
	for _, off := range []int{-4, -3, -2, -1, 0} {
		at := day(off)
		err := f.store.UpsertExecution(ctx, storage.ExecutionRecord{
			Username:      "alice",
			ExecutionID:   jobs.ExecutionID("wuguan", at),
			JobID:         "wuguan",
			JobType:       "hourly",
			ScheduledTime: at,
			Status:        storage.StatusCompleted,
		})
		if err != nil {
			t.Fatalf("seed offset %d: %v", off, err)
		}
	}

	f.svc.Cleanup(ctx, tick(12, 0))

	// Cutoff is the start of today minus two days: -3 and -4 are purged.
	recs, err := f.store.RecentExecutions(ctx, "alice", 100)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("surviving records = %d, want 3", len(recs))
	}
	for _, rec := range recs {
		if rec.ScheduledTime.Before(day(-2)) {
			t.Errorf("record older than retention survived: %v", rec.ScheduledTime)
		}
	}
}

func TestInitializeDayResetsTracker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{}, 2)

	yesterday := tick(8, 0).AddDate(0, 0, -1)
	f.state.MarkDayDone(jobs.DayKey("alice", "morning_routine", yesterday), yesterday)
	f.state.MarkDayDone(jobs.DayKey("alice", "morning_routine", tick(8, 0)), tick(8, 0))

	if err := f.svc.InitializeDay(context.Background(), tick(0, 0)); err != nil {
		t.Fatalf("InitializeDay: %v", err)
	}
	if got := f.state.DayTrackedCount(); got != 1 {
		t.Errorf("tracker entries after reset = %d, want 1 (today only)", got)
	}
}
