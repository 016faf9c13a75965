package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "herobot/pkg/logx"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func slot(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestCreateExecutionConflict(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := ExecutionRecord{
				Username:      "alice",
				ExecutionID:   "wuguan_2024-03-04_08:15:00",
				JobID:         "wuguan",
				JobType:       "daily",
				ScheduledTime: slot(4, 8, 15),
			}
			created, err := st.CreateExecution(ctx, rec)
			if err != nil || !created {
				t.Fatalf("first create: created=%v err=%v", created, err)
			}
			created, err = st.CreateExecution(ctx, rec)
			if err != nil {
				t.Fatalf("second create: %v", err)
			}
			if created {
				t.Error("second create for the same slot should report created=false")
			}

			got, err := st.GetExecution(ctx, "alice", rec.ExecutionID)
			if err != nil {
				t.Fatalf("GetExecution: %v", err)
			}
			if got.Status != StatusPending {
				t.Errorf("status = %q, want pending", got.Status)
			}
			// Same execution ID under a different user is a distinct record.
			created, err = st.CreateExecution(ctx, ExecutionRecord{
				Username:      "bob",
				ExecutionID:   rec.ExecutionID,
				JobID:         "wuguan",
				JobType:       "daily",
				ScheduledTime: rec.ScheduledTime,
			})
			if err != nil || !created {
				t.Errorf("other-user create: created=%v err=%v", created, err)
			}
		})
	}
}

func TestUpdateExecutionStatusTransitions(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := ExecutionRecord{
				Username:      "alice",
				ExecutionID:   "fengyun_2024-03-04_20:00:00",
				JobID:         "fengyun",
				JobType:       "daily",
				ScheduledTime: slot(4, 20, 0),
			}
			if _, err := st.CreateExecution(ctx, rec); err != nil {
				t.Fatalf("create: %v", err)
			}

			if err := st.UpdateExecutionStatus(ctx, "alice", rec.ExecutionID, StatusRunning, ""); err != nil {
				t.Fatalf("to running: %v", err)
			}
			got, _ := st.GetExecution(ctx, "alice", rec.ExecutionID)
			if got.Status != StatusRunning || got.StartTime.IsZero() {
				t.Fatalf("running transition: status=%q start=%v", got.Status, got.StartTime)
			}
			if !got.EndTime.IsZero() {
				t.Error("end time set before terminal state")
			}
			firstStart := got.StartTime

			// A second running transition must not move the start time.
			if err := st.UpdateExecutionStatus(ctx, "alice", rec.ExecutionID, StatusRunning, ""); err != nil {
				t.Fatalf("re-running: %v", err)
			}
			got, _ = st.GetExecution(ctx, "alice", rec.ExecutionID)
			if !got.StartTime.Equal(firstStart) {
				t.Errorf("start time moved: %v -> %v", firstStart, got.StartTime)
			}

			if err := st.UpdateExecutionStatus(ctx, "alice", rec.ExecutionID, StatusFailed, "backend timeout"); err != nil {
				t.Fatalf("to failed: %v", err)
			}
			got, _ = st.GetExecution(ctx, "alice", rec.ExecutionID)
			if got.Status != StatusFailed || got.EndTime.IsZero() || got.ErrorMessage != "backend timeout" {
				t.Errorf("failed transition: %+v", got)
			}

			if err := st.UpdateExecutionStatus(ctx, "alice", "no_such_execution", StatusRunning, ""); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing record: err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMissedExecutions(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := slot(4, 12, 0)

			add := func(id string, at time.Time, status Status) {
				t.Helper()
				err := st.UpsertExecution(ctx, ExecutionRecord{
					Username: "alice", ExecutionID: id, JobID: "wuguan", JobType: "hourly",
					ScheduledTime: at, Status: status,
				})
				if err != nil {
					t.Fatalf("upsert %s: %v", id, err)
				}
			}
			add("past_pending", slot(4, 8, 0), StatusPending)
			add("past_running", slot(4, 9, 0), StatusRunning)
			add("past_done", slot(4, 10, 0), StatusCompleted)
			add("future_pending", slot(4, 14, 0), StatusPending)

			missed, err := st.MissedExecutions(ctx, now)
			if err != nil {
				t.Fatalf("MissedExecutions: %v", err)
			}
			if len(missed) != 2 {
				t.Fatalf("missed = %d records, want 2: %+v", len(missed), missed)
			}
			// Oldest scheduled first.
			if missed[0].ExecutionID != "past_pending" || missed[1].ExecutionID != "past_running" {
				t.Errorf("order: %s, %s", missed[0].ExecutionID, missed[1].ExecutionID)
			}

			active, err := st.ActiveExecutions(ctx)
			if err != nil {
				t.Fatalf("ActiveExecutions: %v", err)
			}
			if len(active) != 1 || active[0].ExecutionID != "past_running" {
				t.Errorf("active = %+v", active)
			}
		})
	}
}

func TestMissedExecutionsAcrossOffsets(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cst := time.FixedZone("CST", 8*3600)
			// 23:00+08:00 is 15:00 UTC; the record is written with the
			// non-UTC offset a configured scheduler timezone produces.
			scheduled := time.Date(2024, 3, 4, 23, 0, 0, 0, cst)
			created, err := st.CreateExecution(ctx, ExecutionRecord{
				Username:      "alice",
				ExecutionID:   "wuguan_2024-03-04_23:00:00",
				JobID:         "wuguan",
				JobType:       "hourly",
				ScheduledTime: scheduled,
			})
			if err != nil || !created {
				t.Fatalf("create: created=%v err=%v", created, err)
			}

			// One hour after the slot in UTC terms: the record is missed.
			missed, err := st.MissedExecutions(ctx, time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC))
			if err != nil {
				t.Fatalf("MissedExecutions: %v", err)
			}
			if len(missed) != 1 {
				t.Fatalf("record scheduled 1h before now not reported missed: %+v", missed)
			}
			if !missed[0].ScheduledTime.Equal(scheduled) {
				t.Errorf("scheduled time instant changed: %v", missed[0].ScheduledTime)
			}

			// One hour before the slot it is not missed yet.
			missed, err = st.MissedExecutions(ctx, time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC))
			if err != nil {
				t.Fatalf("MissedExecutions: %v", err)
			}
			if len(missed) != 0 {
				t.Errorf("future record reported missed: %+v", missed)
			}

			// Day queries and cleanup compare the same instant, not the
			// rendered offset.
			ok, err := st.HasExecutionsOn(ctx, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
			if err != nil || !ok {
				t.Errorf("UTC day query missed the record: ok=%v err=%v", ok, err)
			}
			n, err := st.CleanupBefore(ctx, time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC))
			if err != nil || n != 1 {
				t.Errorf("cleanup across offsets: n=%d err=%v", n, err)
			}
		})
	}
}

func TestHasExecutionsOnAndCleanup(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := st.HasExecutionsOn(ctx, slot(4, 0, 0))
			if err != nil || ok {
				t.Fatalf("empty day: ok=%v err=%v", ok, err)
			}

			for day := 1; day <= 4; day++ {
				err := st.UpsertExecution(ctx, ExecutionRecord{
					Username:      "alice",
					ExecutionID:   "wuguan_" + slot(day, 8, 0).Format("2006-01-02_15:04:05"),
					JobID:         "wuguan",
					JobType:       "daily",
					ScheduledTime: slot(day, 8, 0),
					Status:        StatusCompleted,
				})
				if err != nil {
					t.Fatalf("upsert day %d: %v", day, err)
				}
			}

			ok, err = st.HasExecutionsOn(ctx, slot(4, 23, 59))
			if err != nil || !ok {
				t.Fatalf("populated day: ok=%v err=%v", ok, err)
			}

			n, err := st.CleanupBefore(ctx, slot(3, 0, 0))
			if err != nil {
				t.Fatalf("CleanupBefore: %v", err)
			}
			if n != 2 {
				t.Errorf("cleaned %d records, want 2", n)
			}
			ok, _ = st.HasExecutionsOn(ctx, slot(1, 0, 0))
			if ok {
				t.Error("day 1 should be empty after cleanup")
			}
			ok, _ = st.HasExecutionsOn(ctx, slot(3, 0, 0))
			if !ok {
				t.Error("day 3 should survive cleanup")
			}
		})
	}
}

func TestDailySummary(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			add := func(user, id string, status Status) {
				t.Helper()
				err := st.UpsertExecution(ctx, ExecutionRecord{
					Username: user, ExecutionID: id, JobID: "wuguan", JobType: "hourly",
					ScheduledTime: slot(4, 8, 0), Status: status,
				})
				if err != nil {
					t.Fatalf("upsert: %v", err)
				}
			}
			add("alice", "a1", StatusCompleted)
			add("alice", "a2", StatusFailed)
			add("bob", "b1", StatusPending)

			sum, err := st.DailySummary(ctx, slot(4, 15, 0))
			if err != nil {
				t.Fatalf("DailySummary: %v", err)
			}
			if sum.Date != "2024-03-04" {
				t.Errorf("date = %q", sum.Date)
			}
			if sum.Total != 3 || sum.Completed != 1 || sum.Failed != 1 || sum.Pending != 1 {
				t.Errorf("totals: %+v", sum)
			}
			if us := sum.ByUser["alice"]; us == nil || us.Total != 2 || us.Failed != 1 {
				t.Errorf("alice summary: %+v", us)
			}
		})
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := st.GetUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing user: err = %v, want ErrNotFound", err)
			}

			u := UserRecord{
				Username:        "alice",
				JobsEnabled:     true,
				JobSettingsJSON: `{"wuguan":{"type":"hourly","enabled":true,"minute":5}}`,
			}
			if err := st.UpsertUser(ctx, u); err != nil {
				t.Fatalf("UpsertUser: %v", err)
			}
			got, err := st.GetUser(ctx, "alice")
			if err != nil {
				t.Fatalf("GetUser: %v", err)
			}
			if got.UserType != "player" {
				t.Errorf("empty user type should default to player, got %q", got.UserType)
			}
			if !got.JobsEnabled || got.JobSettingsJSON != u.JobSettingsJSON {
				t.Errorf("round trip mismatch: %+v", got)
			}

			// Update flips the toggle in place.
			got.JobsEnabled = false
			if err := st.UpsertUser(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			if err := st.UpsertUser(ctx, UserRecord{Username: "bob", UserType: "admin"}); err != nil {
				t.Fatalf("second user: %v", err)
			}

			users, err := st.Users(ctx)
			if err != nil {
				t.Fatalf("Users: %v", err)
			}
			if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "bob" {
				t.Fatalf("users = %+v", users)
			}
			if users[0].JobsEnabled {
				t.Error("alice toggle should be off after update")
			}
			if users[1].UserType != "admin" {
				t.Errorf("bob type = %q", users[1].UserType)
			}
		})
	}
}

func TestRecentExecutionsOrderAndFilter(t *testing.T) {
	t.Parallel()
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for h := 8; h <= 11; h++ {
				user := "alice"
				if h%2 == 0 {
					user = "bob"
				}
				err := st.UpsertExecution(ctx, ExecutionRecord{
					Username:      user,
					ExecutionID:   "wuguan_" + slot(4, h, 0).Format("15:04:05"),
					JobID:         "wuguan",
					JobType:       "hourly",
					ScheduledTime: slot(4, h, 0),
					Status:        StatusCompleted,
				})
				if err != nil {
					t.Fatalf("upsert hour %d: %v", h, err)
				}
			}

			recs, err := st.RecentExecutions(ctx, "", 3)
			if err != nil {
				t.Fatalf("RecentExecutions: %v", err)
			}
			if len(recs) != 3 {
				t.Fatalf("len = %d, want 3", len(recs))
			}
			if !recs[0].ScheduledTime.Equal(slot(4, 11, 0)) {
				t.Errorf("newest first: got %v", recs[0].ScheduledTime)
			}

			recs, err = st.RecentExecutions(ctx, "bob", 10)
			if err != nil {
				t.Fatalf("filtered: %v", err)
			}
			if len(recs) != 2 {
				t.Fatalf("bob records = %d, want 2", len(recs))
			}
			for _, r := range recs {
				if r.Username != "bob" {
					t.Errorf("leaked record for %q", r.Username)
				}
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should error")
	}
}
