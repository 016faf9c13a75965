package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore keeps everything in process memory. Used by tests and by
// deployments that opt out of persistence (no recovery across restarts).
type memStore struct {
	mu    sync.RWMutex
	execs map[string]ExecutionRecord // username + "\x00" + executionID
	users map[string]UserRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{
		execs: map[string]ExecutionRecord{},
		users: map[string]UserRecord{},
	}
}

func execKey(username, executionID string) string {
	return username + "\x00" + executionID
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateExecution(_ context.Context, rec ExecutionRecord) (bool, error) {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := execKey(rec.Username, rec.ExecutionID)
	if _, ok := m.execs[key]; ok {
		return false, nil
	}
	m.execs[key] = rec
	return true, nil
}

func (m *memStore) UpsertExecution(_ context.Context, rec ExecutionRecord) error {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs[execKey(rec.Username, rec.ExecutionID)] = rec
	return nil
}

func (m *memStore) GetExecution(_ context.Context, username, executionID string) (ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.execs[execKey(username, executionID)]
	if !ok {
		return ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) UpdateExecutionStatus(_ context.Context, username, executionID string, status Status, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := execKey(username, executionID)
	rec, ok := m.execs[key]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	now := time.Now()
	if status == StatusRunning && rec.StartTime.IsZero() {
		rec.StartTime = now
	}
	if status.Terminal() {
		rec.EndTime = now
	}
	if errorMessage != "" {
		rec.ErrorMessage = errorMessage
	}
	m.execs[key] = rec
	return nil
}

func (m *memStore) MissedExecutions(_ context.Context, now time.Time) ([]ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ExecutionRecord
	for _, rec := range m.execs {
		if (rec.Status == StatusPending || rec.Status == StatusRunning) && rec.ScheduledTime.Before(now) {
			out = append(out, rec)
		}
	}
	sortByScheduled(out, true)
	return out, nil
}

func (m *memStore) ActiveExecutions(_ context.Context) ([]ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ExecutionRecord
	for _, rec := range m.execs {
		if rec.Status == StatusRunning {
			out = append(out, rec)
		}
	}
	sortByScheduled(out, true)
	return out, nil
}

func (m *memStore) RecentExecutions(_ context.Context, username string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ExecutionRecord
	for _, rec := range m.execs {
		if username != "" && rec.Username != username {
			continue
		}
		out = append(out, rec)
	}
	sortByScheduled(out, false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) HasExecutionsOn(_ context.Context, day time.Time) (bool, error) {
	start, end := dayBounds(day)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.execs {
		if !rec.ScheduledTime.Before(start) && rec.ScheduledTime.Before(end) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CleanupBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.execs {
		if rec.ScheduledTime.Before(cutoff) {
			delete(m.execs, key)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DailySummary(_ context.Context, day time.Time) (DailySummary, error) {
	start, end := dayBounds(day)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []ExecutionRecord
	for _, rec := range m.execs {
		if !rec.ScheduledTime.Before(start) && rec.ScheduledTime.Before(end) {
			recs = append(recs, rec)
		}
	}
	return summarize(start, recs), nil
}

func (m *memStore) Users(_ context.Context) ([]UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UserRecord, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) GetUser(_ context.Context, username string) (UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) UpsertUser(_ context.Context, u UserRecord) error {
	if u.UserType == "" {
		u.UserType = "player"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Username] = u
	return nil
}

func sortByScheduled(recs []ExecutionRecord, asc bool) {
	sort.Slice(recs, func(i, j int) bool {
		if asc {
			return recs[i].ScheduledTime.Before(recs[j].ScheduledTime)
		}
		return recs[j].ScheduledTime.Before(recs[i].ScheduledTime)
	})
}
