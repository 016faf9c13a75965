package sched

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ActiveJob is one in-flight execution, visible on the admin surface.
type ActiveJob struct {
	Username    string    `json:"username"`
	JobID       string    `json:"job_id"`
	ExecutionID string    `json:"execution_id"`
	StartedAt   time.Time `json:"started_at"`
}

// State owns the scheduler's shared mutable maps behind one mutex: the
// pause and shutdown flags, the set of in-flight executions, and the
// per-day dedup tracker for daily/weekly jobs. Passes, the admin surface,
// and the drain loop all read through it; nothing else holds these maps.
type State struct {
	mu           sync.Mutex
	paused       bool
	shuttingDown bool

	// (username, executionID) -> in-flight execution.
	active map[string]ActiveJob

	// (username, jobID, date) -> when the run started. Daily and weekly
	// jobs consult this so the grace window cannot double-fire them.
	dayDone map[string]time.Time
}

func NewState() *State {
	return &State{
		active:  map[string]ActiveJob{},
		dayDone: map[string]time.Time{},
	}
}

func activeKey(username, executionID string) string {
	return username + "\x00" + executionID
}

// ---- pause / shutdown flags ----

func (st *State) Pause() {
	st.mu.Lock()
	st.paused = true
	st.mu.Unlock()
}

func (st *State) Resume() {
	st.mu.Lock()
	st.paused = false
	st.mu.Unlock()
}

func (st *State) Paused() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}

// BeginShutdown flips the shutdown flag; once set it is never cleared.
// Passes stop submitting as soon as they observe it.
func (st *State) BeginShutdown() {
	st.mu.Lock()
	st.shuttingDown = true
	st.mu.Unlock()
}

func (st *State) ShuttingDown() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.shuttingDown
}

// ---- in-flight executions ----

// AddActive registers an execution. Returns false when (username,
// executionID) is already in flight; the caller must not run it again.
func (st *State) AddActive(job ActiveJob) bool {
	key := activeKey(job.Username, job.ExecutionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.active[key]; exists {
		return false
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	st.active[key] = job
	return true
}

func (st *State) RemoveActive(username, executionID string) {
	st.mu.Lock()
	delete(st.active, activeKey(username, executionID))
	st.mu.Unlock()
}

func (st *State) IsActive(username, executionID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, exists := st.active[activeKey(username, executionID)]
	return exists
}

func (st *State) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.active)
}

// ActiveJobs lists in-flight executions, oldest first.
func (st *State) ActiveJobs() []ActiveJob {
	st.mu.Lock()
	out := make([]ActiveJob, 0, len(st.active))
	for _, j := range st.active {
		out = append(out, j)
	}
	st.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ---- day tracker ----

// MarkDayDone records that the job ran today. Keyed by the jobs.DayKey
// string, which embeds the date.
func (st *State) MarkDayDone(dayKey string, at time.Time) {
	st.mu.Lock()
	st.dayDone[dayKey] = at
	st.mu.Unlock()
}

func (st *State) DayDone(dayKey string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, done := st.dayDone[dayKey]
	return done
}

func (st *State) DayTrackedCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.dayDone)
}

// ResetDayTracker drops entries whose embedded date is not today's.
// Called from the midnight day-init pass.
func (st *State) ResetDayTracker(today string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for key := range st.dayDone {
		if !strings.HasSuffix(key, "|"+today) {
			delete(st.dayDone, key)
			n++
		}
	}
	return n
}
