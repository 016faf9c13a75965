package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"herobot/internal/jobs"
	"herobot/internal/storage"
	logx "herobot/pkg/logx"
)

func (s *Service) routes(cfg Config) http.Handler {
	mux := http.NewServeMux()

	get := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc("GET "+pattern, s.withAuth(cfg.Token, h))
	}
	// Mutating endpoints get the token bucket on top of auth.
	mutate := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.withAuth(cfg.Token, s.withRateLimit(h)))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	get("/api/status", s.handleStatus)
	get("/api/users", s.handleUsers)
	get("/api/users/{name}/jobs", s.handleGetUserJobs)
	mutate("PUT /api/users/{name}/jobs", s.handlePutUserJobs)
	mutate("POST /api/jobs/run", s.handleRunJob)
	get("/api/jobs", s.handleAvailableJobs)
	get("/api/executions", s.handleExecutions)
	get("/api/summary", s.handleSummary)
	get("/api/requests/{user}", s.handleActiveRequests)
	mutate("DELETE /api/requests/{user}", s.handleClearRequests)
	mutate("POST /api/pause", s.handlePause)
	mutate("POST /api/resume", s.handleResume)
	mutate("POST /api/shutdown", s.handleShutdown)

	return mux
}

// ---- middleware ----

func (s *Service) withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func (s *Service) withRateLimit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	}
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ---- handlers ----

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.Snapshot()
	eng := s.engine.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduler": snap,
		"engine": map[string]any{
			"workers":   eng.Workers,
			"in_flight": eng.InFlight,
			"queue_len": eng.QueueLen,
			"queue_cap": eng.QueueCap,
			"dropped":   eng.Dropped,
		},
		"active_requests": s.sessions.Len(),
	})
}

func (s *Service) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Users(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	type userView struct {
		Username    string `json:"username"`
		UserType    string `json:"user_type"`
		JobsEnabled bool   `json:"jobs_enabled"`
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{Username: u.Username, UserType: u.UserType, JobsEnabled: u.JobsEnabled})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetUserJobs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	user, err := s.store.GetUser(r.Context(), name)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	settings, err := jobs.ParseSettings(user.JobSettingsJSON)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":     user.Username,
		"jobs_enabled": user.JobsEnabled,
		"jobs":         settings,
	})
}

func (s *Service) handlePutUserJobs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		JobsEnabled *bool         `json:"jobs_enabled,omitempty"`
		Jobs        jobs.Settings `json:"jobs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	for jobID, cfg := range body.Jobs {
		if err := cfg.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "job " + jobID + ": " + err.Error(),
			})
			return
		}
	}

	user, err := s.store.GetUser(r.Context(), name)
	if err != nil {
		// New users can be created through this endpoint.
		user = storage.UserRecord{Username: name, UserType: "player", JobsEnabled: true}
	}
	if body.JobsEnabled != nil {
		user.JobsEnabled = *body.JobsEnabled
	}
	if body.Jobs != nil {
		blob, err := body.Jobs.Encode()
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		user.JobSettingsJSON = blob
	}
	if err := s.store.UpsertUser(r.Context(), user); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("job settings updated", logx.String("username", name))
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Service) handleAvailableJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.AvailableJobs())
}

func (s *Service) handleRunJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		JobID    string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if body.Username == "" || body.JobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and job_id are required"})
		return
	}
	if err := s.sched.RunJobNow(r.Context(), body.Username, body.JobID); err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

func (s *Service) handleExecutions(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("user")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := s.store.RecentExecutions(r.Context(), username, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	type recView struct {
		Username    string `json:"username"`
		ExecutionID string `json:"execution_id"`
		JobID       string `json:"job_id"`
		JobType     string `json:"job_type"`
		Scheduled   string `json:"scheduled_time"`
		Started     string `json:"start_time,omitempty"`
		Ended       string `json:"end_time,omitempty"`
		Status      string `json:"status"`
		Error       string `json:"error_message,omitempty"`
	}
	fmtTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	out := make([]recView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recView{
			Username:    rec.Username,
			ExecutionID: rec.ExecutionID,
			JobID:       rec.JobID,
			JobType:     rec.JobType,
			Scheduled:   fmtTime(rec.ScheduledTime),
			Started:     fmtTime(rec.StartTime),
			Ended:       fmtTime(rec.EndTime),
			Status:      string(rec.Status),
			Error:       rec.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		day = parsed
	}
	sum, err := s.store.DailySummary(r.Context(), day)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Service) handleActiveRequests(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	reqs := s.sessions.ActiveForUser(user)
	type reqView struct {
		Key       string `json:"key"`
		Type      string `json:"type"`
		StartedAt string `json:"started_at"`
		Elapsed   string `json:"elapsed"`
	}
	out := make([]reqView, 0, len(reqs))
	for _, q := range reqs {
		out = append(out, reqView{
			Key:       q.Key,
			Type:      q.Type,
			StartedAt: q.StartedAt.Format(time.RFC3339),
			Elapsed:   q.Elapsed.Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": user, "active": out})
}

func (s *Service) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	n := s.sessions.ClearUser(user)
	writeJSON(w, http.StatusOK, map[string]any{"username": user, "cleared": n})
}

func (s *Service) handlePause(w http.ResponseWriter, r *http.Request) {
	s.sched.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Service) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.requestShutdown
	s.mu.Unlock()
	if fn == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "shutdown not wired"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	// Flush the response before the stop sequence tears the listener down.
	go fn()
}
