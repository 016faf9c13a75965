package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "herobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Times are stored as RFC3339Nano strings and compared as strings in SQL,
// so every value must be rendered in UTC: mixed offsets would break the
// lexicographic ordering the range queries rely on. All writes and query
// bounds go through fmtTime.
const timeFormat = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateExecution(ctx context.Context, rec ExecutionRecord) (bool, error) {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	// ON CONFLICT DO NOTHING makes the create atomic: when two ticks race
	// for the same slot, exactly one observes created=true.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_executions(username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(username, execution_id) DO NOTHING`,
		rec.Username, rec.ExecutionID, rec.JobID, rec.JobType,
		fmtTime(rec.ScheduledTime), nullTime(rec.StartTime), nullTime(rec.EndTime),
		string(rec.Status), nullStr(rec.ErrorMessage),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) UpsertExecution(ctx context.Context, rec ExecutionRecord) error {
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_executions(username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(username, execution_id) DO UPDATE SET
		   job_id=excluded.job_id, job_type=excluded.job_type,
		   scheduled_time=excluded.scheduled_time, start_time=excluded.start_time,
		   end_time=excluded.end_time, status=excluded.status, error_message=excluded.error_message`,
		rec.Username, rec.ExecutionID, rec.JobID, rec.JobType,
		fmtTime(rec.ScheduledTime), nullTime(rec.StartTime), nullTime(rec.EndTime),
		string(rec.Status), nullStr(rec.ErrorMessage),
	)
	return err
}

func (s *sqliteStore) GetExecution(ctx context.Context, username, executionID string) (ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
		 FROM job_executions WHERE username = ? AND execution_id = ?`,
		username, executionID,
	)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecutionRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) UpdateExecutionStatus(ctx context.Context, username, executionID string, status Status, errorMessage string) error {
	now := fmtTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET
		   status = ?,
		   start_time = CASE WHEN ? = 'running' AND start_time IS NULL THEN ? ELSE start_time END,
		   end_time = CASE WHEN ? IN ('completed','failed') THEN ? ELSE end_time END,
		   error_message = CASE WHEN ? != '' THEN ? ELSE error_message END
		 WHERE username = ? AND execution_id = ?`,
		string(status), string(status), now, string(status), now,
		errorMessage, errorMessage, username, executionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) MissedExecutions(ctx context.Context, now time.Time) ([]ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
		 FROM job_executions
		 WHERE status IN ('pending','running') AND scheduled_time < ?
		 ORDER BY scheduled_time ASC`,
		fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *sqliteStore) ActiveExecutions(ctx context.Context) ([]ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
		 FROM job_executions WHERE status = 'running' ORDER BY scheduled_time ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, username string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if username != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
			 FROM job_executions WHERE username = ? ORDER BY scheduled_time DESC LIMIT ?`,
			username, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
			 FROM job_executions ORDER BY scheduled_time DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *sqliteStore) HasExecutionsOn(ctx context.Context, day time.Time) (bool, error) {
	start, end := dayBounds(day)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM job_executions WHERE scheduled_time >= ? AND scheduled_time < ? LIMIT 1`,
		fmtTime(start), fmtTime(end),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) CleanupBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_executions WHERE scheduled_time < ?`,
		fmtTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) DailySummary(ctx context.Context, day time.Time) (DailySummary, error) {
	start, end := dayBounds(day)
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, execution_id, job_id, job_type, scheduled_time, start_time, end_time, status, error_message
		 FROM job_executions WHERE scheduled_time >= ? AND scheduled_time < ?
		 ORDER BY scheduled_time ASC`,
		fmtTime(start), fmtTime(end),
	)
	if err != nil {
		return DailySummary{}, err
	}
	defer rows.Close()
	recs, err := collectExecutions(rows)
	if err != nil {
		return DailySummary{}, err
	}
	return summarize(start, recs), nil
}

func (s *sqliteStore) Users(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, user_type, jobs_enabled, job_settings_json FROM users ORDER BY username ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		var u UserRecord
		var enabled int
		if err := rows.Scan(&u.Username, &u.UserType, &enabled, &u.JobSettingsJSON); err != nil {
			return nil, err
		}
		u.JobsEnabled = enabled != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetUser(ctx context.Context, username string) (UserRecord, error) {
	var u UserRecord
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT username, user_type, jobs_enabled, job_settings_json FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.UserType, &enabled, &u.JobSettingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.JobsEnabled = enabled != 0
	return u, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u UserRecord) error {
	if u.UserType == "" {
		u.UserType = "player"
	}
	enabled := 0
	if u.JobsEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, user_type, jobs_enabled, job_settings_json)
		 VALUES(?,?,?,?)
		 ON CONFLICT(username) DO UPDATE SET
		   user_type=excluded.user_type, jobs_enabled=excluded.jobs_enabled,
		   job_settings_json=excluded.job_settings_json`,
		u.Username, u.UserType, enabled, u.JobSettingsJSON,
	)
	return err
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (ExecutionRecord, error) {
	var rec ExecutionRecord
	var sched string
	var start, end, errMsg sql.NullString
	var status string
	if err := row.Scan(&rec.Username, &rec.ExecutionID, &rec.JobID, &rec.JobType,
		&sched, &start, &end, &status, &errMsg); err != nil {
		return ExecutionRecord{}, err
	}
	rec.Status = Status(status)
	rec.ErrorMessage = errMsg.String

	var err error
	if rec.ScheduledTime, err = time.Parse(timeFormat, sched); err != nil {
		return ExecutionRecord{}, fmt.Errorf("bad scheduled_time %q: %w", sched, err)
	}
	if start.Valid && start.String != "" {
		if rec.StartTime, err = time.Parse(timeFormat, start.String); err != nil {
			return ExecutionRecord{}, fmt.Errorf("bad start_time %q: %w", start.String, err)
		}
	}
	if end.Valid && end.String != "" {
		if rec.EndTime, err = time.Parse(timeFormat, end.String); err != nil {
			return ExecutionRecord{}, fmt.Errorf("bad end_time %q: %w", end.String, err)
		}
	}
	return rec, nil
}

func collectExecutions(rows *sql.Rows) ([]ExecutionRecord, error) {
	var out []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}

func summarize(start time.Time, recs []ExecutionRecord) DailySummary {
	sum := DailySummary{
		Date:   start.Format("2006-01-02"),
		ByUser: map[string]*UserSummary{},
	}
	for _, r := range recs {
		sum.Total++
		us := sum.ByUser[r.Username]
		if us == nil {
			us = &UserSummary{}
			sum.ByUser[r.Username] = us
		}
		us.Total++
		switch r.Status {
		case StatusPending:
			sum.Pending++
			us.Pending++
		case StatusRunning:
			sum.Running++
			us.Running++
		case StatusCompleted:
			sum.Completed++
			us.Completed++
		case StatusFailed:
			sum.Failed++
			us.Failed++
		}
	}
	return sum
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}
