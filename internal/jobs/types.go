// Package jobs defines the job domain model: job types, per-user job
// settings, due-check and priority rules, and the executor registry.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type classifies how a job recurs.
type Type string

const (
	TypeDaily  Type = "daily"
	TypeHourly Type = "hourly"
	TypeWeekly Type = "weekly"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDaily, TypeHourly, TypeWeekly:
		return true
	}
	return false
}

// Config is one job's schedule as stored in a user's settings blob.
//
// Field use by type:
//   - hourly: Minute
//   - daily:  Hour, Minute
//   - weekly: DayOfWeek (Monday=0, matching the stored settings), Hour, Minute
type Config struct {
	Type      Type     `json:"type"`
	Enabled   bool     `json:"enabled"`
	Hour      int      `json:"hour,omitempty"`
	Minute    int      `json:"minute,omitempty"`
	DayOfWeek int      `json:"day_of_week,omitempty"`
	Accounts  []string `json:"account_names,omitempty"`
}

func (c Config) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("invalid job type %q", c.Type)
	}
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("minute out of range: %d", c.Minute)
	}
	switch c.Type {
	case TypeDaily, TypeWeekly:
		if c.Hour < 0 || c.Hour > 23 {
			return fmt.Errorf("hour out of range: %d", c.Hour)
		}
	}
	if c.Type == TypeWeekly && (c.DayOfWeek < 0 || c.DayOfWeek > 6) {
		return fmt.Errorf("day_of_week out of range: %d", c.DayOfWeek)
	}
	return nil
}

// Settings maps job ID to its schedule for one user.
type Settings map[string]Config

// ParseSettings decodes the JSON settings blob stored on the user record.
// An empty blob yields empty settings; malformed JSON is an error (the
// scheduler treats it as "no jobs" and logs).
func ParseSettings(raw string) (Settings, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return Settings{}, nil
	}
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("job settings: %w", err)
	}
	return s, nil
}

func (s Settings) Encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
