package jobs

import (
	"testing"
	"time"
)

// 2024-03-04 is a Monday (stored convention: day_of_week 0).
func mondayAt(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
}

func TestDue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		now  time.Time
		want bool
	}{
		{
			name: "disabled never due",
			cfg:  Config{Type: TypeHourly, Enabled: false, Minute: 30},
			now:  mondayAt(10, 30),
			want: false,
		},
		{
			name: "hourly minute match",
			cfg:  Config{Type: TypeHourly, Enabled: true, Minute: 30},
			now:  mondayAt(17, 30),
			want: true,
		},
		{
			name: "hourly minute mismatch",
			cfg:  Config{Type: TypeHourly, Enabled: true, Minute: 30},
			now:  mondayAt(17, 31),
			want: false,
		},
		{
			name: "daily exact minute",
			cfg:  Config{Type: TypeDaily, Enabled: true, Hour: 8, Minute: 15},
			now:  mondayAt(8, 15),
			want: true,
		},
		{
			name: "daily grace minute",
			cfg:  Config{Type: TypeDaily, Enabled: true, Hour: 8, Minute: 15},
			now:  mondayAt(8, 16),
			want: true,
		},
		{
			name: "daily past grace",
			cfg:  Config{Type: TypeDaily, Enabled: true, Hour: 8, Minute: 15},
			now:  mondayAt(8, 17),
			want: false,
		},
		{
			name: "daily wrong hour",
			cfg:  Config{Type: TypeDaily, Enabled: true, Hour: 8, Minute: 15},
			now:  mondayAt(9, 15),
			want: false,
		},
		{
			name: "weekly monday match",
			cfg:  Config{Type: TypeWeekly, Enabled: true, DayOfWeek: 0, Hour: 6},
			now:  mondayAt(6, 0),
			want: true,
		},
		{
			name: "weekly matches any minute within the hour",
			cfg:  Config{Type: TypeWeekly, Enabled: true, DayOfWeek: 0, Hour: 6, Minute: 30},
			now:  mondayAt(6, 0),
			want: true,
		},
		{
			name: "weekly wrong day",
			cfg:  Config{Type: TypeWeekly, Enabled: true, DayOfWeek: 2, Hour: 6},
			now:  mondayAt(6, 0),
			want: false,
		},
		{
			name: "weekly sunday is six",
			cfg:  Config{Type: TypeWeekly, Enabled: true, DayOfWeek: 6, Hour: 12},
			now:  time.Date(2024, 3, 10, 12, 5, 0, 0, time.UTC), // Sunday
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.Due(tc.now); got != tc.want {
				t.Errorf("Due(%s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	early := Config{Type: TypeDaily, Hour: 6, Minute: 0}
	late := Config{Type: TypeDaily, Hour: 20, Minute: 30}
	if early.Priority() >= late.Priority() {
		t.Fatalf("06:00 daily (%d) should sort before 20:30 daily (%d)",
			early.Priority(), late.Priority())
	}

	hourly := Config{Type: TypeHourly, Minute: 45}
	if got := hourly.Priority(); got != 45 {
		t.Errorf("hourly priority = %d, want 45", got)
	}

	weekly := Config{Type: TypeWeekly, DayOfWeek: 2, Hour: 5}
	if got := weekly.Priority(); got != 2*24+5 {
		t.Errorf("weekly priority = %d, want %d", got, 2*24+5)
	}
}

func TestScheduledTime(t *testing.T) {
	t.Parallel()

	now := mondayAt(14, 37).Add(42 * time.Second)

	hourly := Config{Type: TypeHourly, Minute: 30}
	if got, want := hourly.ScheduledTime(now), mondayAt(14, 30); !got.Equal(want) {
		t.Errorf("hourly slot = %s, want %s", got, want)
	}

	daily := Config{Type: TypeDaily, Hour: 8, Minute: 15}
	if got, want := daily.ScheduledTime(now), mondayAt(8, 15); !got.Equal(want) {
		t.Errorf("daily slot = %s, want %s", got, want)
	}

	if got, want := hourly.NextHourlyTime(now), mondayAt(15, 30); !got.Equal(want) {
		t.Errorf("next hourly slot = %s, want %s", got, want)
	}
}

func TestSlotsOn(t *testing.T) {
	t.Parallel()

	day := mondayAt(0, 0)

	hourly := Config{Type: TypeHourly, Minute: 10}
	slots := hourly.SlotsOn(day)
	if len(slots) != 24 {
		t.Fatalf("hourly slots = %d, want 24", len(slots))
	}
	if want := mondayAt(0, 10); !slots[0].Equal(want) {
		t.Errorf("first hourly slot = %s, want %s", slots[0], want)
	}
	if want := mondayAt(23, 10); !slots[23].Equal(want) {
		t.Errorf("last hourly slot = %s, want %s", slots[23], want)
	}

	daily := Config{Type: TypeDaily, Hour: 7, Minute: 45}
	slots = daily.SlotsOn(day)
	if len(slots) != 1 || !slots[0].Equal(mondayAt(7, 45)) {
		t.Errorf("daily slots = %v, want one at 07:45", slots)
	}

	weeklyHit := Config{Type: TypeWeekly, DayOfWeek: 0, Hour: 6}
	if slots = weeklyHit.SlotsOn(day); len(slots) != 1 {
		t.Errorf("weekly slots on matching day = %d, want 1", len(slots))
	}
	weeklyMiss := Config{Type: TypeWeekly, DayOfWeek: 3, Hour: 6}
	if slots = weeklyMiss.SlotsOn(day); len(slots) != 0 {
		t.Errorf("weekly slots on non-matching day = %d, want 0", len(slots))
	}
}

func TestExecutionID(t *testing.T) {
	t.Parallel()

	scheduled := time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC)
	if got, want := ExecutionID("morning_routine", scheduled), "morning_routine_2024-03-04_08:15:00"; got != want {
		t.Errorf("ExecutionID = %q, want %q", got, want)
	}
}

func TestDayKey(t *testing.T) {
	t.Parallel()

	now := mondayAt(8, 15)
	if got, want := DayKey("alice", "wuguan", now), "alice|wuguan|2024-03-04"; got != want {
		t.Errorf("DayKey = %q, want %q", got, want)
	}
	// Next day yields a different key so the tracker resets naturally.
	if DayKey("alice", "wuguan", now.AddDate(0, 0, 1)) == DayKey("alice", "wuguan", now) {
		t.Error("DayKey should differ across days")
	}
}
