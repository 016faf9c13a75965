package jobs

// DefaultJob names a built-in routine the bot knows how to run.
type DefaultJob struct {
	ID   string
	Name string
}

// DefaultJobs lists the built-in routines. The app layer registers each one
// with its executor from the game layer; IDs are stable because they key the
// per-user settings blobs.
func DefaultJobs() []DefaultJob {
	return []DefaultJob{
		{ID: "auto_challenge", Name: "Hall challenge"},
		{ID: "capture_slave", Name: "Capture rivals"},
		{ID: "wuguan", Name: "Dojo patrol"},
		{ID: "morning_routine", Name: "Morning routines"},
		{ID: "night_routine", Name: "Night routines"},
		{ID: "fengyun", Name: "Arena tournament"},
		{ID: "dungeon_and_monster", Name: "Dungeons and monsters"},
		{ID: "monday_routine", Name: "Monday tasks"},
		{ID: "wednesday_routine", Name: "Wednesday tasks"},
		{ID: "saturday_routine", Name: "Saturday tasks"},
	}
}
