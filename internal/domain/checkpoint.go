package domain

import "time"

// Checkpoint is an observation stage relative to posted_at.
type Checkpoint string

const (
	CheckpointD1  Checkpoint = "d1"
	CheckpointD3  Checkpoint = "d3"
	CheckpointD7  Checkpoint = "d7"
	CheckpointD21 Checkpoint = "d21"
)

// Days returns the checkpoint's day count, 0 for unknown checkpoints.
func (c Checkpoint) Days() int {
	switch c {
	case CheckpointD1:
		return 1
	case CheckpointD3:
		return 3
	case CheckpointD7:
		return 7
	case CheckpointD21:
		return 21
	}
	return 0
}

// Valid reports whether c is one of the four lifecycle checkpoints.
func (c Checkpoint) Valid() bool { return c.Days() > 0 }

// CheckpointFromAge maps a post's age to the checkpoint that should be
// refreshed when no forced checkpoint comes from the queue.
func CheckpointFromAge(age time.Duration) Checkpoint {
	h := age.Hours()
	switch {
	case h < 48:
		return CheckpointD1
	case h < 168:
		return CheckpointD3
	case h < 504:
		return CheckpointD7
	}
	return CheckpointD21
}

// StageLabel returns the user-visible stage for a checkpoint. The d1
// checkpoint splits into D1 and D2 by age; D2 means "d1 data, age >= 24h".
func StageLabel(c Checkpoint, age time.Duration) string {
	switch c {
	case CheckpointD1:
		if age.Hours() < 24 {
			return "D1"
		}
		return "D2"
	case CheckpointD3:
		return "D3"
	case CheckpointD7:
		return "D7"
	case CheckpointD21:
		return "D21"
	}
	return "D1"
}

// MinCohortSize is the smallest peer pool that yields a percentile.
// D1 and D2 both read d1 checkpoint data, so they share the lower bound.
func MinCohortSize(c Checkpoint) int {
	if c == CheckpointD1 {
		return 12
	}
	return 20
}

// CheckpointSchedule lists the future scrape jobs created when a post is
// first ingested. D21 carries the gate flag.
func CheckpointSchedule(postedAt time.Time) []ScheduledCheckpoint {
	return []ScheduledCheckpoint{
		{Checkpoint: CheckpointD3, RunAt: postedAt.AddDate(0, 0, 3)},
		{Checkpoint: CheckpointD7, RunAt: postedAt.AddDate(0, 0, 7)},
		{Checkpoint: CheckpointD21, RunAt: postedAt.AddDate(0, 0, 21), RequiresD7Hot: true},
	}
}

// ScheduledCheckpoint is one future post-queue job.
type ScheduledCheckpoint struct {
	Checkpoint    Checkpoint
	RunAt         time.Time
	RequiresD7Hot bool
}
