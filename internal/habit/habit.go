// Package habit holds the habit domain model and its business rules.
package habit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Habit is a recurring user-defined action performed at a place and a
// wall-clock time, reminded at most once per PeriodicityDays calendar days.
type Habit struct {
	ID      int64 `db:"id" json:"id"`
	OwnerID int64 `db:"owner_id" json:"-"`

	Place     string    `db:"place" json:"place"`
	Action    string    `db:"action" json:"action"`
	TimeOfDay TimeOfDay `db:"time_of_day" json:"time_of_day"`

	IsPleasant     bool   `db:"is_pleasant" json:"is_pleasant"`
	RelatedHabitID *int64 `db:"related_habit_id" json:"related_habit,omitempty"`
	Reward         string `db:"reward" json:"reward,omitempty"`

	PeriodicityDays int `db:"periodicity_days" json:"periodicity_days"`
	DurationSeconds int `db:"duration_seconds" json:"duration_seconds"`

	IsPublic bool `db:"is_public" json:"is_public"`

	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	LastReminderSentAt *time.Time `db:"last_reminder_sent_at" json:"-"`
}

// TimeOfDay is a wall-clock time without a date, stored as "HH:MM:SS".
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

const timeOfDayLayout = "15:04:05"

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, s)
	if err != nil {
		// Accept "HH:MM" as well; seconds default to zero.
		t, err = time.Parse("15:04", s)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM:SS)", s)
		}
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Value implements driver.Valuer; the store keeps the TEXT form.
func (t TimeOfDay) Value() (driver.Value, error) { return t.String(), nil }

// Scan implements sql.Scanner.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		return t.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}
