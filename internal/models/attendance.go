package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttendanceDay is the single per-(subject, date) attendance row.
// PunchOut and HoursWorked are nil while the day is still open.
type AttendanceDay struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	SubjectID   string     `json:"subject_id" db:"subject_id"`
	Date        string     `json:"date" db:"date"` // YYYY-MM-DD
	PunchIn     time.Time  `json:"punch_in" db:"punch_in"`
	PunchOut    *time.Time `json:"punch_out,omitempty" db:"punch_out"`
	HoursWorked *float64   `json:"hours_worked,omitempty" db:"hours_worked"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ActivityEntry is one audit-log row for a privileged action.
type ActivityEntry struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	ActorID   string          `json:"actor_id" db:"actor_id"`
	Action    string          `json:"action" db:"action"`
	TargetID  string          `json:"target_id,omitempty" db:"target_id"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AttendanceEvent is the message published to NATS after each transition.
type AttendanceEvent struct {
	SubjectID   string    `json:"subject_id"`
	Name        string    `json:"name,omitempty"`
	Action      string    `json:"action"`
	Time        time.Time `json:"time"`
	HoursWorked float64   `json:"hours_worked,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
}
