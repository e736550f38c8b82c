// Package attendance turns a successful identification into a punch-in,
// punch-out, or discard decision for the subject's current day.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/your-org/faceattend/internal/models"
)

var (
	// ErrConflict is returned by Store implementations when a conditional
	// create/update/delete finds the row in a different state than assumed.
	ErrConflict = errors.New("attendance record conflict")

	// ErrAlreadyPunchedIn means a concurrent request created today's open
	// record first; the pre-existing record is authoritative.
	ErrAlreadyPunchedIn = errors.New("already punched in today")

	// ErrAlreadyComplete means today's record is closed; no further
	// transitions exist.
	ErrAlreadyComplete = errors.New("attendance already complete for today")
)

// Store owns the per-(subject, date) row. Uniqueness of the key and the
// atomicity of the conditional operations are its responsibility; the engine
// only interprets conflict responses.
type Store interface {
	// Day returns today's record, or nil when none exists.
	Day(ctx context.Context, subjectID, date string) (*models.AttendanceDay, error)
	// CreateOpen conditionally inserts an open record. ErrConflict when a
	// record for the key already exists.
	CreateOpen(ctx context.Context, subjectID, date string, punchIn time.Time) error
	// CloseDay conditionally sets punch-out on a still-open record.
	// ErrConflict when the record is missing or already closed.
	CloseDay(ctx context.Context, subjectID, date string, punchOut time.Time, hours float64) error
	// DeleteOpen conditionally removes a still-open record. ErrConflict
	// when the record is missing or already closed.
	DeleteOpen(ctx context.Context, subjectID, date string) error
}

// Action is the terminal outcome of one mark.
type Action string

const (
	ActionPunchIn   Action = "Punch In"
	ActionPunchOut  Action = "Punch Out"
	ActionDiscarded Action = "Discarded"
)

// Decision reports what the mark did. HoursWorked is set on punch-out,
// ElapsedSeconds on discard.
type Decision struct {
	Action         Action
	SubjectID      string
	Time           time.Time
	HoursWorked    float64
	ElapsedSeconds float64
}

// Engine drives the NONE → OPEN → CLOSED (or DISCARDED) day state machine.
// It holds no state beyond wall-clock access; everything else is read from
// the store per call.
type Engine struct {
	store       Store
	minDuration time.Duration
	now         func() time.Time
}

func NewEngine(store Store, minDuration time.Duration) *Engine {
	return &Engine{store: store, minDuration: minDuration, now: time.Now}
}

// Mark advances the subject's day: no record opens one, an open record
// closes (or discards, when the elapsed time is under the minimum), a closed
// record rejects.
func (e *Engine) Mark(ctx context.Context, subjectID string) (Decision, error) {
	now := e.now()
	date := now.Format("2006-01-02")

	day, err := e.store.Day(ctx, subjectID, date)
	if err != nil {
		return Decision{}, fmt.Errorf("load attendance day: %w", err)
	}

	switch {
	case day == nil:
		return e.punchIn(ctx, subjectID, date, now)
	case day.PunchOut != nil:
		return Decision{}, ErrAlreadyComplete
	default:
		return e.punchOut(ctx, subjectID, date, day.PunchIn, now)
	}
}

func (e *Engine) punchIn(ctx context.Context, subjectID, date string, now time.Time) (Decision, error) {
	err := e.store.CreateOpen(ctx, subjectID, date, now)
	if errors.Is(err, ErrConflict) {
		// A concurrent request created the record first. Report against
		// the post-transition state instead of falling through to the
		// punch-out path, which would instantly discard the winner's
		// punch-in.
		current, readErr := e.store.Day(ctx, subjectID, date)
		if readErr == nil && current != nil && current.PunchOut != nil {
			return Decision{}, ErrAlreadyComplete
		}
		return Decision{}, ErrAlreadyPunchedIn
	}
	if err != nil {
		return Decision{}, fmt.Errorf("create attendance day: %w", err)
	}

	return Decision{Action: ActionPunchIn, SubjectID: subjectID, Time: now}, nil
}

func (e *Engine) punchOut(ctx context.Context, subjectID, date string, punchIn, now time.Time) (Decision, error) {
	elapsed := now.Sub(punchIn)

	if elapsed < e.minDuration {
		err := e.store.DeleteOpen(ctx, subjectID, date)
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent close.
			return Decision{}, ErrAlreadyComplete
		}
		if err != nil {
			return Decision{}, fmt.Errorf("discard attendance day: %w", err)
		}
		return Decision{
			Action:         ActionDiscarded,
			SubjectID:      subjectID,
			Time:           now,
			ElapsedSeconds: elapsed.Seconds(),
		}, nil
	}

	hours := roundHours(elapsed)
	err := e.store.CloseDay(ctx, subjectID, date, now, hours)
	if errors.Is(err, ErrConflict) {
		return Decision{}, ErrAlreadyComplete
	}
	if err != nil {
		return Decision{}, fmt.Errorf("close attendance day: %w", err)
	}

	return Decision{
		Action:      ActionPunchOut,
		SubjectID:   subjectID,
		Time:        now,
		HoursWorked: hours,
	}, nil
}

// roundHours converts the elapsed duration to hours with two decimals.
func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
