package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/your-org/faceattend/internal/models"
)

// memStore keeps day records in a map keyed by subject|date and mimics the
// conditional semantics of the SQL layer.
type memStore struct {
	days map[string]*models.AttendanceDay

	// forcedErr lets a test inject a failure on the named operation.
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		days:   make(map[string]*models.AttendanceDay),
		failOn: make(map[string]error),
	}
}

func key(subjectID, date string) string { return subjectID + "|" + date }

func (s *memStore) Day(_ context.Context, subjectID, date string) (*models.AttendanceDay, error) {
	if err := s.failOn["day"]; err != nil {
		return nil, err
	}
	d, ok := s.days[key(subjectID, date)]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) CreateOpen(_ context.Context, subjectID, date string, punchIn time.Time) error {
	if err := s.failOn["create"]; err != nil {
		return err
	}
	k := key(subjectID, date)
	if _, ok := s.days[k]; ok {
		return ErrConflict
	}
	s.days[k] = &models.AttendanceDay{
		SubjectID: subjectID,
		Date:      date,
		PunchIn:   punchIn,
	}
	return nil
}

func (s *memStore) CloseDay(_ context.Context, subjectID, date string, punchOut time.Time, hours float64) error {
	if err := s.failOn["close"]; err != nil {
		return err
	}
	d, ok := s.days[key(subjectID, date)]
	if !ok || d.PunchOut != nil {
		return ErrConflict
	}
	d.PunchOut = &punchOut
	d.HoursWorked = &hours
	return nil
}

func (s *memStore) DeleteOpen(_ context.Context, subjectID, date string) error {
	if err := s.failOn["delete"]; err != nil {
		return err
	}
	k := key(subjectID, date)
	d, ok := s.days[k]
	if !ok || d.PunchOut != nil {
		return ErrConflict
	}
	delete(s.days, k)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(minDuration time.Duration) (*Engine, *memStore, *fakeClock) {
	store := newMemStore()
	clock := &fakeClock{t: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	e := NewEngine(store, minDuration)
	e.now = clock.now
	return e, store, clock
}

func TestMarkPunchIn(t *testing.T) {
	e, store, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	d, err := e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if d.Action != ActionPunchIn {
		t.Errorf("Action = %q; want %q", d.Action, ActionPunchIn)
	}
	if !d.Time.Equal(clock.t) {
		t.Errorf("Time = %v; want %v", d.Time, clock.t)
	}

	rec := store.days[key("EMP1", "2025-06-02")]
	if rec == nil || rec.PunchOut != nil {
		t.Fatalf("expected an open record, got %+v", rec)
	}
}

func TestMarkDiscardsShortInterval(t *testing.T) {
	e, store, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}

	clock.advance(5 * time.Second)
	d, err := e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if d.Action != ActionDiscarded {
		t.Errorf("Action = %q; want %q", d.Action, ActionDiscarded)
	}
	if d.ElapsedSeconds != 5 {
		t.Errorf("ElapsedSeconds = %v; want 5", d.ElapsedSeconds)
	}

	// The day is reset: the next mark is a fresh punch-in.
	if _, ok := store.days[key("EMP1", "2025-06-02")]; ok {
		t.Fatal("discarded record still present")
	}
	d, err = e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("mark after discard: %v", err)
	}
	if d.Action != ActionPunchIn {
		t.Errorf("Action after discard = %q; want %q", d.Action, ActionPunchIn)
	}
}

func TestMarkPunchOut(t *testing.T) {
	e, store, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}

	clock.advance(time.Hour)
	d, err := e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("punch out: %v", err)
	}
	if d.Action != ActionPunchOut {
		t.Errorf("Action = %q; want %q", d.Action, ActionPunchOut)
	}
	if d.HoursWorked != 1.0 {
		t.Errorf("HoursWorked = %v; want 1.0", d.HoursWorked)
	}

	rec := store.days[key("EMP1", "2025-06-02")]
	if rec == nil || rec.PunchOut == nil {
		t.Fatalf("expected a closed record, got %+v", rec)
	}
	if !rec.PunchOut.Equal(clock.t) {
		t.Errorf("PunchOut = %v; want %v", rec.PunchOut, clock.t)
	}
}

func TestMarkExactMinimumClosesDay(t *testing.T) {
	e, _, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}

	// Elapsed equal to the minimum is a valid punch-out, not a discard.
	clock.advance(20 * time.Second)
	d, err := e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("punch out at minimum: %v", err)
	}
	if d.Action != ActionPunchOut {
		t.Errorf("Action = %q; want %q", d.Action, ActionPunchOut)
	}
	if d.HoursWorked != 0.01 {
		t.Errorf("HoursWorked = %v; want 0.01", d.HoursWorked)
	}
}

func TestMarkAfterCompleteDayRejects(t *testing.T) {
	e, _, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}
	clock.advance(time.Hour)
	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch out: %v", err)
	}

	clock.advance(time.Minute)
	if _, err := e.Mark(ctx, "EMP1"); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("third mark err = %v; want ErrAlreadyComplete", err)
	}
}

func TestMarkNextDayStartsFresh(t *testing.T) {
	e, _, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}
	clock.advance(time.Hour)
	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch out: %v", err)
	}

	clock.advance(24 * time.Hour)
	d, err := e.Mark(ctx, "EMP1")
	if err != nil {
		t.Fatalf("mark next day: %v", err)
	}
	if d.Action != ActionPunchIn {
		t.Errorf("Action = %q; want %q", d.Action, ActionPunchIn)
	}
}

func TestMarkCreateConflictReportsOpen(t *testing.T) {
	e, store, _ := newTestEngine(20 * time.Second)
	ctx := context.Background()

	// Simulate a concurrent request that won the insert between our read
	// and our create: the store reports a conflict even though the open
	// record was staged after our Day() call.
	store.failOn["create"] = ErrConflict
	store.days[key("EMP1", "2025-06-02")] = &models.AttendanceDay{
		SubjectID: "EMP1",
		Date:      "2025-06-02",
		PunchIn:   time.Date(2025, 6, 2, 8, 59, 59, 0, time.UTC),
	}

	d, err := e.punchIn(ctx, "EMP1", "2025-06-02", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrAlreadyPunchedIn) {
		t.Fatalf("err = %v; want ErrAlreadyPunchedIn", err)
	}
	if d.Action != "" {
		t.Errorf("conflict produced a decision: %+v", d)
	}
}

func TestMarkCreateConflictReportsComplete(t *testing.T) {
	e, store, _ := newTestEngine(20 * time.Second)
	ctx := context.Background()

	store.failOn["create"] = ErrConflict
	out := time.Date(2025, 6, 2, 8, 59, 0, 0, time.UTC)
	hours := 1.0
	store.days[key("EMP1", "2025-06-02")] = &models.AttendanceDay{
		SubjectID:   "EMP1",
		Date:        "2025-06-02",
		PunchIn:     time.Date(2025, 6, 2, 7, 59, 0, 0, time.UTC),
		PunchOut:    &out,
		HoursWorked: &hours,
	}

	_, err := e.punchIn(ctx, "EMP1", "2025-06-02", time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("err = %v; want ErrAlreadyComplete", err)
	}
}

func TestMarkCloseConflictReportsComplete(t *testing.T) {
	e, store, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}
	clock.advance(time.Hour)

	// A concurrent close landed between our read and our update.
	store.failOn["close"] = ErrConflict
	if _, err := e.Mark(ctx, "EMP1"); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("err = %v; want ErrAlreadyComplete", err)
	}
}

func TestMarkDiscardConflictReportsComplete(t *testing.T) {
	e, store, clock := newTestEngine(20 * time.Second)
	ctx := context.Background()

	if _, err := e.Mark(ctx, "EMP1"); err != nil {
		t.Fatalf("punch in: %v", err)
	}
	clock.advance(5 * time.Second)

	store.failOn["delete"] = ErrConflict
	if _, err := e.Mark(ctx, "EMP1"); !errors.Is(err, ErrAlreadyComplete) {
		t.Fatalf("err = %v; want ErrAlreadyComplete", err)
	}
}

func TestMarkStoreFailureSurfaces(t *testing.T) {
	e, store, _ := newTestEngine(20 * time.Second)
	ctx := context.Background()

	sentinel := errors.New("connection refused")
	store.failOn["day"] = sentinel

	if _, err := e.Mark(ctx, "EMP1"); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v; want wrapped %v", err, sentinel)
	}
}

func TestRoundHours(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want float64
	}{
		{time.Hour, 1.0},
		{90 * time.Minute, 1.5},
		{20 * time.Second, 0.01},
		{8*time.Hour + 27*time.Minute, 8.45},
	}
	for _, tc := range tests {
		if got := roundHours(tc.d); got != tc.want {
			t.Errorf("roundHours(%v) = %v; want %v", tc.d, got, tc.want)
		}
	}
}
