package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/match"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/pkg/dto"
)

// nullIdentityStore satisfies match.Store for registries that only live in
// memory during a test.
type nullIdentityStore struct{}

func (nullIdentityStore) SaveIdentity(context.Context, models.Identity) error { return nil }
func (nullIdentityStore) DeleteIdentity(context.Context, models.RegistryKind, string) error {
	return nil
}
func (nullIdentityStore) SetIdentityActive(context.Context, models.RegistryKind, string, bool) error {
	return nil
}
func (nullIdentityStore) LoadIdentities(context.Context, models.RegistryKind) ([]models.Identity, error) {
	return nil, nil
}

// memDayStore is an in-memory attendance.Store with the same conditional
// semantics as the Postgres implementation.
type memDayStore struct {
	days map[string]*models.AttendanceDay
}

func newMemDayStore() *memDayStore {
	return &memDayStore{days: make(map[string]*models.AttendanceDay)}
}

func dayKey(subjectID, date string) string { return subjectID + "|" + date }

func (s *memDayStore) Day(_ context.Context, subjectID, date string) (*models.AttendanceDay, error) {
	return s.days[dayKey(subjectID, date)], nil
}

func (s *memDayStore) CreateOpen(_ context.Context, subjectID, date string, punchIn time.Time) error {
	k := dayKey(subjectID, date)
	if _, ok := s.days[k]; ok {
		return attendance.ErrConflict
	}
	s.days[k] = &models.AttendanceDay{SubjectID: subjectID, Date: date, PunchIn: punchIn}
	return nil
}

func (s *memDayStore) CloseDay(_ context.Context, subjectID, date string, punchOut time.Time, hours float64) error {
	d, ok := s.days[dayKey(subjectID, date)]
	if !ok || d.PunchOut != nil {
		return attendance.ErrConflict
	}
	d.PunchOut = &punchOut
	d.HoursWorked = &hours
	return nil
}

func (s *memDayStore) DeleteOpen(_ context.Context, subjectID, date string) error {
	k := dayKey(subjectID, date)
	d, ok := s.days[k]
	if !ok || d.PunchOut != nil {
		return attendance.ErrConflict
	}
	delete(s.days, k)
	return nil
}

// fakeDirectory serves name lookups from maps and leaves the query endpoints
// empty.
type fakeDirectory struct {
	subjects map[string]*models.Subject
	admins   map[string]*models.Admin
}

func (d *fakeDirectory) GetSubject(_ context.Context, id string) (*models.Subject, error) {
	return d.subjects[id], nil
}

func (d *fakeDirectory) GetAdmin(_ context.Context, id string) (*models.Admin, error) {
	return d.admins[id], nil
}

func (d *fakeDirectory) AttendanceForDate(context.Context, string) ([]storage.TodayEntry, error) {
	return nil, nil
}

func (d *fakeDirectory) AttendanceHistory(context.Context, string, string, string) ([]models.AttendanceDay, error) {
	return nil, nil
}

func (d *fakeDirectory) AttendanceReport(context.Context, string, string) ([]storage.ReportEntry, error) {
	return nil, nil
}

func (d *fakeDirectory) AttendanceStatistics(context.Context, string, string) ([]storage.SubjectStats, error) {
	return nil, nil
}

type fakeArchive struct{}

func (fakeArchive) PutMarkSnapshot(context.Context, string, time.Time, []byte) (string, error) {
	return "", nil
}

type fakePublisher struct {
	actions []string
}

func (p *fakePublisher) PublishMark(_ context.Context, action string, _ interface{}) error {
	p.actions = append(p.actions, action)
	return nil
}

// flatJPEG returns a base64 uniform gray frame: no texture, and a sequence
// of copies shows no motion.
func flatJPEG(t *testing.T) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testLivenessConfig() config.LivenessConfig {
	return config.LivenessConfig{
		Enabled:              true,
		QuickMode:            true,
		MinFrames:            5,
		Stride:               1,
		LaplacianThreshold:   100,
		SobelThreshold:       500,
		MotionPixelThreshold: 1000,
		DiffThreshold:        25,
		BlinkEARThreshold:    0.25,
	}
}

func postJSON(t *testing.T, handler gin.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST(path, handler)

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Both registries feed the mark flow: a privileged actor punches in and out
// like any subject, and the display name comes from the matching directory.
func TestMarkIdentifiesAcrossRegistries(t *testing.T) {
	ctx := context.Background()

	subjects, err := match.NewRegistry(ctx, models.RegistrySubjects, nullIdentityStore{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	admins, err := match.NewRegistry(ctx, models.RegistryAdmins, nullIdentityStore{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := subjects.Enroll(ctx, "SUB1", models.RoleSubject, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("Enroll subject: %v", err)
	}
	if _, err := admins.Enroll(ctx, "ADM1", models.RoleSuperAdmin, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("Enroll admin: %v", err)
	}

	dir := &fakeDirectory{
		subjects: map[string]*models.Subject{"SUB1": {ID: "SUB1", Name: "Sam Subject"}},
		admins:   map[string]*models.Admin{"ADM1": {ID: "ADM1", Name: "Ada Admin"}},
	}
	cfg := config.Config{Vision: config.VisionConfig{Tolerance: 0.6}}

	tests := []struct {
		name     string
		probe    []float32
		wantID   string
		wantName string
	}{
		{"subject punches in", []float32{0, 1}, "SUB1", "Sam Subject"},
		{"privileged actor punches in", []float32{1, 0}, "ADM1", "Ada Admin"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := NewAttendanceHandler(
				attendance.NewEngine(newMemDayStore(), 20*time.Second),
				subjects, admins, nil, dir, fakeArchive{}, pub, cfg)
			h.EmbedFn = func([]byte) ([]float32, image.Rectangle, error) {
				return tc.probe, image.Rectangle{}, nil
			}

			w := postJSON(t, h.Mark, "/v1/attendance/mark", dto.MarkRequest{
				Image: base64.StdEncoding.EncodeToString([]byte("frame")),
			})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}

			var resp dto.MarkResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Action != string(attendance.ActionPunchIn) {
				t.Errorf("action = %q; want %q", resp.Action, attendance.ActionPunchIn)
			}
			if resp.SubjectID != tc.wantID {
				t.Errorf("subject_id = %q; want %q", resp.SubjectID, tc.wantID)
			}
			if resp.Name != tc.wantName {
				t.Errorf("name = %q; want %q", resp.Name, tc.wantName)
			}
			if len(pub.actions) != 1 || pub.actions[0] != string(attendance.ActionPunchIn) {
				t.Errorf("published actions = %v; want one punch-in", pub.actions)
			}
		})
	}
}

func TestMarkUnknownFaceNotFound(t *testing.T) {
	ctx := context.Background()

	subjects, err := match.NewRegistry(ctx, models.RegistrySubjects, nullIdentityStore{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	admins, err := match.NewRegistry(ctx, models.RegistryAdmins, nullIdentityStore{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := subjects.Enroll(ctx, "SUB1", models.RoleSubject, [][]float32{{0, 1}}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	h := NewAttendanceHandler(
		attendance.NewEngine(newMemDayStore(), 20*time.Second),
		subjects, admins, nil, &fakeDirectory{}, fakeArchive{}, &fakePublisher{},
		config.Config{Vision: config.VisionConfig{Tolerance: 0.6}})
	h.EmbedFn = func([]byte) ([]float32, image.Rectangle, error) {
		return []float32{5, 5}, image.Rectangle{}, nil
	}

	w := postJSON(t, h.Mark, "/v1/attendance/mark", dto.MarkRequest{
		Image: base64.StdEncoding.EncodeToString([]byte("frame")),
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404 (body %s)", w.Code, w.Body.String())
	}
}

// A static flat frame sequence must block the admin login the same way it
// blocks an attendance mark.
func TestAuthenticateRejectsSpoofedLogin(t *testing.T) {
	lcfg := testLivenessConfig()
	cfg := config.Config{Liveness: lcfg}
	h := NewAdminHandler(nil, nil, nil, nil, nil, liveness.NewEngine(lcfg), cfg)

	frame := flatJPEG(t)
	frames := []string{frame, frame, frame, frame, frame}

	w := postJSON(t, h.Authenticate, "/v1/admins/authenticate", dto.AuthenticateRequest{
		Image:       frame,
		SpoofFrames: frames,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d; want 403 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reason == "" {
		t.Error("rejection carries no reason")
	}

	// Too few frames to analyze: the gate passes optimistically and control
	// reaches the (absent) vision pipeline.
	w = postJSON(t, h.Authenticate, "/v1/admins/authenticate", dto.AuthenticateRequest{
		Image: frame,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503 (body %s)", w.Code, w.Body.String())
	}
}
