package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---
//
// One row per enrolled identity per registry; the embedding is the stored
// centroid, not the raw samples.

func (s *PostgresStore) SaveIdentity(ctx context.Context, id models.Identity) error {
	vec := pgvector.NewVector(id.Embedding)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (registry, id, role, active, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (registry, id) DO UPDATE
		 SET role = EXCLUDED.role, active = EXCLUDED.active,
		     embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		id.Kind, id.ID, id.Role, id.Active, vec, id.CreatedAt, id.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentity(ctx context.Context, kind models.RegistryKind, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM identities WHERE registry = $1 AND id = $2`, kind, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetIdentityActive(ctx context.Context, kind models.RegistryKind, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET active = $1, updated_at = NOW() WHERE registry = $2 AND id = $3`,
		active, kind, id)
	if err != nil {
		return fmt.Errorf("set identity active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %s/%s not found", kind, id)
	}
	return nil
}

func (s *PostgresStore) LoadIdentities(ctx context.Context, kind models.RegistryKind) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, active, embedding, created_at, updated_at
		 FROM identities WHERE registry = $1`, kind)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		id := models.Identity{Kind: kind}
		var vec pgvector.Vector
		if err := rows.Scan(&id.ID, &id.Role, &id.Active, &vec, &id.CreatedAt, &id.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		id.Embedding = vec.Slice()
		identities = append(identities, id)
	}
	return identities, nil
}

// --- Subjects ---

func (s *PostgresStore) UpsertSubject(ctx context.Context, sub *models.Subject) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subjects (id, name, email, department, registered)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email,
		     department = EXCLUDED.department, registered = EXCLUDED.registered
		 RETURNING created_at`,
		sub.ID, sub.Name, sub.Email, sub.Department, sub.Registered,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	sub := &models.Subject{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, department, registered, created_at
		 FROM subjects WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.Name, &sub.Email, &sub.Department, &sub.Registered, &sub.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, department, registered, created_at
		 FROM subjects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var sub models.Subject
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Email, &sub.Department,
			&sub.Registered, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, sub)
	}
	return subjects, nil
}

func (s *PostgresStore) DeleteSubject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subjects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject not found")
	}
	return nil
}

// --- Admins ---

func (s *PostgresStore) UpsertAdmin(ctx context.Context, adm *models.Admin) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO admins (id, name, email, role, active, registered)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role,
		     active = EXCLUDED.active, registered = EXCLUDED.registered
		 RETURNING created_at`,
		adm.ID, adm.Name, adm.Email, adm.Role, adm.Active, adm.Registered,
	).Scan(&adm.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAdmin(ctx context.Context, id string) (*models.Admin, error) {
	adm := &models.Admin{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, role, active, registered, created_at
		 FROM admins WHERE id = $1`, id,
	).Scan(&adm.ID, &adm.Name, &adm.Email, &adm.Role, &adm.Active, &adm.Registered, &adm.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return adm, nil
}

func (s *PostgresStore) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, role, active, registered, created_at
		 FROM admins ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var admins []models.Admin
	for rows.Next() {
		var adm models.Admin
		if err := rows.Scan(&adm.ID, &adm.Name, &adm.Email, &adm.Role,
			&adm.Active, &adm.Registered, &adm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		admins = append(admins, adm)
	}
	return admins, nil
}

func (s *PostgresStore) SetAdminActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE admins SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set admin active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("admin not found")
	}
	return nil
}

func (s *PostgresStore) DeleteAdmin(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM admins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("admin not found")
	}
	return nil
}

// --- Attendance days ---
//
// The (subject_id, date) unique key plus conditional writes make concurrent
// marks safe without advisory locks: the losing request sees zero rows
// affected and maps that to attendance.ErrConflict.

func (s *PostgresStore) Day(ctx context.Context, subjectID, date string) (*models.AttendanceDay, error) {
	day := &models.AttendanceDay{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, date, punch_in, punch_out, hours_worked, created_at
		 FROM attendance_days WHERE subject_id = $1 AND date = $2`,
		subjectID, date,
	).Scan(&day.ID, &day.SubjectID, &day.Date, &day.PunchIn,
		&day.PunchOut, &day.HoursWorked, &day.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance day: %w", err)
	}
	return day, nil
}

func (s *PostgresStore) CreateOpen(ctx context.Context, subjectID, date string, punchIn time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO attendance_days (id, subject_id, date, punch_in)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id, date) DO NOTHING`,
		uuid.New(), subjectID, date, punchIn)
	if err != nil {
		return fmt.Errorf("create attendance day: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attendance.ErrConflict
	}
	return nil
}

func (s *PostgresStore) CloseDay(ctx context.Context, subjectID, date string, punchOut time.Time, hours float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance_days SET punch_out = $1, hours_worked = $2
		 WHERE subject_id = $3 AND date = $4 AND punch_out IS NULL`,
		punchOut, hours, subjectID, date)
	if err != nil {
		return fmt.Errorf("close attendance day: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attendance.ErrConflict
	}
	return nil
}

func (s *PostgresStore) DeleteOpen(ctx context.Context, subjectID, date string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM attendance_days
		 WHERE subject_id = $1 AND date = $2 AND punch_out IS NULL`,
		subjectID, date)
	if err != nil {
		return fmt.Errorf("discard attendance day: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attendance.ErrConflict
	}
	return nil
}

// --- Reports ---

// TodayEntry is one subject's state on a given date.
type TodayEntry struct {
	SubjectID   string     `json:"subject_id"`
	Name        string     `json:"name"`
	PunchIn     time.Time  `json:"punch_in"`
	PunchOut    *time.Time `json:"punch_out,omitempty"`
	HoursWorked *float64   `json:"hours_worked,omitempty"`
}

func (s *PostgresStore) AttendanceForDate(ctx context.Context, date string) ([]TodayEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.subject_id, COALESCE(sub.name, a.subject_id), a.punch_in, a.punch_out, a.hours_worked
		 FROM attendance_days a
		 LEFT JOIN subjects sub ON sub.id = a.subject_id
		 WHERE a.date = $1
		 ORDER BY a.punch_in`, date)
	if err != nil {
		return nil, fmt.Errorf("attendance for date: %w", err)
	}
	defer rows.Close()

	var entries []TodayEntry
	for rows.Next() {
		var e TodayEntry
		if err := rows.Scan(&e.SubjectID, &e.Name, &e.PunchIn, &e.PunchOut, &e.HoursWorked); err != nil {
			return nil, fmt.Errorf("scan attendance entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *PostgresStore) AttendanceHistory(ctx context.Context, subjectID, from, to string) ([]models.AttendanceDay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, date, punch_in, punch_out, hours_worked, created_at
		 FROM attendance_days
		 WHERE subject_id = $1 AND date >= $2 AND date <= $3
		 ORDER BY date DESC`,
		subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("attendance history: %w", err)
	}
	defer rows.Close()

	var days []models.AttendanceDay
	for rows.Next() {
		var day models.AttendanceDay
		if err := rows.Scan(&day.ID, &day.SubjectID, &day.Date, &day.PunchIn,
			&day.PunchOut, &day.HoursWorked, &day.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attendance day: %w", err)
		}
		days = append(days, day)
	}
	return days, nil
}

// ReportEntry is one attendance row in a date-range report.
type ReportEntry struct {
	Date        string     `json:"date"`
	SubjectID   string     `json:"subject_id"`
	Name        string     `json:"name"`
	PunchIn     time.Time  `json:"punch_in"`
	PunchOut    *time.Time `json:"punch_out,omitempty"`
	HoursWorked *float64   `json:"hours_worked,omitempty"`
}

func (s *PostgresStore) AttendanceReport(ctx context.Context, from, to string) ([]ReportEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.date, a.subject_id, COALESCE(sub.name, a.subject_id), a.punch_in, a.punch_out, a.hours_worked
		 FROM attendance_days a
		 LEFT JOIN subjects sub ON sub.id = a.subject_id
		 WHERE a.date >= $1 AND a.date <= $2
		 ORDER BY a.date DESC, a.punch_in`, from, to)
	if err != nil {
		return nil, fmt.Errorf("attendance report: %w", err)
	}
	defer rows.Close()

	var entries []ReportEntry
	for rows.Next() {
		var e ReportEntry
		if err := rows.Scan(&e.Date, &e.SubjectID, &e.Name, &e.PunchIn, &e.PunchOut, &e.HoursWorked); err != nil {
			return nil, fmt.Errorf("scan report entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SubjectStats aggregates one subject's completed days over a range.
type SubjectStats struct {
	SubjectID    string  `json:"subject_id"`
	Name         string  `json:"name"`
	DaysPresent  int     `json:"days_present"`
	TotalHours   float64 `json:"total_hours"`
	AverageHours float64 `json:"average_hours"`
}

func (s *PostgresStore) AttendanceStatistics(ctx context.Context, from, to string) ([]SubjectStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.subject_id, COALESCE(sub.name, a.subject_id),
		        COUNT(*) FILTER (WHERE a.punch_out IS NOT NULL),
		        COALESCE(SUM(a.hours_worked), 0),
		        COALESCE(AVG(a.hours_worked), 0)
		 FROM attendance_days a
		 LEFT JOIN subjects sub ON sub.id = a.subject_id
		 WHERE a.date >= $1 AND a.date <= $2
		 GROUP BY a.subject_id, sub.name
		 ORDER BY a.subject_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("attendance statistics: %w", err)
	}
	defer rows.Close()

	var stats []SubjectStats
	for rows.Next() {
		var st SubjectStats
		if err := rows.Scan(&st.SubjectID, &st.Name, &st.DaysPresent,
			&st.TotalHours, &st.AverageHours); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// --- Activity log ---

func (s *PostgresStore) LogActivity(ctx context.Context, entry *models.ActivityEntry) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	if entry.Details == nil {
		entry.Details = json.RawMessage("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity_log (id, actor_id, action, target_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, entry.Action, entry.TargetID, entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_id, action, target_id, details, created_at
		 FROM activity_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
