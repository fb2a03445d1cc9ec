package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qq276356648/SmartProctor/internal/core"
	"github.com/qq276356648/SmartProctor/internal/domain"
)

// user_role values in exam_users.
const (
	dbRoleTaker   = 1
	dbRoleProctor = 2
)

// Schema is the minimal layout the postgres directory reads.
const Schema = `
CREATE TABLE IF NOT EXISTS exams (
	id         TEXT PRIMARY KEY,
	start_time TIMESTAMPTZ NOT NULL,
	duration   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS exam_users (
	exam_id   TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL,
	user_role SMALLINT NOT NULL,
	PRIMARY KEY (exam_id, user_id, user_role)
);`

// Postgres reads exams and enrollments from PostgreSQL.
type Postgres struct {
	db *pgxpool.Pool
}

var _ core.Directory = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pool for dsn and checks it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if pc.ConnConfig.RuntimeParams == nil {
		pc.ConnConfig.RuntimeParams = map[string]string{}
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "smartproctor"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	return err
}

func (p *Postgres) GetEnrollment(ctx context.Context, exam domain.ExamID, user domain.UserID) (domain.Enrollment, error) {
	rows, err := p.db.Query(ctx,
		`SELECT user_role FROM exam_users WHERE exam_id=$1 AND user_id=$2`,
		string(exam), string(user))
	if err != nil {
		return domain.EnrollmentNone, fmt.Errorf("query enrollment: %w", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[int16])
	if err != nil {
		return domain.EnrollmentNone, fmt.Errorf("scan enrollment: %w", err)
	}
	e := domain.EnrollmentNone
	for _, r := range roles {
		switch r {
		case dbRoleTaker:
			e |= domain.EnrollmentTaker
		case dbRoleProctor:
			e |= domain.EnrollmentProctor
		}
	}
	return e, nil
}

func (p *Postgres) GetSessionSchedule(ctx context.Context, exam domain.ExamID) (*domain.ExamSession, error) {
	s := domain.ExamSession{ID: exam}
	err := p.db.QueryRow(ctx,
		`SELECT start_time, duration FROM exams WHERE id=$1`, string(exam)).
		Scan(&s.StartTime, &s.Duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query exam: %w", err)
	}
	return &s, nil
}

// AddExam inserts or reschedules an exam.
func (p *Postgres) AddExam(ctx context.Context, s domain.ExamSession) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO exams (id, start_time, duration) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET start_time=EXCLUDED.start_time, duration=EXCLUDED.duration
	`, string(s.ID), s.StartTime, s.Duration)
	return err
}

func (p *Postgres) Enroll(ctx context.Context, exam domain.ExamID, user domain.UserID, role domain.Role) error {
	code := dbRoleTaker
	if role == domain.RoleProctor {
		code = dbRoleProctor
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO exam_users (exam_id, user_id, user_role) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, string(exam), string(user), code)
	return err
}
