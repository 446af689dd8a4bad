package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type LessonRepo struct {
	pool *pgxpool.Pool
}

func NewLessonRepo(pool *pgxpool.Pool) *LessonRepo {
	return &LessonRepo{pool: pool}
}

func (r *LessonRepo) CreateSession(ctx context.Context, s *models.LessonSession) error {
	s.ID = uuid.New()
	query := `INSERT INTO lesson_sessions (id, student_id, unit_id, started_at, ended_at, duration_seconds, is_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.StudentID, s.UnitID, s.StartedAt, s.EndedAt, s.DurationSeconds, s.IsCompleted,
	)
	return err
}

func (r *LessonRepo) GetSession(ctx context.Context, id uuid.UUID) (*models.LessonSession, error) {
	s := &models.LessonSession{}
	query := `SELECT id, student_id, unit_id, started_at, ended_at, duration_seconds, is_completed
		FROM lesson_sessions WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.StudentID, &s.UnitID, &s.StartedAt, &s.EndedAt, &s.DurationSeconds, &s.IsCompleted,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *LessonRepo) CompleteSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lesson_sessions
		SET ended_at = $2,
			duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at))::INT),
			is_completed = TRUE
		WHERE id = $1
		  AND is_completed = FALSE
	`, id, endedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LessonRepo) InsertAttempt(ctx context.Context, a *models.QuizAttempt) error {
	a.ID = uuid.New()
	query := `INSERT INTO quiz_attempts (id, session_id, student_id, question_id, choice_id, is_correct, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.SessionID, a.StudentID, a.QuestionID, a.ChoiceID, a.IsCorrect, a.AttemptedAt,
	)
	return err
}

func (r *LessonRepo) UpsertUnitScore(ctx context.Context, s *models.UnitScore) error {
	query := `INSERT INTO unit_scores
			(student_id, unit_id, cleared_topics, total_topics, progress_rate, raw_score, max_score, duration_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (student_id, unit_id) DO UPDATE SET
			cleared_topics = EXCLUDED.cleared_topics,
			total_topics = EXCLUDED.total_topics,
			progress_rate = EXCLUDED.progress_rate,
			raw_score = EXCLUDED.raw_score,
			max_score = EXCLUDED.max_score,
			duration_seconds = COALESCE(EXCLUDED.duration_seconds, unit_scores.duration_seconds),
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		s.StudentID, s.UnitID, s.ClearedTopics, s.TotalTopics, s.ProgressRate,
		s.RawScore, s.MaxScore, s.DurationSeconds, s.UpdatedAt,
	)
	return err
}
