package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

// UpsertCompletedProgress never touches dialogue_cleared on conflict: a
// cleared debt stays cleared when the unit is completed again.
func (r *ProgressRepo) UpsertCompletedProgress(ctx context.Context, studentID, unitID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO student_progress (student_id, unit_id, status, dialogue_cleared, completed_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (student_id, unit_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at
	`, studentID, unitID, models.ProgressStatusCompleted, at)
	return err
}

func (r *ProgressRepo) ListPendingDialogues(ctx context.Context, studentID uuid.UUID) ([]models.PendingDialogue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sp.unit_id, u.name, u.is_dialogue_checkpoint
		FROM student_progress sp
		JOIN units u ON u.id = sp.unit_id
		WHERE sp.student_id = $1
		  AND sp.dialogue_cleared = FALSE
		ORDER BY u.sort_order, sp.completed_at
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []models.PendingDialogue
	for rows.Next() {
		var p models.PendingDialogue
		if err := rows.Scan(&p.UnitID, &p.UnitName, &p.IsCheckpoint); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
