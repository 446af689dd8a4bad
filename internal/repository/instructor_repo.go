package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type InstructorRepo struct {
	pool *pgxpool.Pool
}

func NewInstructorRepo(pool *pgxpool.Pool) *InstructorRepo {
	return &InstructorRepo{pool: pool}
}

func (r *InstructorRepo) GetInstructor(ctx context.Context, id uuid.UUID) (*models.Instructor, error) {
	i := &models.Instructor{}
	err := r.pool.QueryRow(ctx,
		"SELECT id, room_name, status, created_at, updated_at FROM instructors WHERE id = $1", id,
	).Scan(&i.ID, &i.RoomName, &i.Status, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *InstructorRepo) ListInstructors(ctx context.Context) ([]*models.Instructor, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT id, room_name, status, created_at, updated_at FROM instructors ORDER BY room_name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Instructor
	for rows.Next() {
		i := &models.Instructor{}
		if err := rows.Scan(&i.ID, &i.RoomName, &i.Status, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	return list, rows.Err()
}

func (r *InstructorRepo) CountInstructorsByStatus(ctx context.Context, status models.InstructorStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM instructors WHERE status = $1", status).Scan(&n)
	return n, err
}

func (r *InstructorRepo) SetInstructorStatus(ctx context.Context, id uuid.UUID, status models.InstructorStatus) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE instructors SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	return err
}

func (r *InstructorRepo) CompareAndSwapInstructorStatus(ctx context.Context, id uuid.UUID, from, to models.InstructorStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		"UPDATE instructors SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
