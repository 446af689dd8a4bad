package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type TicketRepo struct {
	pool *pgxpool.Pool
}

func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

const ticketColumns = `t.id, t.student_id, t.instructor_id, t.unit_ids, t.status, t.evaluation_note,
	t.created_at, t.assigned_at, t.completed_at, t.cancelled_at, COALESCE(i.room_name, '')`

const ticketFrom = `FROM support_tickets t LEFT JOIN instructors i ON i.id = t.instructor_id`

func scanTicket(row pgx.Row) (*models.SupportTicket, error) {
	t := &models.SupportTicket{}
	err := row.Scan(
		&t.ID, &t.StudentID, &t.InstructorID, &t.UnitIDs, &t.Status, &t.EvaluationNote,
		&t.CreatedAt, &t.AssignedAt, &t.CompletedAt, &t.CancelledAt, &t.RoomName,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TicketRepo) InsertTicket(ctx context.Context, t *models.SupportTicket) error {
	t.ID = uuid.New()
	query := `INSERT INTO support_tickets (id, student_id, unit_ids, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query, t.ID, t.StudentID, t.UnitIDs, t.Status, t.CreatedAt)
	return err
}

func (r *TicketRepo) GetTicket(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	return scanTicket(r.pool.QueryRow(ctx,
		"SELECT "+ticketColumns+" "+ticketFrom+" WHERE t.id = $1", id))
}

func (r *TicketRepo) GetActiveTicketForStudent(ctx context.Context, studentID uuid.UUID) (*models.SupportTicket, error) {
	return scanTicket(r.pool.QueryRow(ctx,
		"SELECT "+ticketColumns+" "+ticketFrom+
			" WHERE t.student_id = $1 AND t.status IN ('waiting', 'assigned')"+
			" ORDER BY t.created_at DESC LIMIT 1", studentID))
}

func (r *TicketRepo) ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]*models.SupportTicket, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+ticketColumns+" "+ticketFrom+" WHERE t.status = $1 ORDER BY t.created_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*models.SupportTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *TicketRepo) CountTicketsByStatus(ctx context.Context, status models.TicketStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM support_tickets WHERE status = $1", status).Scan(&n)
	return n, err
}

func (r *TicketRepo) HasAssignedTicket(ctx context.Context, instructorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM support_tickets WHERE instructor_id = $1 AND status = 'assigned')",
		instructorID,
	).Scan(&exists)
	return exists, err
}

// buildTicketCAS renders the conditional update. Nil patch fields are left
// untouched; nil guard ids are not checked.
func buildTicketCAS(id uuid.UUID, guard models.TicketGuard, patch models.TicketPatch) (string, []any) {
	args := []any{id, guard.Status, patch.Status}
	sets := []string{"status = $3"}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.InstructorID != nil {
		add("instructor_id", *patch.InstructorID)
	}
	if patch.AssignedAt != nil {
		add("assigned_at", *patch.AssignedAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	if patch.CancelledAt != nil {
		add("cancelled_at", *patch.CancelledAt)
	}
	if patch.EvaluationNote != nil {
		add("evaluation_note", *patch.EvaluationNote)
	}

	where := []string{"id = $1", "status = $2"}
	if guard.StudentID != nil {
		args = append(args, *guard.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if guard.InstructorID != nil {
		args = append(args, *guard.InstructorID)
		where = append(where, fmt.Sprintf("instructor_id = $%d", len(args)))
	}

	query := "UPDATE support_tickets SET " + strings.Join(sets, ", ") +
		" WHERE " + strings.Join(where, " AND ")
	return query, args
}

func (r *TicketRepo) CompareAndSwapTicket(ctx context.Context, id uuid.UUID, guard models.TicketGuard, patch models.TicketPatch) (bool, error) {
	query, args := buildTicketCAS(id, guard, patch)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TicketRepo) CompleteTicket(ctx context.Context, c models.TicketCompletion) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin completion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE student_progress SET dialogue_cleared = TRUE
		WHERE student_id = $1 AND unit_id = ANY($2)
	`, c.StudentID, c.UnitIDs); err != nil {
		return false, fmt.Errorf("clear dialogue debt: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE support_tickets
		SET status = 'completed', completed_at = $3, evaluation_note = $4
		WHERE id = $1 AND status = 'assigned' AND instructor_id = $2
	`, c.TicketID, c.InstructorID, c.CompletedAt, c.EvaluationNote)
	if err != nil {
		return false, fmt.Errorf("complete ticket: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE instructors SET status = 'idle', updated_at = $2 WHERE id = $1",
		c.InstructorID, c.CompletedAt,
	); err != nil {
		return false, fmt.Errorf("release instructor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit completion: %w", err)
	}
	return true, nil
}
