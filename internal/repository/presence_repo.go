package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type PresenceRepo struct {
	pool *pgxpool.Pool
}

func NewPresenceRepo(pool *pgxpool.Pool) *PresenceRepo {
	return &PresenceRepo{pool: pool}
}

func (r *PresenceRepo) UpsertPresence(ctx context.Context, p *models.Presence) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO presence (user_id, role, current_unit_id, current_activity, current_unit_started_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			role = EXCLUDED.role,
			current_activity = EXCLUDED.current_activity,
			last_seen_at = EXCLUDED.last_seen_at,
			current_unit_started_at = CASE
				WHEN presence.current_unit_id IS NOT DISTINCT FROM EXCLUDED.current_unit_id
				THEN presence.current_unit_started_at
				ELSE EXCLUDED.current_unit_started_at
			END,
			current_unit_id = EXCLUDED.current_unit_id
		RETURNING current_unit_started_at
	`, p.UserID, p.Role, p.CurrentUnitID, p.CurrentActivity, p.CurrentUnitStartedAt, p.LastSeenAt,
	).Scan(&p.CurrentUnitStartedAt)
}

func (r *PresenceRepo) ListPresence(ctx context.Context, role models.Role) ([]*models.Presence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.user_id, p.role, p.current_unit_id, u.name, p.current_activity,
		       p.current_unit_started_at, p.last_seen_at
		FROM presence p
		LEFT JOIN units u ON u.id = p.current_unit_id
		WHERE p.role = $1
		ORDER BY p.last_seen_at DESC
	`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.Presence
	for rows.Next() {
		p := &models.Presence{}
		if err := rows.Scan(&p.UserID, &p.Role, &p.CurrentUnitID, &p.CurrentUnitName, &p.CurrentActivity,
			&p.CurrentUnitStartedAt, &p.LastSeenAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
