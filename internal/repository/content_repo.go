package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lms-backend/internal/models"
)

type ContentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool}
}

func (r *ContentRepo) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	u := &models.Unit{}
	query := `SELECT id, name, kind, is_dialogue_checkpoint, max_score, sort_order, created_at
		FROM units WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Kind, &u.IsDialogueCheckpoint, &u.MaxScore, &u.SortOrder, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListTopicsWithQuestions loads the unit's whole quiz tree with one query
// per level.
func (r *ContentRepo) ListTopicsWithQuestions(ctx context.Context, unitID uuid.UUID) ([]models.QuizTopic, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, unit_id, label, sort_order FROM quiz_topics
		 WHERE unit_id = $1 ORDER BY sort_order, id`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []models.QuizTopic
	topicIdx := make(map[uuid.UUID]int)
	for rows.Next() {
		var t models.QuizTopic
		if err := rows.Scan(&t.ID, &t.UnitID, &t.Label, &t.SortOrder); err != nil {
			return nil, err
		}
		topicIdx[t.ID] = len(topics)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return topics, nil
	}

	qrows, err := r.pool.Query(ctx,
		`SELECT q.id, q.topic_id, q.body,
		        c.id, c.body, c.is_correct, c.explanation, c.sort_order
		 FROM questions q
		 JOIN quiz_topics t ON t.id = q.topic_id
		 LEFT JOIN choices c ON c.question_id = q.id
		 WHERE t.unit_id = $1
		 ORDER BY q.created_at, q.id, c.sort_order, c.id`, unitID)
	if err != nil {
		return nil, err
	}
	defer qrows.Close()

	type qpos struct{ topic, question int }
	questionIdx := make(map[uuid.UUID]qpos)
	for qrows.Next() {
		var (
			qID, topicID uuid.UUID
			body         string
			cID          *uuid.UUID
			cBody        *string
			cCorrect     *bool
			cExpl        *string
			cOrder       *int
		)
		if err := qrows.Scan(&qID, &topicID, &body, &cID, &cBody, &cCorrect, &cExpl, &cOrder); err != nil {
			return nil, err
		}

		pos, ok := questionIdx[qID]
		if !ok {
			ti := topicIdx[topicID]
			topics[ti].Questions = append(topics[ti].Questions, models.Question{ID: qID, TopicID: topicID, Body: body})
			pos = qpos{ti, len(topics[ti].Questions) - 1}
			questionIdx[qID] = pos
		}
		if cID == nil {
			continue
		}

		q := &topics[pos.topic].Questions[pos.question]
		q.Choices = append(q.Choices, models.Choice{
			ID:          *cID,
			QuestionID:  qID,
			Body:        *cBody,
			IsCorrect:   *cCorrect,
			Explanation: cExpl,
			SortOrder:   *cOrder,
		})
	}
	return topics, qrows.Err()
}

func (r *ContentRepo) CreateTopic(ctx context.Context, t *models.QuizTopic) error {
	t.ID = uuid.New()
	query := `INSERT INTO quiz_topics (id, unit_id, label, sort_order)
		VALUES ($1, $2, $3, COALESCE((SELECT MAX(sort_order) + 1 FROM quiz_topics WHERE unit_id = $2), 0))
		RETURNING sort_order`

	return r.pool.QueryRow(ctx, query, t.ID, t.UnitID, t.Label).Scan(&t.SortOrder)
}

func (r *ContentRepo) GetTopic(ctx context.Context, id uuid.UUID) (*models.QuizTopic, error) {
	t := &models.QuizTopic{}
	err := r.pool.QueryRow(ctx,
		"SELECT id, unit_id, label, sort_order FROM quiz_topics WHERE id = $1", id,
	).Scan(&t.ID, &t.UnitID, &t.Label, &t.SortOrder)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ContentRepo) CreateQuestion(ctx context.Context, q *models.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin question tx: %w", err)
	}
	defer tx.Rollback(ctx)

	q.ID = uuid.New()
	if _, err := tx.Exec(ctx,
		"INSERT INTO questions (id, topic_id, body) VALUES ($1, $2, $3)",
		q.ID, q.TopicID, q.Body,
	); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range q.Choices {
		c := &q.Choices[i]
		c.ID = uuid.New()
		c.QuestionID = q.ID
		c.SortOrder = i
		batch.Queue(
			`INSERT INTO choices (id, question_id, body, is_correct, explanation, sort_order)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, c.QuestionID, c.Body, c.IsCorrect, c.Explanation, c.SortOrder,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *ContentRepo) GetQuestionByChoice(ctx context.Context, choiceID uuid.UUID) (*models.Question, error) {
	q := &models.Question{}
	err := r.pool.QueryRow(ctx,
		`SELECT q.id, q.topic_id, q.body FROM questions q
		 JOIN choices c ON c.question_id = q.id WHERE c.id = $1`, choiceID,
	).Scan(&q.ID, &q.TopicID, &q.Body)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, body, is_correct, explanation, sort_order
		 FROM choices WHERE question_id = $1 ORDER BY sort_order, id`, q.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Body, &c.IsCorrect, &c.Explanation, &c.SortOrder); err != nil {
			return nil, err
		}
		q.Choices = append(q.Choices, c)
	}
	return q, rows.Err()
}

// lockQuestionOfChoice serializes choice edits per question so two
// concurrent edits cannot together strip the last correct choice.
func lockQuestionOfChoice(ctx context.Context, tx pgx.Tx, choiceID uuid.UUID) error {
	var questionID uuid.UUID
	return tx.QueryRow(ctx,
		`SELECT q.id FROM questions q
		 JOIN choices c ON c.question_id = q.id
		 WHERE c.id = $1 FOR UPDATE OF q`, choiceID,
	).Scan(&questionID)
}

func (r *ContentRepo) UpdateChoice(ctx context.Context, c *models.Choice) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin choice tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockQuestionOfChoice(ctx, tx, c.ID); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE choices SET body = $2, is_correct = $3, explanation = $4
		 WHERE id = $1
		   AND ($3 OR EXISTS (
		       SELECT 1 FROM choices other
		       WHERE other.question_id = choices.question_id
		         AND other.id <> choices.id
		         AND other.is_correct))`,
		c.ID, c.Body, c.IsCorrect, c.Explanation,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (r *ContentRepo) DeleteChoice(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin choice tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockQuestionOfChoice(ctx, tx, id); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM choices
		 WHERE id = $1
		   AND (NOT is_correct OR EXISTS (
		       SELECT 1 FROM choices other
		       WHERE other.question_id = choices.question_id
		         AND other.id <> choices.id
		         AND other.is_correct))`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}
