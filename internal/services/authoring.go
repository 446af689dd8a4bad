package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-backend/internal/models"
)

// AuthoringService edits quiz content and enforces that every question
// keeps at least one correct choice.
type AuthoringService struct {
	content ContentStore
	log     *zap.Logger
}

func NewAuthoringService(content ContentStore, log *zap.Logger) *AuthoringService {
	return &AuthoringService{content: content, log: log}
}

func (s *AuthoringService) CreateTopic(ctx context.Context, unitID uuid.UUID, label string) (*models.QuizTopic, error) {
	if _, err := adminFrom(ctx); err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, &ValidationError{Fields: map[string]string{"label": "Label is required"}}
	}

	if _, err := s.content.GetUnit(ctx, unitID); err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Unit not found"}
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}

	t := &models.QuizTopic{UnitID: unitID, Label: label}
	if err := s.content.CreateTopic(ctx, t); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return t, nil
}

func (s *AuthoringService) CreateQuestion(ctx context.Context, topicID uuid.UUID, body string, choices []models.ChoiceInput) (*models.Question, error) {
	if _, err := adminFrom(ctx); err != nil {
		return nil, err
	}

	q := &models.Question{TopicID: topicID, Body: strings.TrimSpace(body)}
	for _, c := range choices {
		q.Choices = append(q.Choices, models.Choice{
			Body:        strings.TrimSpace(c.Body),
			IsCorrect:   c.IsCorrect,
			Explanation: c.Explanation,
		})
	}

	fields := map[string]string{}
	if q.Body == "" {
		fields["body"] = "Question text is required"
	}
	if len(q.Choices) == 0 {
		fields["choices"] = "At least one choice is required"
	} else if !q.HasCorrectChoice() {
		fields["choices"] = "At least one choice must be correct"
	}
	for i, c := range q.Choices {
		if c.Body == "" {
			fields[fmt.Sprintf("choices[%d].body", i)] = "Choice text is required"
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if _, err := s.content.GetTopic(ctx, topicID); err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Topic not found"}
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}

	if err := s.content.CreateQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	s.log.Info("question created",
		zap.String("question_id", q.ID.String()),
		zap.String("topic_id", topicID.String()),
		zap.Int("choices", len(q.Choices)))
	return q, nil
}

func (s *AuthoringService) UpdateChoice(ctx context.Context, choiceID uuid.UUID, body string, isCorrect bool, explanation *string) (*models.Choice, error) {
	if _, err := adminFrom(ctx); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &ValidationError{Fields: map[string]string{"body": "Choice text is required"}}
	}

	q, err := s.questionOf(ctx, choiceID)
	if err != nil {
		return nil, err
	}
	if !isCorrect && !hasOtherCorrect(q, choiceID) {
		return nil, ErrLastCorrectChoice
	}

	c := &models.Choice{ID: choiceID, QuestionID: q.ID, Body: body, IsCorrect: isCorrect, Explanation: explanation}
	ok, err := s.content.UpdateChoice(ctx, c)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Choice not found"}
		}
		return nil, fmt.Errorf("update choice: %w", err)
	}
	if !ok {
		return nil, ErrLastCorrectChoice
	}
	return c, nil
}

func (s *AuthoringService) DeleteChoice(ctx context.Context, choiceID uuid.UUID) error {
	if _, err := adminFrom(ctx); err != nil {
		return err
	}

	q, err := s.questionOf(ctx, choiceID)
	if err != nil {
		return err
	}
	if c, _ := q.Choice(choiceID); c != nil && c.IsCorrect && !hasOtherCorrect(q, choiceID) {
		return ErrLastCorrectChoice
	}

	ok, err := s.content.DeleteChoice(ctx, choiceID)
	if err != nil {
		if isNoRows(err) {
			return &NotFoundError{Message: "Choice not found"}
		}
		return fmt.Errorf("delete choice: %w", err)
	}
	if !ok {
		return ErrLastCorrectChoice
	}
	s.log.Info("choice deleted",
		zap.String("choice_id", choiceID.String()),
		zap.String("question_id", q.ID.String()))
	return nil
}

func (s *AuthoringService) questionOf(ctx context.Context, choiceID uuid.UUID) (*models.Question, error) {
	q, err := s.content.GetQuestionByChoice(ctx, choiceID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Choice not found"}
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

func hasOtherCorrect(q *models.Question, choiceID uuid.UUID) bool {
	for _, c := range q.Choices {
		if c.ID != choiceID && c.IsCorrect {
			return true
		}
	}
	return false
}
