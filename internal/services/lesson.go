package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-backend/internal/metrics"
	"lms-backend/internal/models"
	"lms-backend/internal/quizqueue"
)

// LessonState is the student's view of a session: where the cursor is and
// what to answer next.
type LessonState struct {
	Session       *models.LessonSession   `json:"session"`
	Position      int                     `json:"position"`
	QueueLength   int                     `json:"queue_length"`
	ClearedTopics int                     `json:"cleared_topics"`
	TotalTopics   int                     `json:"total_topics"`
	ProgressRate  float64                 `json:"progress_rate"`
	Finished      bool                    `json:"finished"`
	Question      *quizqueue.QuestionView `json:"question"`
}

type AdvanceResult struct {
	State    *LessonState `json:"state"`
	Decision *Decision    `json:"decision,omitempty"`
}

type LessonService struct {
	content         ContentStore
	lessons         LessonStore
	queues          QueueStore
	checkpoint      *CheckpointController
	feed            Publisher
	policy          quizqueue.Policy
	defaultMaxScore int
	log             *zap.Logger
	now             func() time.Time
	newRand         func() *rand.Rand
}

func NewLessonService(
	content ContentStore,
	lessons LessonStore,
	queues QueueStore,
	checkpoint *CheckpointController,
	feed Publisher,
	policy quizqueue.Policy,
	defaultMaxScore int,
	log *zap.Logger,
) *LessonService {
	return &LessonService{
		content:         content,
		lessons:         lessons,
		queues:          queues,
		checkpoint:      checkpoint,
		feed:            feed,
		policy:          policy,
		defaultMaxScore: defaultMaxScore,
		log:             log,
		now:             time.Now,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

func (s *LessonService) getUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	unit, err := s.content.GetUnit(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Unit not found"}
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return unit, nil
}

func (s *LessonService) engineFor(ctx context.Context, unitID uuid.UUID) (*quizqueue.Engine, error) {
	topics, err := s.content.ListTopicsWithQuestions(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("load quiz content: %w", err)
	}
	return quizqueue.NewEngine(topics, s.policy, s.newRand()), nil
}

// ownSession loads a session and checks it belongs to the caller.
func (s *LessonService) ownSession(ctx context.Context, sessionID uuid.UUID) (*models.LessonSession, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.lessons.GetSession(ctx, sessionID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Lesson session not found"}
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.StudentID != caller.UserID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	return session, nil
}

func (s *LessonService) loadQueue(ctx context.Context, sessionID uuid.UUID) (*quizqueue.Queue, error) {
	q, err := s.queues.LoadQueue(ctx, sessionID)
	if err != nil {
		if errors.Is(err, quizqueue.ErrStateNotFound) {
			return nil, &NotFoundError{Message: "Lesson has expired, start the unit again"}
		}
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return q, nil
}

func stateOf(session *models.LessonSession, q *quizqueue.Queue, e *quizqueue.Engine) *LessonState {
	st := &LessonState{
		Session:       session,
		Position:      q.Cursor,
		QueueLength:   len(q.Items),
		ClearedTopics: len(q.Cleared),
		TotalTopics:   q.TotalTopics,
		ProgressRate:  q.ProgressRate(),
		Finished:      q.Finished(),
	}
	if e != nil && !st.Finished {
		if view, ok := e.View(q, q.Cursor); ok {
			st.Question = view
		}
	}
	return st
}

// Start opens a lesson session for the caller and builds its quiz queue.
func (s *LessonService) Start(ctx context.Context, unitID uuid.UUID) (*LessonState, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	unit, err := s.getUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	engine, err := s.engineFor(ctx, unit.ID)
	if err != nil {
		return nil, err
	}

	session := &models.LessonSession{
		StudentID: caller.UserID,
		UnitID:    unit.ID,
		StartedAt: s.now().UTC(),
	}
	if err := s.lessons.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	q := engine.Start(session.ID, unit.ID)
	if err := s.queues.SaveQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}

	s.log.Info("lesson started",
		zap.String("session_id", session.ID.String()),
		zap.String("student_id", caller.UserID.String()),
		zap.String("unit_id", unit.ID.String()),
		zap.Int("topics", q.TotalTopics),
		zap.Int("queue_length", len(q.Items)))

	return stateOf(session, q, engine), nil
}

func (s *LessonService) Get(ctx context.Context, sessionID uuid.UUID) (*LessonState, error) {
	session, err := s.ownSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return &LessonState{Session: session, Finished: true}, nil
	}

	q, err := s.loadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, session.UnitID)
	if err != nil {
		return nil, err
	}
	return stateOf(session, q, engine), nil
}

// SubmitAnswer grades the answer at position, records the attempt and
// refreshes the unit score.
func (s *LessonService) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, position int, choiceID uuid.UUID) (*quizqueue.Outcome, error) {
	session, err := s.ownSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return nil, ErrSessionFinished
	}

	q, err := s.loadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, session.UnitID)
	if err != nil {
		return nil, err
	}

	out, err := engine.Submit(q, position, choiceID)
	if err != nil {
		return nil, mapQueueError(err)
	}

	now := s.now().UTC()
	attempt := &models.QuizAttempt{
		SessionID:   session.ID,
		StudentID:   session.StudentID,
		QuestionID:  out.QuestionID,
		ChoiceID:    out.ChoiceID,
		IsCorrect:   out.Correct,
		AttemptedAt: now,
	}
	if err := s.lessons.InsertAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	if err := s.upsertQuizScore(ctx, session, q, nil, now); err != nil {
		return nil, err
	}
	if err := s.queues.SaveQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}

	metrics.QuizAnswers.WithLabelValues(strconv.FormatBool(out.Correct)).Inc()
	return out, nil
}

func (s *LessonService) upsertQuizScore(ctx context.Context, session *models.LessonSession, q *quizqueue.Queue, duration *int, at time.Time) error {
	score := &models.UnitScore{
		StudentID:       session.StudentID,
		UnitID:          session.UnitID,
		ClearedTopics:   len(q.Cleared),
		TotalTopics:     q.TotalTopics,
		ProgressRate:    q.ProgressRate(),
		DurationSeconds: duration,
		UpdatedAt:       at,
	}
	if err := s.lessons.UpsertUnitScore(ctx, score); err != nil {
		return fmt.Errorf("upsert unit score: %w", err)
	}
	notify(ctx, s.feed, s.log, models.ChangeEvent{
		Table:   models.TableUnitScores,
		Op:      models.OpUpdate,
		RowID:   session.UnitID,
		OwnerID: session.StudentID,
	})
	return nil
}

func mapQueueError(err error) error {
	switch {
	case errors.Is(err, quizqueue.ErrFinished):
		return ErrSessionFinished
	case errors.Is(err, quizqueue.ErrOutOfOrder):
		return ErrOutOfOrder
	case errors.Is(err, quizqueue.ErrAlreadyAnswered):
		return ErrAlreadyAnswered
	case errors.Is(err, quizqueue.ErrNotAnswered):
		return ErrNotAnswered
	case errors.Is(err, quizqueue.ErrUnknownChoice):
		return &ValidationError{Fields: map[string]string{"choice_id": "Choice does not belong to the current question"}}
	case errors.Is(err, quizqueue.ErrUnknownQuestion):
		return &NotFoundError{Message: "Question is no longer part of this unit"}
	}
	return err
}

// Advance moves past the answered current question. Moving past the last
// one completes the session and runs the checkpoint decision.
func (s *LessonService) Advance(ctx context.Context, sessionID uuid.UUID) (*AdvanceResult, error) {
	session, err := s.ownSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted {
		return nil, ErrSessionFinished
	}

	q, err := s.loadQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	finished, err := q.Advance()
	if err != nil && !errors.Is(err, quizqueue.ErrFinished) {
		return nil, mapQueueError(err)
	}

	if !finished {
		if err := s.queues.SaveQueue(ctx, q); err != nil {
			return nil, fmt.Errorf("save queue: %w", err)
		}
		engine, err := s.engineFor(ctx, session.UnitID)
		if err != nil {
			return nil, err
		}
		return &AdvanceResult{State: stateOf(session, q, engine)}, nil
	}

	now := s.now().UTC()
	completed, err := s.lessons.CompleteSession(ctx, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !completed {
		return nil, ErrSessionFinished
	}
	if session, err = s.lessons.GetSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}

	if err := s.upsertQuizScore(ctx, session, q, session.DurationSeconds, now); err != nil {
		return nil, err
	}
	if err := s.queues.DeleteQueue(ctx, session.ID); err != nil {
		s.log.Warn("failed to drop finished queue", zap.String("session_id", session.ID.String()), zap.Error(err))
	}

	s.log.Info("lesson finished",
		zap.String("session_id", session.ID.String()),
		zap.String("student_id", session.StudentID.String()),
		zap.Int("cleared_topics", len(q.Cleared)),
		zap.Int("total_topics", q.TotalTopics),
		zap.Int("submissions", len(q.Items)))

	decision, err := s.checkpoint.HandleUnitCompletion(ctx, session.UnitID)
	if err != nil {
		return nil, err
	}
	return &AdvanceResult{State: stateOf(session, q, nil), Decision: decision}, nil
}

// SubmitTestResult records a graded paper or digital test. A test counts as
// a single topic, so a submitted result is one cleared topic out of one.
func (s *LessonService) SubmitTestResult(ctx context.Context, unitID uuid.UUID, score, durationSeconds int) (*Decision, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	unit, err := s.getUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	maxScore := s.defaultMaxScore
	if unit.MaxScore != nil {
		maxScore = *unit.MaxScore
	}
	fields := map[string]string{}
	if unit.Kind != models.UnitKindTest {
		fields["unit_id"] = "Unit is not a test"
	}
	if score < 0 || score > maxScore {
		fields["score"] = fmt.Sprintf("Must be between 0 and %d", maxScore)
	}
	if durationSeconds < 0 {
		fields["duration_seconds"] = "Must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	now := s.now().UTC()
	started := now.Add(-time.Duration(durationSeconds) * time.Second)
	session := &models.LessonSession{
		StudentID:       caller.UserID,
		UnitID:          unit.ID,
		StartedAt:       started,
		EndedAt:         &now,
		DurationSeconds: &durationSeconds,
		IsCompleted:     true,
	}
	if err := s.lessons.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.lessons.UpsertUnitScore(ctx, &models.UnitScore{
		StudentID:       caller.UserID,
		UnitID:          unit.ID,
		ClearedTopics:   1,
		TotalTopics:     1,
		ProgressRate:    models.ProgressRate(1, 1),
		RawScore:        &score,
		MaxScore:        &maxScore,
		DurationSeconds: &durationSeconds,
		UpdatedAt:       now,
	}); err != nil {
		return nil, fmt.Errorf("upsert unit score: %w", err)
	}
	notify(ctx, s.feed, s.log, models.ChangeEvent{
		Table:   models.TableUnitScores,
		Op:      models.OpUpdate,
		RowID:   unit.ID,
		OwnerID: caller.UserID,
	})

	s.log.Info("test result recorded",
		zap.String("student_id", caller.UserID.String()),
		zap.String("unit_id", unit.ID.String()),
		zap.Int("score", score),
		zap.Int("max_score", maxScore))

	return s.checkpoint.HandleUnitCompletion(ctx, unit.ID)
}

// CompleteUnit finishes units that have no quiz, such as plain videos.
func (s *LessonService) CompleteUnit(ctx context.Context, unitID uuid.UUID) (*Decision, error) {
	return s.checkpoint.HandleUnitCompletion(ctx, unitID)
}
