package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lms-backend/internal/models"
	"lms-backend/internal/quizqueue"
)

// Persistence contracts. Absent rows are reported as pgx.ErrNoRows by every
// implementation.

type ContentStore interface {
	GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error)
	// ListTopicsWithQuestions returns the unit's topics in authored order,
	// each with its questions and their choices.
	ListTopicsWithQuestions(ctx context.Context, unitID uuid.UUID) ([]models.QuizTopic, error)
	CreateTopic(ctx context.Context, t *models.QuizTopic) error
	GetTopic(ctx context.Context, id uuid.UUID) (*models.QuizTopic, error)
	// CreateQuestion inserts the question and all of its choices together.
	CreateQuestion(ctx context.Context, q *models.Question) error
	// GetQuestionByChoice loads the question owning choiceID with every choice.
	GetQuestionByChoice(ctx context.Context, choiceID uuid.UUID) (*models.Question, error)
	// UpdateChoice and DeleteChoice refuse, by returning false, any write
	// that would leave the question without a correct choice.
	UpdateChoice(ctx context.Context, c *models.Choice) (bool, error)
	DeleteChoice(ctx context.Context, id uuid.UUID) (bool, error)
}

type LessonStore interface {
	CreateSession(ctx context.Context, s *models.LessonSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.LessonSession, error)
	// CompleteSession stamps end time and duration once; false means the
	// session was already completed.
	CompleteSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	InsertAttempt(ctx context.Context, a *models.QuizAttempt) error
	UpsertUnitScore(ctx context.Context, s *models.UnitScore) error
}

type QueueStore interface {
	SaveQueue(ctx context.Context, q *quizqueue.Queue) error
	// LoadQueue returns quizqueue.ErrStateNotFound when nothing is stored.
	LoadQueue(ctx context.Context, sessionID uuid.UUID) (*quizqueue.Queue, error)
	DeleteQueue(ctx context.Context, sessionID uuid.UUID) error
}

// ProgressStore deliberately has no way to clear a dialogue debt; that only
// happens inside TicketStore.CompleteTicket.
type ProgressStore interface {
	// UpsertCompletedProgress records a checkpoint completion. A new row
	// starts with dialogue_cleared=false; an existing row keeps its flag.
	UpsertCompletedProgress(ctx context.Context, studentID, unitID uuid.UUID, at time.Time) error
	ListPendingDialogues(ctx context.Context, studentID uuid.UUID) ([]models.PendingDialogue, error)
}

type TicketStore interface {
	// InsertTicket fails with a unique violation when the student already
	// holds a waiting or assigned ticket.
	InsertTicket(ctx context.Context, t *models.SupportTicket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	GetActiveTicketForStudent(ctx context.Context, studentID uuid.UUID) (*models.SupportTicket, error)
	ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]*models.SupportTicket, error)
	CountTicketsByStatus(ctx context.Context, status models.TicketStatus) (int, error)
	HasAssignedTicket(ctx context.Context, instructorID uuid.UUID) (bool, error)
	// CompareAndSwapTicket applies patch only if the row still matches
	// guard and reports whether it did.
	CompareAndSwapTicket(ctx context.Context, id uuid.UUID, guard models.TicketGuard, patch models.TicketPatch) (bool, error)
	// CompleteTicket clears the listed debts, completes the ticket (guarded
	// on assigned + instructor) and releases the instructor, in that order
	// and atomically. False means the guard did not match and nothing was
	// written.
	CompleteTicket(ctx context.Context, c models.TicketCompletion) (bool, error)
}

type InstructorStore interface {
	GetInstructor(ctx context.Context, id uuid.UUID) (*models.Instructor, error)
	ListInstructors(ctx context.Context) ([]*models.Instructor, error)
	CountInstructorsByStatus(ctx context.Context, status models.InstructorStatus) (int, error)
	SetInstructorStatus(ctx context.Context, id uuid.UUID, status models.InstructorStatus) error
	CompareAndSwapInstructorStatus(ctx context.Context, id uuid.UUID, from, to models.InstructorStatus) (bool, error)
}

type PresenceStore interface {
	// UpsertPresence keeps current_unit_started_at while the unit is
	// unchanged.
	UpsertPresence(ctx context.Context, p *models.Presence) error
	ListPresence(ctx context.Context, role models.Role) ([]*models.Presence, error)
}

// Publisher emits change-feed invalidation events.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}
