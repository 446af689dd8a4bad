package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-backend/internal/changefeed"
	"lms-backend/internal/identity"
	"lms-backend/internal/models"
	"lms-backend/internal/quizqueue"
	"lms-backend/internal/repository/inmem"
)

type fixture struct {
	store      *inmem.Store
	feed       *changefeed.Recorder
	checkpoint *CheckpointController
	tickets    *TicketService
	lessons    *LessonService
	presence   *PresenceService
	authoring  *AuthoringService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := inmem.New()
	feed := &changefeed.Recorder{}
	log := zap.NewNop()

	checkpoint := NewCheckpointController(store, store, store, store, feed, log)
	lessons := NewLessonService(store, store, store, checkpoint, feed, quizqueue.DefaultPolicy(), 100, log)
	seed := int64(1)
	lessons.newRand = func() *rand.Rand {
		seed++
		return rand.New(rand.NewSource(seed))
	}

	return &fixture{
		store:      store,
		feed:       feed,
		checkpoint: checkpoint,
		tickets:    NewTicketService(store, store, store, feed, log),
		lessons:    lessons,
		presence:   NewPresenceService(store, store, checkpoint, feed, presenceWindowForTests, log),
		authoring:  NewAuthoringService(store, log),
	}
}

const presenceWindowForTests = 2 * time.Minute

func as(id uuid.UUID, role models.Role) context.Context {
	return identity.WithCaller(context.Background(), identity.Caller{UserID: id, Role: role})
}

func asStudent(id uuid.UUID) context.Context    { return as(id, models.RoleStudent) }
func asInstructor(id uuid.UUID) context.Context { return as(id, models.RoleInstructor) }
func asAdmin(id uuid.UUID) context.Context      { return as(id, models.RoleAdmin) }

func (f *fixture) checkpointUnit(name string) models.Unit {
	return f.store.AddUnit(models.Unit{Name: name, IsDialogueCheckpoint: true})
}

// owe gives the student an outstanding dialogue debt for each unit.
func (f *fixture) owe(t *testing.T, student uuid.UUID, units ...models.Unit) {
	t.Helper()
	for _, u := range units {
		if _, err := f.checkpoint.HandleUnitCompletion(asStudent(student), u.ID); err != nil {
			t.Fatalf("complete unit %s: %v", u.Name, err)
		}
	}
}

func (f *fixture) idleInstructors(n int) []models.Instructor {
	out := make([]models.Instructor, n)
	for i := range out {
		out[i] = f.store.AddInstructor(models.Instructor{RoomName: "room-" + string(rune('a'+i)), Status: models.InstructorIdle})
	}
	return out
}

// waitingTicket creates a waiting ticket for a fresh student owing unit.
func (f *fixture) waitingTicket(t *testing.T, unit models.Unit) (*models.SupportTicket, uuid.UUID) {
	t.Helper()
	student := uuid.New()
	f.owe(t, student, unit)
	ticket, err := f.tickets.Create(asStudent(student), []uuid.UUID{unit.ID})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket, student
}
