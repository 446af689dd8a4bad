package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-backend/internal/models"
)

func TestCreateTicket_SingleActivePerStudent(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	student := uuid.New()
	f.owe(t, student, unit)

	ticket, err := f.tickets.Create(asStudent(student), []uuid.UUID{unit.ID})
	require.NoError(t, err)
	assert.Equal(t, models.TicketWaiting, ticket.Status)
	assert.Nil(t, ticket.InstructorID)

	_, err = f.tickets.Create(asStudent(student), []uuid.UUID{unit.ID})
	assert.ErrorIs(t, err, ErrAlreadyWaiting)

	mine, err := f.tickets.Mine(asStudent(student))
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, ticket.ID, mine.ID)
}

func TestCreateTicket_ConcurrentRequestsYieldOneTicket(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	student := uuid.New()
	f.owe(t, student, unit)

	const n = 20
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.tickets.Create(asStudent(student), []uuid.UUID{unit.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyWaiting):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.store.TicketsForStudent(student), 1)
}

func TestCreateTicket_RequiresOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	owed := f.checkpointUnit("Fractions")
	notOwed := f.checkpointUnit("Decimals")
	student := uuid.New()
	f.owe(t, student, owed)

	_, err := f.tickets.Create(asStudent(student), []uuid.UUID{owed.ID, notOwed.ID})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "unit_ids")

	_, err = f.tickets.Create(asStudent(student), nil)
	require.ErrorAs(t, err, &ve)
}

// Two instructors race for one waiting ticket.
func TestClaimTicket_ExactlyOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		f := newFixture(t)
		unit := f.checkpointUnit("Fractions")
		ticket, _ := f.waitingTicket(t, unit)
		insts := f.idleInstructors(2)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i := range insts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = f.tickets.Claim(asInstructor(insts[i].ID), ticket.ID)
			}(i)
		}
		close(start)
		wg.Wait()

		winner := -1
		for i, err := range errs {
			if err == nil {
				require.Equal(t, -1, winner, "round %d: two claims succeeded", round)
				winner = i
				continue
			}
			require.ErrorIs(t, err, ErrAlreadyClaimed, "round %d", round)
		}
		require.NotEqual(t, -1, winner, "round %d: nobody won", round)
		loser := 1 - winner

		got, err := f.store.GetTicket(asInstructor(insts[winner].ID), ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TicketAssigned, got.Status)
		require.NotNil(t, got.InstructorID)
		assert.Equal(t, insts[winner].ID, *got.InstructorID)
		assert.Equal(t, insts[winner].RoomName, got.RoomName)

		w, _ := f.store.GetInstructor(asInstructor(insts[winner].ID), insts[winner].ID)
		l, _ := f.store.GetInstructor(asInstructor(insts[loser].ID), insts[loser].ID)
		assert.Equal(t, models.InstructorBusy, w.Status)
		assert.Equal(t, models.InstructorIdle, l.Status, "loser must be released")
	}
}

func TestClaimTicket_Preconditions(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	ticket, student := f.waitingTicket(t, unit)
	inst := f.idleInstructors(1)[0]
	busy := f.store.AddInstructor(models.Instructor{RoomName: "busy", Status: models.InstructorBusy})

	_, err := f.tickets.Claim(asInstructor(busy.ID), ticket.ID)
	assert.ErrorIs(t, err, ErrNotIdle)

	_, err = f.tickets.Claim(asInstructor(inst.ID), uuid.New())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.tickets.Claim(asStudent(student), ticket.ID)
	var fe *ForbiddenError
	assert.ErrorAs(t, err, &fe)

	_, err = f.tickets.Claim(asInstructor(uuid.New()), ticket.ID)
	assert.ErrorAs(t, err, &nf, "instructor without a profile row")

	claimed, err := f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "room-a", claimed.RoomName)
	require.NotNil(t, claimed.AssignedAt)

	other := f.idleInstructors(1)[0]
	_, err = f.tickets.Claim(asInstructor(other.ID), ticket.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// holding an assigned ticket leaves the instructor busy
	second, _ := f.waitingTicket(t, unit)
	_, err = f.tickets.Claim(asInstructor(inst.ID), second.ID)
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestCompleteTicket_ClearsOnlyTicketDebts(t *testing.T) {
	f := newFixture(t)
	u1 := f.checkpointUnit("Fractions")
	u2 := f.checkpointUnit("Decimals")
	u3 := f.checkpointUnit("Ratios")
	student := uuid.New()
	f.owe(t, student, u1, u2, u3)
	inst := f.idleInstructors(1)[0]

	ticket, err := f.tickets.Create(asStudent(student), []uuid.UUID{u1.ID, u2.ID})
	require.NoError(t, err)
	_, err = f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	require.NoError(t, err)

	for _, u := range []models.Unit{u1, u2, u3} {
		p, _ := f.store.Progress(student, u.ID)
		assert.False(t, p.DialogueCleared, "claim must not clear debt")
	}

	note := "Explained fractions clearly"
	done, err := f.tickets.Complete(asInstructor(inst.ID), ticket.ID, &note)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCompleted, done.Status)
	require.NotNil(t, done.EvaluationNote)
	assert.Equal(t, note, *done.EvaluationNote)
	assert.NotNil(t, done.CompletedAt)

	p1, _ := f.store.Progress(student, u1.ID)
	p2, _ := f.store.Progress(student, u2.ID)
	p3, _ := f.store.Progress(student, u3.ID)
	assert.True(t, p1.DialogueCleared)
	assert.True(t, p2.DialogueCleared)
	assert.False(t, p3.DialogueCleared, "units outside the ticket keep their debt")

	i, _ := f.store.GetInstructor(asInstructor(inst.ID), inst.ID)
	assert.Equal(t, models.InstructorIdle, i.Status)

	mine, err := f.tickets.Mine(asStudent(student))
	require.NoError(t, err)
	assert.Nil(t, mine)

	_, err = f.tickets.Complete(asInstructor(inst.ID), ticket.ID, nil)
	assert.ErrorIs(t, err, ErrNotAssigned, "completed is terminal")
}

func TestCompleteTicket_Guards(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	ticket, student := f.waitingTicket(t, unit)
	insts := f.idleInstructors(2)

	_, err := f.tickets.Complete(asInstructor(insts[0].ID), ticket.ID, nil)
	assert.ErrorIs(t, err, ErrNotAssigned)

	_, err = f.tickets.Claim(asInstructor(insts[0].ID), ticket.ID)
	require.NoError(t, err)

	_, err = f.tickets.Complete(asInstructor(insts[1].ID), ticket.ID, nil)
	assert.ErrorIs(t, err, ErrWrongInstructor)

	p, _ := f.store.Progress(student, unit.ID)
	assert.False(t, p.DialogueCleared)
}

func TestCancelTicket(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	ticket, student := f.waitingTicket(t, unit)

	_, err := f.tickets.Cancel(asStudent(uuid.New()), ticket.ID)
	var fe *ForbiddenError
	assert.ErrorAs(t, err, &fe)

	cancelled, err := f.tickets.Cancel(asStudent(student), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.tickets.Cancel(asStudent(student), ticket.ID)
	assert.ErrorIs(t, err, ErrNotWaiting)

	inst := f.idleInstructors(1)[0]
	_, err = f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	assert.ErrorIs(t, err, ErrAlreadyClaimed, "cancelled is terminal")

	// debt survives cancellation, so the student may ask again
	again, err := f.tickets.Create(asStudent(student), []uuid.UUID{unit.ID})
	require.NoError(t, err)
	assert.NotEqual(t, ticket.ID, again.ID)
}

func TestCancelTicket_AssignedCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	ticket, student := f.waitingTicket(t, unit)
	inst := f.idleInstructors(1)[0]
	_, err := f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	require.NoError(t, err)

	_, err = f.tickets.Cancel(asStudent(student), ticket.ID)
	assert.ErrorIs(t, err, ErrNotWaiting)
}

func TestGetTicket_Visibility(t *testing.T) {
	f := newFixture(t)
	ticket, student := f.waitingTicket(t, f.checkpointUnit("Fractions"))
	inst := f.idleInstructors(1)[0]

	_, err := f.tickets.Get(asStudent(student), ticket.ID)
	assert.NoError(t, err)
	_, err = f.tickets.Get(asInstructor(inst.ID), ticket.ID)
	assert.NoError(t, err)

	_, err = f.tickets.Get(asStudent(uuid.New()), ticket.ID)
	var fe *ForbiddenError
	assert.ErrorAs(t, err, &fe)
}

func TestListTickets_OldestFirst(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	first, _ := f.waitingTicket(t, unit)
	second, _ := f.waitingTicket(t, unit)
	inst := f.idleInstructors(1)[0]

	list, err := f.tickets.List(asInstructor(inst.ID), models.TicketWaiting)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	_, err = f.tickets.List(asInstructor(inst.ID), "archived")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = f.tickets.List(asStudent(uuid.New()), models.TicketWaiting)
	var fe *ForbiddenError
	assert.ErrorAs(t, err, &fe)
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	inst := f.idleInstructors(1)[0]

	got, err := f.tickets.SetAvailability(asInstructor(inst.ID), models.InstructorBusy)
	require.NoError(t, err)
	assert.Equal(t, models.InstructorBusy, got.Status)

	got, err = f.tickets.SetAvailability(asInstructor(inst.ID), models.InstructorIdle)
	require.NoError(t, err)
	assert.Equal(t, models.InstructorIdle, got.Status)

	ticket, _ := f.waitingTicket(t, f.checkpointUnit("Fractions"))
	_, err = f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	require.NoError(t, err)

	_, err = f.tickets.SetAvailability(asInstructor(inst.ID), models.InstructorIdle)
	assert.ErrorIs(t, err, ErrAssignedTicket)
}

func TestTicketLifecycle_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	ticket, student := f.waitingTicket(t, unit)
	inst := f.idleInstructors(1)[0]

	_, err := f.tickets.Claim(asInstructor(inst.ID), ticket.ID)
	require.NoError(t, err)
	_, err = f.tickets.Complete(asInstructor(inst.ID), ticket.ID, nil)
	require.NoError(t, err)

	events := f.feed.Events(models.TableSupportTickets)
	require.Len(t, events, 3)
	assert.Equal(t, models.OpInsert, events[0].Op)
	for _, ev := range events {
		assert.Equal(t, ticket.ID, ev.RowID)
		assert.Equal(t, student, ev.OwnerID)
	}
	assert.Len(t, f.feed.Events(models.TableInstructors), 2)
}
