package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-backend/internal/models"
)

func TestHandleUnitCompletion_NonCheckpointProceeds(t *testing.T) {
	f := newFixture(t)
	unit := f.store.AddUnit(models.Unit{Name: "Intro video"})
	f.idleInstructors(3)
	student := uuid.New()

	d, err := f.checkpoint.HandleUnitCompletion(asStudent(student), unit.ID)
	require.NoError(t, err)

	assert.Equal(t, ActionProceedNext, d.Action)
	assert.Empty(t, d.PendingUnitIDs)
	assert.Empty(t, d.PendingUnitNames)
	_, exists := f.store.Progress(student, unit.ID)
	assert.False(t, exists, "non-checkpoint units never create progress rows")
}

// Two debts, three idle instructors, one waiting ticket elsewhere.
func TestHandleUnitCompletion_PromptsWhenSupplyExceedsDemand(t *testing.T) {
	f := newFixture(t)
	u1 := f.checkpointUnit("Fractions")
	u2 := f.checkpointUnit("Decimals")
	other := f.checkpointUnit("Ratios")
	f.idleInstructors(3)
	f.waitingTicket(t, other)

	student := uuid.New()
	f.owe(t, student, u1)
	d, err := f.checkpoint.HandleUnitCompletion(asStudent(student), u2.ID)
	require.NoError(t, err)

	assert.Equal(t, ActionPromptDialogue, d.Action)
	assert.ElementsMatch(t, []uuid.UUID{u1.ID, u2.ID}, d.PendingUnitIDs)
	assert.ElementsMatch(t, []string{"Fractions", "Decimals"}, d.PendingUnitNames)
	require.NotNil(t, d.SupplyDemand)
	assert.Equal(t, models.SupplyDemand{IdleInstructors: 3, WaitingTickets: 1}, *d.SupplyDemand)
}

// Same debts with nobody idle: proceed and keep the debt.
func TestHandleUnitCompletion_PreservesDebtWithoutSupply(t *testing.T) {
	f := newFixture(t)
	u1 := f.checkpointUnit("Fractions")
	u2 := f.checkpointUnit("Decimals")
	student := uuid.New()

	f.owe(t, student, u1)
	d, err := f.checkpoint.HandleUnitCompletion(asStudent(student), u2.ID)
	require.NoError(t, err)

	assert.Equal(t, ActionProceedNext, d.Action)
	assert.Len(t, d.PendingUnitIDs, 2)
	for _, u := range []models.Unit{u1, u2} {
		p, ok := f.store.Progress(student, u.ID)
		require.True(t, ok)
		assert.False(t, p.DialogueCleared)
	}
}

func TestHandleUnitCompletion_TieIsNoOpportunity(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	f.idleInstructors(1)
	f.waitingTicket(t, f.checkpointUnit("Other"))

	d, err := f.checkpoint.HandleUnitCompletion(asStudent(uuid.New()), unit.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionProceedNext, d.Action)
}

func TestHandleUnitCompletion_IdempotentDebt(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	student := uuid.New()

	f.owe(t, student, unit, unit, unit)

	pending, err := f.store.ListPendingDialogues(asStudent(student), student)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHandleUnitCompletion_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.checkpoint.HandleUnitCompletion(asStudent(uuid.New()), uuid.New())
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.checkpoint.HandleUnitCompletion(context.Background(), uuid.New())
	var ue *UnauthorizedError
	assert.ErrorAs(t, err, &ue)
}

func TestHandleUnitCompletion_PublishesProgressEvent(t *testing.T) {
	f := newFixture(t)
	unit := f.checkpointUnit("Fractions")
	student := uuid.New()

	f.owe(t, student, unit)

	events := f.feed.Events(models.TableStudentProgress)
	require.Len(t, events, 1)
	assert.Equal(t, student, events[0].OwnerID)
	assert.Equal(t, unit.ID, events[0].RowID)
}
