package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lms-backend/internal/metrics"
	"lms-backend/internal/models"
)

type DialogueAction string

const (
	ActionPromptDialogue DialogueAction = "prompt_dialogue"
	ActionProceedNext    DialogueAction = "proceed_next"
)

// Decision is the outcome of a unit completion. Pending lists are filled
// whenever debt exists, even when the student is not prompted.
type Decision struct {
	Action           DialogueAction       `json:"action"`
	PendingUnitIDs   []uuid.UUID          `json:"pending_unit_ids"`
	PendingUnitNames []string             `json:"pending_unit_names"`
	SupplyDemand     *models.SupplyDemand `json:"supply_demand,omitempty"`
}

func proceed() *Decision {
	return &Decision{
		Action:           ActionProceedNext,
		PendingUnitIDs:   []uuid.UUID{},
		PendingUnitNames: []string{},
	}
}

// CheckpointController decides at unit completion whether to offer the
// student a live dialogue.
type CheckpointController struct {
	content     ContentStore
	progress    ProgressStore
	tickets     TicketStore
	instructors InstructorStore
	feed        Publisher
	log         *zap.Logger
	now         func() time.Time
}

func NewCheckpointController(
	content ContentStore,
	progress ProgressStore,
	tickets TicketStore,
	instructors InstructorStore,
	feed Publisher,
	log *zap.Logger,
) *CheckpointController {
	return &CheckpointController{
		content:     content,
		progress:    progress,
		tickets:     tickets,
		instructors: instructors,
		feed:        feed,
		log:         log,
		now:         time.Now,
	}
}

func (c *CheckpointController) HandleUnitCompletion(ctx context.Context, unitID uuid.UUID) (*Decision, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	unit, err := c.content.GetUnit(ctx, unitID)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Unit not found"}
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}

	if !unit.IsDialogueCheckpoint {
		metrics.DialogueDecisions.WithLabelValues(string(ActionProceedNext)).Inc()
		return proceed(), nil
	}

	if err := c.progress.UpsertCompletedProgress(ctx, caller.UserID, unit.ID, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("record checkpoint completion: %w", err)
	}
	notify(ctx, c.feed, c.log, models.ChangeEvent{
		Table:   models.TableStudentProgress,
		Op:      models.OpUpdate,
		RowID:   unit.ID,
		OwnerID: caller.UserID,
	})

	pending, err := c.progress.ListPendingDialogues(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pending dialogues: %w", err)
	}

	decision := proceed()
	for _, p := range pending {
		if !p.IsCheckpoint {
			continue
		}
		decision.PendingUnitIDs = append(decision.PendingUnitIDs, p.UnitID)
		decision.PendingUnitNames = append(decision.PendingUnitNames, p.UnitName)
	}
	if len(decision.PendingUnitIDs) == 0 {
		metrics.DialogueDecisions.WithLabelValues(string(ActionProceedNext)).Inc()
		return decision, nil
	}

	sd, err := c.Opportunity(ctx)
	if err != nil {
		return nil, err
	}
	decision.SupplyDemand = &sd
	if sd.HasOpportunity() {
		decision.Action = ActionPromptDialogue
	}

	c.log.Info("checkpoint decision",
		zap.String("student_id", caller.UserID.String()),
		zap.String("unit_id", unit.ID.String()),
		zap.String("action", string(decision.Action)),
		zap.Int("pending", len(decision.PendingUnitIDs)),
		zap.Int("idle_instructors", sd.IdleInstructors),
		zap.Int("waiting_tickets", sd.WaitingTickets))
	metrics.DialogueDecisions.WithLabelValues(string(decision.Action)).Inc()

	return decision, nil
}

// Opportunity counts idle instructors and waiting tickets concurrently. The
// two reads are not a snapshot; the check is admission control, not a
// reservation.
func (c *CheckpointController) Opportunity(ctx context.Context) (models.SupplyDemand, error) {
	var sd models.SupplyDemand
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.instructors.CountInstructorsByStatus(gctx, models.InstructorIdle)
		if err != nil {
			return fmt.Errorf("count idle instructors: %w", err)
		}
		sd.IdleInstructors = n
		return nil
	})
	g.Go(func() error {
		n, err := c.tickets.CountTicketsByStatus(gctx, models.TicketWaiting)
		if err != nil {
			return fmt.Errorf("count waiting tickets: %w", err)
		}
		sd.WaitingTickets = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.SupplyDemand{}, err
	}
	return sd, nil
}
