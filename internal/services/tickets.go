package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-backend/internal/identity"
	"lms-backend/internal/metrics"
	"lms-backend/internal/models"
)

// TicketService owns the support ticket lifecycle and is the only writer of
// instructor status.
type TicketService struct {
	tickets     TicketStore
	instructors InstructorStore
	progress    ProgressStore
	feed        Publisher
	log         *zap.Logger
	now         func() time.Time
}

func NewTicketService(
	tickets TicketStore,
	instructors InstructorStore,
	progress ProgressStore,
	feed Publisher,
	log *zap.Logger,
) *TicketService {
	return &TicketService{
		tickets:     tickets,
		instructors: instructors,
		progress:    progress,
		feed:        feed,
		log:         log,
		now:         time.Now,
	}
}

func (s *TicketService) transition(name, outcome string) {
	metrics.TicketTransitions.WithLabelValues(name, outcome).Inc()
}

func (s *TicketService) getTicket(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	t, err := s.tickets.GetTicket(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Ticket not found"}
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *TicketService) getInstructor(ctx context.Context, id uuid.UUID) (*models.Instructor, error) {
	inst, err := s.instructors.GetInstructor(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, &NotFoundError{Message: "Instructor profile not found"}
		}
		return nil, fmt.Errorf("get instructor: %w", err)
	}
	return inst, nil
}

func (s *TicketService) notifyTicket(ctx context.Context, t *models.SupportTicket, op string) {
	notify(ctx, s.feed, s.log, models.ChangeEvent{
		Table:   models.TableSupportTickets,
		Op:      op,
		RowID:   t.ID,
		OwnerID: t.StudentID,
	})
}

func (s *TicketService) notifyInstructor(ctx context.Context, id uuid.UUID) {
	notify(ctx, s.feed, s.log, models.ChangeEvent{
		Table:   models.TableInstructors,
		Op:      models.OpUpdate,
		RowID:   id,
		OwnerID: id,
	})
}

// Create opens a waiting ticket for the caller. Every unit must be one of
// the caller's outstanding dialogue debts.
func (s *TicketService) Create(ctx context.Context, unitIDs []uuid.UUID) (*models.SupportTicket, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	unitIDs = dedupe(unitIDs)
	if len(unitIDs) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"unit_ids": "At least one unit is required"}}
	}

	pending, err := s.progress.ListPendingDialogues(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list pending dialogues: %w", err)
	}
	owed := make(map[uuid.UUID]bool, len(pending))
	for _, p := range pending {
		if p.IsCheckpoint {
			owed[p.UnitID] = true
		}
	}
	for _, id := range unitIDs {
		if !owed[id] {
			return nil, &ValidationError{Fields: map[string]string{
				"unit_ids": fmt.Sprintf("Unit %s has no outstanding dialogue", id),
			}}
		}
	}

	if _, err := s.tickets.GetActiveTicketForStudent(ctx, caller.UserID); err == nil {
		s.transition("create", "already_waiting")
		return nil, ErrAlreadyWaiting
	} else if !isNoRows(err) {
		return nil, fmt.Errorf("check active ticket: %w", err)
	}

	t := &models.SupportTicket{
		StudentID: caller.UserID,
		UnitIDs:   unitIDs,
		Status:    models.TicketWaiting,
		CreatedAt: s.now().UTC(),
	}
	if err := s.tickets.InsertTicket(ctx, t); err != nil {
		if isUniqueViolation(err) {
			s.transition("create", "already_waiting")
			return nil, ErrAlreadyWaiting
		}
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	s.log.Info("ticket created",
		zap.String("ticket_id", t.ID.String()),
		zap.String("student_id", caller.UserID.String()),
		zap.Int("units", len(unitIDs)))
	s.transition("create", "ok")
	s.notifyTicket(ctx, t, models.OpInsert)
	return t, nil
}

// Mine returns the caller's waiting or assigned ticket, or nil.
func (s *TicketService) Mine(ctx context.Context) (*models.SupportTicket, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.tickets.GetActiveTicketForStudent(ctx, caller.UserID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active ticket: %w", err)
	}
	return t, nil
}

// Get is the authoritative re-fetch after a change event. Students only see
// their own tickets.
func (s *TicketService) Get(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.getTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsInstructor() && t.StudentID != caller.UserID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	return t, nil
}

// List returns tickets in one status, oldest first.
func (s *TicketService) List(ctx context.Context, status models.TicketStatus) ([]*models.SupportTicket, error) {
	if _, err := instructorFrom(ctx); err != nil {
		return nil, err
	}
	switch status {
	case models.TicketWaiting, models.TicketAssigned, models.TicketCompleted, models.TicketCancelled:
	default:
		return nil, &ValidationError{Fields: map[string]string{"status": "Unknown ticket status"}}
	}

	list, err := s.tickets.ListTicketsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	if list == nil {
		list = []*models.SupportTicket{}
	}
	return list, nil
}

// Claim assigns a waiting ticket to the calling instructor. The instructor
// is reserved (idle -> busy) before the ticket swap and released again if
// the swap loses, so neither row can be double-booked.
func (s *TicketService) Claim(ctx context.Context, ticketID uuid.UUID) (*models.SupportTicket, error) {
	caller, err := instructorFrom(ctx)
	if err != nil {
		return nil, err
	}

	inst, err := s.getInstructor(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.InstructorIdle {
		s.transition("claim", "not_idle")
		return nil, ErrNotIdle
	}

	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TicketWaiting {
		s.transition("claim", "already_claimed")
		return nil, ErrAlreadyClaimed
	}

	reserved, err := s.instructors.CompareAndSwapInstructorStatus(ctx, inst.ID, models.InstructorIdle, models.InstructorBusy)
	if err != nil {
		return nil, fmt.Errorf("reserve instructor: %w", err)
	}
	if !reserved {
		s.transition("claim", "not_idle")
		return nil, ErrNotIdle
	}

	now := s.now().UTC()
	swapped, err := s.tickets.CompareAndSwapTicket(ctx, ticketID,
		models.TicketGuard{Status: models.TicketWaiting},
		models.TicketPatch{Status: models.TicketAssigned, InstructorID: &inst.ID, AssignedAt: &now},
	)
	if err != nil || !swapped {
		s.release(ctx, inst.ID)
		if err != nil {
			return nil, fmt.Errorf("claim ticket: %w", err)
		}
		s.log.Info("ticket claim lost race",
			zap.String("ticket_id", ticketID.String()),
			zap.String("instructor_id", inst.ID.String()),
			zap.String("outcome", "lost_race"))
		s.transition("claim", "lost_race")
		return nil, ErrAlreadyClaimed
	}

	s.log.Info("ticket claimed",
		zap.String("ticket_id", ticketID.String()),
		zap.String("instructor_id", inst.ID.String()),
		zap.String("student_id", t.StudentID.String()))
	s.transition("claim", "ok")
	s.notifyTicket(ctx, t, models.OpUpdate)
	s.notifyInstructor(ctx, inst.ID)

	claimed, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *TicketService) release(ctx context.Context, instructorID uuid.UUID) {
	if _, err := s.instructors.CompareAndSwapInstructorStatus(ctx, instructorID, models.InstructorBusy, models.InstructorIdle); err != nil {
		s.log.Error("failed to release instructor after lost claim",
			zap.String("instructor_id", instructorID.String()), zap.Error(err))
	}
}

// Complete resolves an assigned ticket: debts cleared, ticket completed,
// instructor idle.
func (s *TicketService) Complete(ctx context.Context, ticketID uuid.UUID, note *string) (*models.SupportTicket, error) {
	caller, err := instructorFrom(ctx)
	if err != nil {
		return nil, err
	}

	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := checkCompletable(t, caller); err != nil {
		s.transition("complete", conflictOutcome(err))
		return nil, err
	}

	ok, err := s.tickets.CompleteTicket(ctx, models.TicketCompletion{
		TicketID:       t.ID,
		StudentID:      t.StudentID,
		InstructorID:   caller.UserID,
		UnitIDs:        t.UnitIDs,
		EvaluationNote: note,
		CompletedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("complete ticket: %w", err)
	}
	if !ok {
		// Changed between read and write; report what it is now.
		current, err := s.getTicket(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		cerr := checkCompletable(current, caller)
		if cerr == nil {
			cerr = ErrNotAssigned
		}
		s.transition("complete", conflictOutcome(cerr))
		return nil, cerr
	}

	s.log.Info("ticket completed",
		zap.String("ticket_id", t.ID.String()),
		zap.String("instructor_id", caller.UserID.String()),
		zap.String("student_id", t.StudentID.String()),
		zap.Int("units_cleared", len(t.UnitIDs)))
	s.transition("complete", "ok")
	for _, unitID := range t.UnitIDs {
		notify(ctx, s.feed, s.log, models.ChangeEvent{
			Table:   models.TableStudentProgress,
			Op:      models.OpUpdate,
			RowID:   unitID,
			OwnerID: t.StudentID,
		})
	}
	s.notifyTicket(ctx, t, models.OpUpdate)
	s.notifyInstructor(ctx, caller.UserID)

	return s.getTicket(ctx, ticketID)
}

func checkCompletable(t *models.SupportTicket, caller identity.Caller) error {
	if t.Status != models.TicketAssigned {
		return ErrNotAssigned
	}
	if t.InstructorID == nil || *t.InstructorID != caller.UserID {
		return ErrWrongInstructor
	}
	return nil
}

func conflictOutcome(err error) string {
	if ce, ok := err.(*ConflictError); ok {
		return ce.Code
	}
	return "error"
}

// Cancel withdraws the caller's own waiting ticket.
func (s *TicketService) Cancel(ctx context.Context, ticketID uuid.UUID) (*models.SupportTicket, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	t, err := s.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.StudentID != caller.UserID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	if t.Status != models.TicketWaiting {
		s.transition("cancel", "not_waiting")
		return nil, ErrNotWaiting
	}

	now := s.now().UTC()
	ok, err := s.tickets.CompareAndSwapTicket(ctx, ticketID,
		models.TicketGuard{Status: models.TicketWaiting, StudentID: &caller.UserID},
		models.TicketPatch{Status: models.TicketCancelled, CancelledAt: &now},
	)
	if err != nil {
		return nil, fmt.Errorf("cancel ticket: %w", err)
	}
	if !ok {
		s.transition("cancel", "not_waiting")
		return nil, ErrNotWaiting
	}

	s.log.Info("ticket cancelled",
		zap.String("ticket_id", ticketID.String()),
		zap.String("student_id", caller.UserID.String()))
	s.transition("cancel", "ok")
	s.notifyTicket(ctx, t, models.OpUpdate)

	return s.getTicket(ctx, ticketID)
}

// SetAvailability lets instructors toggle idle/busy themselves while they
// hold no assigned ticket.
func (s *TicketService) SetAvailability(ctx context.Context, status models.InstructorStatus) (*models.Instructor, error) {
	caller, err := instructorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if status != models.InstructorIdle && status != models.InstructorBusy {
		return nil, &ValidationError{Fields: map[string]string{"status": "Must be idle or busy"}}
	}

	if _, err := s.getInstructor(ctx, caller.UserID); err != nil {
		return nil, err
	}

	assigned, err := s.tickets.HasAssignedTicket(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("check assigned ticket: %w", err)
	}
	if assigned {
		return nil, ErrAssignedTicket
	}

	if err := s.instructors.SetInstructorStatus(ctx, caller.UserID, status); err != nil {
		return nil, fmt.Errorf("set instructor status: %w", err)
	}

	s.log.Info("instructor availability changed",
		zap.String("instructor_id", caller.UserID.String()),
		zap.String("status", string(status)))
	s.notifyInstructor(ctx, caller.UserID)

	return s.getInstructor(ctx, caller.UserID)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
