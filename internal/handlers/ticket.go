package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

type ticketService interface {
	Create(ctx context.Context, unitIDs []uuid.UUID) (*models.SupportTicket, error)
	Mine(ctx context.Context) (*models.SupportTicket, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	List(ctx context.Context, status models.TicketStatus) ([]*models.SupportTicket, error)
	Claim(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	Complete(ctx context.Context, id uuid.UUID, note *string) (*models.SupportTicket, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error)
	SetAvailability(ctx context.Context, status models.InstructorStatus) (*models.Instructor, error)
}

type TicketHandler struct {
	tickets ticketService
}

func NewTicketHandler(tickets ticketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tickets.Create(r.Context(), req.UnitIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// Mine answers 200 with {"ticket": null} when the student has nothing open.
func (h *TicketHandler) Mine(w http.ResponseWriter, r *http.Request) {
	t, err := h.tickets.Mine(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": t})
}

func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "ticket")
	if !ok {
		return
	}

	t, err := h.tickets.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.TicketStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.TicketWaiting
	}

	list, err := h.tickets.List(r.Context(), status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tickets": list})
}

func (h *TicketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "ticket")
	if !ok {
		return
	}

	t, err := h.tickets.Claim(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "ticket")
	if !ok {
		return
	}
	var req models.CompleteTicketRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tickets.Complete(r.Context(), id, req.EvaluationNote)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "ticket")
	if !ok {
		return
	}

	t, err := h.tickets.Cancel(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TicketHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.InstructorStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inst, err := h.tickets.SetAvailability(r.Context(), req.Status)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
