package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lms-backend/internal/models"
	"lms-backend/internal/services"
)

type presenceService interface {
	Heartbeat(ctx context.Context, unitID *uuid.UUID, activity models.Activity) (*models.Presence, error)
	Students(ctx context.Context) ([]models.StudentPresence, error)
	Instructors(ctx context.Context) (*services.InstructorBoard, error)
}

type PresenceHandler struct {
	presence presenceService
}

func NewPresenceHandler(presence presenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.presence.Heartbeat(r.Context(), req.UnitID, req.Activity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PresenceHandler) Students(w http.ResponseWriter, r *http.Request) {
	list, err := h.presence.Students(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"students": list})
}

func (h *PresenceHandler) Instructors(w http.ResponseWriter, r *http.Request) {
	board, err := h.presence.Instructors(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}
