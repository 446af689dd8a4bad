package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

type authoringService interface {
	CreateTopic(ctx context.Context, unitID uuid.UUID, label string) (*models.QuizTopic, error)
	CreateQuestion(ctx context.Context, topicID uuid.UUID, body string, choices []models.ChoiceInput) (*models.Question, error)
	UpdateChoice(ctx context.Context, choiceID uuid.UUID, body string, isCorrect bool, explanation *string) (*models.Choice, error)
	DeleteChoice(ctx context.Context, choiceID uuid.UUID) error
}

type AuthoringHandler struct {
	authoring authoringService
}

func NewAuthoringHandler(authoring authoringService) *AuthoringHandler {
	return &AuthoringHandler{authoring: authoring}
}

func (h *AuthoringHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	unitID, ok := urlUUID(w, r, "id", "unit")
	if !ok {
		return
	}
	var req models.CreateTopicRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	topic, err := h.authoring.CreateTopic(r.Context(), unitID, req.Label)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (h *AuthoringHandler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	topicID, ok := urlUUID(w, r, "id", "topic")
	if !ok {
		return
	}
	var req models.CreateQuestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.authoring.CreateQuestion(r.Context(), topicID, req.Body, req.Choices)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *AuthoringHandler) UpdateChoice(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "choice")
	if !ok {
		return
	}
	var req models.UpdateChoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.authoring.UpdateChoice(r.Context(), id, req.Body, req.IsCorrect, req.Explanation)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *AuthoringHandler) DeleteChoice(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "choice")
	if !ok {
		return
	}

	if err := h.authoring.DeleteChoice(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
