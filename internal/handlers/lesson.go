package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lms-backend/internal/models"
	"lms-backend/internal/quizqueue"
	"lms-backend/internal/services"
)

type lessonService interface {
	Start(ctx context.Context, unitID uuid.UUID) (*services.LessonState, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*services.LessonState, error)
	SubmitAnswer(ctx context.Context, sessionID uuid.UUID, position int, choiceID uuid.UUID) (*quizqueue.Outcome, error)
	Advance(ctx context.Context, sessionID uuid.UUID) (*services.AdvanceResult, error)
	SubmitTestResult(ctx context.Context, unitID uuid.UUID, score, durationSeconds int) (*services.Decision, error)
	CompleteUnit(ctx context.Context, unitID uuid.UUID) (*services.Decision, error)
}

type LessonHandler struct {
	lessons lessonService
}

func NewLessonHandler(lessons lessonService) *LessonHandler {
	return &LessonHandler{lessons: lessons}
}

func (h *LessonHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartLessonRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	state, err := h.lessons.Start(r.Context(), req.UnitID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h *LessonHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "lesson")
	if !ok {
		return
	}

	state, err := h.lessons.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *LessonHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "lesson")
	if !ok {
		return
	}
	var req models.SubmitAnswerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.lessons.SubmitAnswer(r.Context(), id, req.Position, req.ChoiceID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LessonHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "id", "lesson")
	if !ok {
		return
	}

	res, err := h.lessons.Advance(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *LessonHandler) SubmitTestResult(w http.ResponseWriter, r *http.Request) {
	unitID, ok := urlUUID(w, r, "id", "unit")
	if !ok {
		return
	}
	var req models.TestResultRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, err := h.lessons.SubmitTestResult(r.Context(), unitID, req.Score, req.DurationSeconds)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": decision})
}

func (h *LessonHandler) CompleteUnit(w http.ResponseWriter, r *http.Request) {
	unitID, ok := urlUUID(w, r, "id", "unit")
	if !ok {
		return
	}

	decision, err := h.lessons.CompleteUnit(r.Context(), unitID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decision": decision})
}
