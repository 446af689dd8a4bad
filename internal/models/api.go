package models

import (
	"time"

	"github.com/google/uuid"
)

// Change feed event. Consumers treat it as an invalidation signal and
// re-fetch; the payload is never authoritative.
type ChangeEvent struct {
	Table   string    `json:"table"`
	Op      string    `json:"op"` // "insert" | "update"
	RowID   uuid.UUID `json:"row_id"`
	OwnerID uuid.UUID `json:"owner_id,omitempty"`
	At      time.Time `json:"at"`
}

const (
	TableSupportTickets  = "support_tickets"
	TableInstructors     = "instructors"
	TableStudentProgress = "student_progress"
	TableUnitScores      = "unit_scores"
	TablePresence        = "presence"

	OpInsert = "insert"
	OpUpdate = "update"
)

// Requests

type StartLessonRequest struct {
	UnitID uuid.UUID `json:"unit_id" validate:"required"`
}

type SubmitAnswerRequest struct {
	Position int       `json:"position" validate:"gte=0"`
	ChoiceID uuid.UUID `json:"choice_id" validate:"required"`
}

type TestResultRequest struct {
	Score           int `json:"score" validate:"gte=0"`
	DurationSeconds int `json:"duration_seconds" validate:"gte=0"`
}

type CreateTicketRequest struct {
	UnitIDs []uuid.UUID `json:"unit_ids" validate:"required,min=1,dive,required"`
}

type CompleteTicketRequest struct {
	EvaluationNote *string `json:"evaluation_note" validate:"omitempty,max=4000"`
}

type InstructorStatusRequest struct {
	Status InstructorStatus `json:"status" validate:"required,oneof=idle busy"`
}

type HeartbeatRequest struct {
	UnitID   *uuid.UUID `json:"unit_id"`
	Activity Activity   `json:"activity" validate:"required,oneof=idle intro video quiz outro"`
}

type CreateTopicRequest struct {
	Label string `json:"label" validate:"required,max=200"`
}

type ChoiceInput struct {
	Body        string  `json:"body" validate:"required"`
	IsCorrect   bool    `json:"is_correct"`
	Explanation *string `json:"explanation"`
}

type CreateQuestionRequest struct {
	Body    string        `json:"body" validate:"required"`
	Choices []ChoiceInput `json:"choices" validate:"required,min=1,dive"`
}

type UpdateChoiceRequest struct {
	Body        string  `json:"body" validate:"required"`
	IsCorrect   bool    `json:"is_correct"`
	Explanation *string `json:"explanation"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
