package services

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

// ConflictError is an expected outcome of concurrent use. Code is stable
// and meant for clients; Message is for humans.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Is matches any ConflictError with the same code, so callers can write
// errors.Is(err, services.ErrAlreadyClaimed).
func (e *ConflictError) Is(target error) bool {
	t, ok := target.(*ConflictError)
	return ok && t.Code == e.Code
}

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

const (
	CodeAlreadyWaiting    = "ALREADY_WAITING"
	CodeAlreadyClaimed    = "ALREADY_CLAIMED"
	CodeNotIdle           = "NOT_IDLE"
	CodeNotAssigned       = "NOT_ASSIGNED"
	CodeWrongInstructor   = "WRONG_INSTRUCTOR"
	CodeNotWaiting        = "NOT_WAITING"
	CodeAssignedTicket    = "ASSIGNED_TICKET"
	CodeOutOfOrder        = "OUT_OF_ORDER"
	CodeAlreadyAnswered   = "ALREADY_ANSWERED"
	CodeNotAnswered       = "NOT_ANSWERED"
	CodeSessionFinished   = "SESSION_FINISHED"
	CodeLastCorrectChoice = "LAST_CORRECT_CHOICE"
)

var (
	ErrAlreadyWaiting    = &ConflictError{Code: CodeAlreadyWaiting, Message: "You already have an open dialogue request"}
	ErrAlreadyClaimed    = &ConflictError{Code: CodeAlreadyClaimed, Message: "This request was already taken by another instructor"}
	ErrNotIdle           = &ConflictError{Code: CodeNotIdle, Message: "Instructor is not idle"}
	ErrNotAssigned       = &ConflictError{Code: CodeNotAssigned, Message: "Ticket is not assigned"}
	ErrWrongInstructor   = &ConflictError{Code: CodeWrongInstructor, Message: "Ticket is assigned to another instructor"}
	ErrNotWaiting        = &ConflictError{Code: CodeNotWaiting, Message: "Only waiting tickets can be cancelled"}
	ErrAssignedTicket    = &ConflictError{Code: CodeAssignedTicket, Message: "Finish the assigned dialogue before changing status"}
	ErrOutOfOrder        = &ConflictError{Code: CodeOutOfOrder, Message: "Answer does not match the current question"}
	ErrAlreadyAnswered   = &ConflictError{Code: CodeAlreadyAnswered, Message: "Question was already answered"}
	ErrNotAnswered       = &ConflictError{Code: CodeNotAnswered, Message: "Answer the current question first"}
	ErrSessionFinished   = &ConflictError{Code: CodeSessionFinished, Message: "Lesson session is already finished"}
	ErrLastCorrectChoice = &ConflictError{Code: CodeLastCorrectChoice, Message: "A question must keep at least one correct choice"}
)

func errUnauthenticated() error {
	return &UnauthorizedError{Message: "Authentication required"}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isUniqueViolation reports a Postgres 23505, which the in-memory store
// also returns so both backends map the same way.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
