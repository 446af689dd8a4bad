package models

import (
	"time"

	"github.com/google/uuid"
)

type InstructorStatus string

const (
	InstructorIdle InstructorStatus = "idle"
	InstructorBusy InstructorStatus = "busy"
)

type Instructor struct {
	ID        uuid.UUID        `json:"id"`
	RoomName  string           `json:"room_name"`
	Status    InstructorStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type TicketStatus string

const (
	TicketWaiting   TicketStatus = "waiting"
	TicketAssigned  TicketStatus = "assigned"
	TicketCompleted TicketStatus = "completed"
	TicketCancelled TicketStatus = "cancelled"
)

// IsActive reports whether the status counts toward the one-active-ticket rule.
func (s TicketStatus) IsActive() bool {
	return s == TicketWaiting || s == TicketAssigned
}

func (s TicketStatus) IsTerminal() bool {
	return s == TicketCompleted || s == TicketCancelled
}

type SupportTicket struct {
	ID             uuid.UUID    `json:"id"`
	StudentID      uuid.UUID    `json:"student_id"`
	InstructorID   *uuid.UUID   `json:"instructor_id"`
	UnitIDs        []uuid.UUID  `json:"unit_ids"`
	Status         TicketStatus `json:"status"`
	EvaluationNote *string      `json:"evaluation_note,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	AssignedAt     *time.Time   `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`

	// Joined for display, not stored on the ticket row.
	RoomName string `json:"room_name,omitempty"`
}

// TicketGuard is the WHERE side of a conditional ticket update. Status is
// always checked; the optional ids narrow it further.
type TicketGuard struct {
	Status       TicketStatus
	StudentID    *uuid.UUID
	InstructorID *uuid.UUID
}

// TicketPatch is the SET side of a conditional ticket update.
type TicketPatch struct {
	Status         TicketStatus
	InstructorID   *uuid.UUID
	AssignedAt     *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	EvaluationNote *string
}

// TicketCompletion describes the three writes that resolve an assigned ticket.
type TicketCompletion struct {
	TicketID       uuid.UUID
	StudentID      uuid.UUID
	InstructorID   uuid.UUID
	UnitIDs        []uuid.UUID
	EvaluationNote *string
	CompletedAt    time.Time
}
