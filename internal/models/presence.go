package models

import (
	"time"

	"github.com/google/uuid"
)

type Activity string

const (
	ActivityIdle  Activity = "idle"
	ActivityIntro Activity = "intro"
	ActivityVideo Activity = "video"
	ActivityQuiz  Activity = "quiz"
	ActivityOutro Activity = "outro"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

type Presence struct {
	UserID               uuid.UUID  `json:"user_id"`
	Role                 Role       `json:"role"`
	CurrentUnitID        *uuid.UUID `json:"current_unit_id"`
	CurrentUnitName      *string    `json:"current_unit_name,omitempty"`
	CurrentActivity      Activity   `json:"current_activity"`
	CurrentUnitStartedAt *time.Time `json:"current_unit_started_at"`
	LastSeenAt           time.Time  `json:"last_seen_at"`
}

type StudentPresence struct {
	Presence
	Online        bool `json:"online"`
	SecondsOnUnit int  `json:"seconds_on_unit"`
}

type InstructorPresence struct {
	Instructor
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// SupplyDemand is the pair of numbers the opportunity check compares.
type SupplyDemand struct {
	IdleInstructors int `json:"idle_instructors"`
	WaitingTickets  int `json:"waiting_tickets"`
}

func (s SupplyDemand) HasOpportunity() bool {
	return s.IdleInstructors > s.WaitingTickets
}
