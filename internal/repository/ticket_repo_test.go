package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

func TestBuildTicketCAS_Claim(t *testing.T) {
	id := uuid.New()
	instructor := uuid.New()
	now := time.Now()

	query, args := buildTicketCAS(id,
		models.TicketGuard{Status: models.TicketWaiting},
		models.TicketPatch{Status: models.TicketAssigned, InstructorID: &instructor, AssignedAt: &now},
	)

	want := "UPDATE support_tickets SET status = $3, instructor_id = $4, assigned_at = $5 WHERE id = $1 AND status = $2"
	if query != want {
		t.Errorf("unexpected query:\n got: %s\nwant: %s", query, want)
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	if args[1] != models.TicketWaiting || args[2] != models.TicketAssigned {
		t.Errorf("guard/patch status in wrong positions: %v", args)
	}
}

func TestBuildTicketCAS_CancelGuardsStudent(t *testing.T) {
	student := uuid.New()
	now := time.Now()

	query, args := buildTicketCAS(uuid.New(),
		models.TicketGuard{Status: models.TicketWaiting, StudentID: &student},
		models.TicketPatch{Status: models.TicketCancelled, CancelledAt: &now},
	)

	if !strings.HasSuffix(query, "WHERE id = $1 AND status = $2 AND student_id = $5") {
		t.Errorf("expected student guard as last placeholder, got %s", query)
	}
	if args[4] != student {
		t.Errorf("expected student id at $5, got %v", args[4])
	}
}
