// Package changefeed delivers per-table insert/update notifications.
// Events are invalidation signals: subscribers re-fetch authoritative state
// and must tolerate duplicates.
package changefeed

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

type Feed interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
	// Subscribe streams events for one table until ctx is cancelled, then
	// closes the channel.
	Subscribe(ctx context.Context, table string) (<-chan models.ChangeEvent, error)
}

// Filter narrows a table subscription. A zero RowID or OwnerID matches
// anything.
type Filter struct {
	Table   string
	RowID   uuid.UUID
	OwnerID uuid.UUID
}

func (f Filter) Match(ev models.ChangeEvent) bool {
	if ev.Table != f.Table {
		return false
	}
	if f.RowID != uuid.Nil && ev.RowID != f.RowID {
		return false
	}
	if f.OwnerID != uuid.Nil && ev.OwnerID != f.OwnerID {
		return false
	}
	return true
}

var knownTables = map[string]bool{
	models.TableSupportTickets:  true,
	models.TableInstructors:     true,
	models.TableStudentProgress: true,
	models.TableUnitScores:      true,
	models.TablePresence:        true,
}

func KnownTable(table string) bool {
	return knownTables[table]
}

func stamp(ev models.ChangeEvent) models.ChangeEvent {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}
