// Package identity carries the authenticated caller through a request
// context. Services read the caller from here and never trust ids supplied
// in request bodies.
package identity

import (
	"context"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

type Caller struct {
	UserID uuid.UUID
	Role   models.Role
}

func (c Caller) IsInstructor() bool {
	return c.Role == models.RoleInstructor || c.Role == models.RoleAdmin
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller and whether one was attached.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	if !ok || c.UserID == uuid.Nil {
		return Caller{}, false
	}
	return c, true
}
