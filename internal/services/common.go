package services

import (
	"context"

	"go.uber.org/zap"

	"lms-backend/internal/identity"
	"lms-backend/internal/models"
)

func callerFrom(ctx context.Context) (identity.Caller, error) {
	c, ok := identity.FromContext(ctx)
	if !ok {
		return identity.Caller{}, errUnauthenticated()
	}
	return c, nil
}

func instructorFrom(ctx context.Context) (identity.Caller, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return c, err
	}
	if !c.IsInstructor() {
		return c, &ForbiddenError{Message: "Instructor role required"}
	}
	return c, nil
}

func adminFrom(ctx context.Context) (identity.Caller, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return c, err
	}
	if c.Role != models.RoleAdmin {
		return c, &ForbiddenError{Message: "Admin role required"}
	}
	return c, nil
}

// notify publishes an invalidation after a committed write. The write has
// already happened, so a feed failure is logged rather than returned;
// clients re-fetch on their next poll.
func notify(ctx context.Context, feed Publisher, log *zap.Logger, ev models.ChangeEvent) {
	if feed == nil {
		return
	}
	if err := feed.Publish(ctx, ev); err != nil {
		log.Error("change feed publish failed",
			zap.String("table", ev.Table),
			zap.String("row_id", ev.RowID.String()),
			zap.Error(err))
	}
}
