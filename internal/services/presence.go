package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-backend/internal/models"
)

// InstructorBoard is what the instructor dashboard renders: who is around,
// and the same supply/demand numbers the checkpoint controller uses.
type InstructorBoard struct {
	Instructors  []models.InstructorPresence `json:"instructors"`
	SupplyDemand models.SupplyDemand         `json:"supply_demand"`
	Opportunity  bool                        `json:"opportunity"`
}

// PresenceService aggregates heartbeats into dashboard views. It never
// touches instructor or ticket state.
type PresenceService struct {
	presence     PresenceStore
	instructors  InstructorStore
	checkpoint   *CheckpointController
	feed         Publisher
	onlineWindow time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func NewPresenceService(
	presence PresenceStore,
	instructors InstructorStore,
	checkpoint *CheckpointController,
	feed Publisher,
	onlineWindow time.Duration,
	log *zap.Logger,
) *PresenceService {
	return &PresenceService{
		presence:     presence,
		instructors:  instructors,
		checkpoint:   checkpoint,
		feed:         feed,
		onlineWindow: onlineWindow,
		log:          log,
		now:          time.Now,
	}
}

func (s *PresenceService) Heartbeat(ctx context.Context, unitID *uuid.UUID, activity models.Activity) (*models.Presence, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	switch activity {
	case models.ActivityIdle, models.ActivityIntro, models.ActivityVideo, models.ActivityQuiz, models.ActivityOutro:
	default:
		return nil, &ValidationError{Fields: map[string]string{"activity": "Unknown activity"}}
	}

	now := s.now().UTC()
	p := &models.Presence{
		UserID:          caller.UserID,
		Role:            caller.Role,
		CurrentUnitID:   unitID,
		CurrentActivity: activity,
		LastSeenAt:      now,
	}
	if unitID != nil {
		p.CurrentUnitStartedAt = &now
	}
	if err := s.presence.UpsertPresence(ctx, p); err != nil {
		return nil, fmt.Errorf("upsert presence: %w", err)
	}

	notify(ctx, s.feed, s.log, models.ChangeEvent{
		Table:   models.TablePresence,
		Op:      models.OpUpdate,
		RowID:   caller.UserID,
		OwnerID: caller.UserID,
	})
	return p, nil
}

func (s *PresenceService) online(lastSeen time.Time, now time.Time) bool {
	return now.Sub(lastSeen) <= s.onlineWindow
}

// Students lists student presence with derived online state and time spent
// on the current unit.
func (s *PresenceService) Students(ctx context.Context) ([]models.StudentPresence, error) {
	if _, err := instructorFrom(ctx); err != nil {
		return nil, err
	}

	rows, err := s.presence.ListPresence(ctx, models.RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}

	now := s.now().UTC()
	out := make([]models.StudentPresence, 0, len(rows))
	for _, p := range rows {
		sp := models.StudentPresence{Presence: *p, Online: s.online(p.LastSeenAt, now)}
		if p.CurrentUnitStartedAt != nil && p.CurrentUnitID != nil {
			end := now
			if !sp.Online {
				end = p.LastSeenAt
			}
			if d := end.Sub(*p.CurrentUnitStartedAt); d > 0 {
				sp.SecondsOnUnit = int(d.Seconds())
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

func (s *PresenceService) Instructors(ctx context.Context) (*InstructorBoard, error) {
	if _, err := callerFrom(ctx); err != nil {
		return nil, err
	}

	instructors, err := s.instructors.ListInstructors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	seen, err := s.presence.ListPresence(ctx, models.RoleInstructor)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	lastSeen := make(map[uuid.UUID]time.Time, len(seen))
	for _, p := range seen {
		lastSeen[p.UserID] = p.LastSeenAt
	}

	sd, err := s.checkpoint.Opportunity(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	board := &InstructorBoard{
		Instructors:  make([]models.InstructorPresence, 0, len(instructors)),
		SupplyDemand: sd,
		Opportunity:  sd.HasOpportunity(),
	}
	for _, inst := range instructors {
		ip := models.InstructorPresence{Instructor: *inst}
		if ts, ok := lastSeen[inst.ID]; ok {
			ts := ts
			ip.LastSeenAt = &ts
			ip.Online = s.online(ts, now)
		}
		board.Instructors = append(board.Instructors, ip)
	}
	return board, nil
}

const presenceBroadcastDefault = 30 * time.Second

// PresenceBroadcaster periodically publishes a presence refresh so that
// dashboards re-derive online state even when nobody sends a heartbeat.
type PresenceBroadcaster struct {
	feed     Publisher
	interval time.Duration
	log      *zap.Logger
	stopChan chan struct{}
}

func NewPresenceBroadcaster(feed Publisher, interval time.Duration, log *zap.Logger) *PresenceBroadcaster {
	if interval <= 0 {
		interval = presenceBroadcastDefault
	}
	return &PresenceBroadcaster{
		feed:     feed,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (b *PresenceBroadcaster) Start() {
	if b.feed == nil {
		return
	}
	go b.loop()
	b.log.Info("presence broadcaster started", zap.Duration("interval", b.interval))
}

func (b *PresenceBroadcaster) Stop() {
	select {
	case <-b.stopChan:
		return
	default:
		close(b.stopChan)
	}
}

func (b *PresenceBroadcaster) loop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case now := <-ticker.C:
			b.tick(context.Background(), now)
		}
	}
}

func (b *PresenceBroadcaster) tick(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	notify(ctx, b.feed, b.log, models.ChangeEvent{
		Table: models.TablePresence,
		Op:    models.OpUpdate,
		At:    now.UTC(),
	})
}
