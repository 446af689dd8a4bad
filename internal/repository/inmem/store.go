// Package inmem is a mutex-guarded, in-process implementation of every
// persistence contract the services depend on. It mirrors the Postgres
// repositories closely enough for service tests and local runs: absent rows
// are pgx.ErrNoRows, the one-active-ticket index surfaces as a 23505 error,
// and conditional updates are checked and applied under one lock.
package inmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lms-backend/internal/models"
	"lms-backend/internal/quizqueue"
)

type progressKey struct {
	student uuid.UUID
	unit    uuid.UUID
}

type Store struct {
	mu sync.Mutex

	units       map[uuid.UUID]models.Unit
	topics      map[uuid.UUID]models.QuizTopic
	questions   map[uuid.UUID]models.Question
	choices     map[uuid.UUID]models.Choice
	sessions    map[uuid.UUID]models.LessonSession
	attempts    []models.QuizAttempt
	scores      map[progressKey]models.UnitScore
	progress    map[progressKey]models.StudentProgress
	instructors map[uuid.UUID]models.Instructor
	tickets     map[uuid.UUID]models.SupportTicket
	presence    map[uuid.UUID]models.Presence
	queues      map[uuid.UUID][]byte

	seq int
}

func New() *Store {
	return &Store{
		units:       make(map[uuid.UUID]models.Unit),
		topics:      make(map[uuid.UUID]models.QuizTopic),
		questions:   make(map[uuid.UUID]models.Question),
		choices:     make(map[uuid.UUID]models.Choice),
		sessions:    make(map[uuid.UUID]models.LessonSession),
		scores:      make(map[progressKey]models.UnitScore),
		progress:    make(map[progressKey]models.StudentProgress),
		instructors: make(map[uuid.UUID]models.Instructor),
		tickets:     make(map[uuid.UUID]models.SupportTicket),
		presence:    make(map[uuid.UUID]models.Presence),
		queues:      make(map[uuid.UUID][]byte),
	}
}

// next gives rows a stable insertion order, standing in for created_at
// ordering when timestamps collide.
func (s *Store) next() int {
	s.seq++
	return s.seq
}

// Seeding

func (s *Store) AddUnit(u models.Unit) models.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Kind == "" {
		u.Kind = models.UnitKindVideo
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.units[u.ID] = u
	return u
}

// AddTopic stores the topic with its questions and choices, assigning ids
// where missing, and returns the stored tree.
func (s *Store) AddTopic(t models.QuizTopic) models.QuizTopic {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.SortOrder = s.next()
	for i := range t.Questions {
		q := &t.Questions[i]
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.TopicID = t.ID
		s.putQuestionLocked(q)
	}
	stored := t
	stored.Questions = nil
	s.topics[t.ID] = stored
	return t
}

func (s *Store) AddInstructor(i models.Instructor) models.Instructor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Status == "" {
		i.Status = models.InstructorIdle
	}
	now := time.Now()
	i.CreatedAt, i.UpdatedAt = now, now
	s.instructors[i.ID] = i
	return i
}

// Inspection helpers for tests.

func (s *Store) Progress(studentID, unitID uuid.UUID) (models.StudentProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[progressKey{studentID, unitID}]
	return p, ok
}

func (s *Store) UnitScore(studentID, unitID uuid.UUID) (models.UnitScore, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[progressKey{studentID, unitID}]
	return sc, ok
}

func (s *Store) Attempts(sessionID uuid.UUID) []models.QuizAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QuizAttempt
	for _, a := range s.attempts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) TicketsForStudent(studentID uuid.UUID) []models.SupportTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SupportTicket
	for _, t := range s.tickets {
		if t.StudentID == studentID {
			out = append(out, t)
		}
	}
	return out
}

// Content

func (s *Store) putQuestionLocked(q *models.Question) {
	for j := range q.Choices {
		c := &q.Choices[j]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.QuestionID = q.ID
		c.SortOrder = j
		s.choices[c.ID] = *c
	}
	stored := *q
	stored.Choices = nil
	s.questions[q.ID] = stored
}

func (s *Store) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (s *Store) choicesOfLocked(questionID uuid.UUID) []models.Choice {
	var out []models.Choice
	for _, c := range s.choices {
		if c.QuestionID == questionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func (s *Store) ListTopicsWithQuestions(ctx context.Context, unitID uuid.UUID) ([]models.QuizTopic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var topics []models.QuizTopic
	for _, t := range s.topics {
		if t.UnitID != unitID {
			continue
		}
		for _, q := range s.questions {
			if q.TopicID == t.ID {
				q.Choices = s.choicesOfLocked(q.ID)
				t.Questions = append(t.Questions, q)
			}
		}
		sort.Slice(t.Questions, func(i, j int) bool {
			return t.Questions[i].ID.String() < t.Questions[j].ID.String()
		})
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].SortOrder < topics[j].SortOrder })
	return topics, nil
}

func (s *Store) CreateTopic(ctx context.Context, t *models.QuizTopic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.New()
	t.SortOrder = s.next()
	s.topics[t.ID] = *t
	return nil
}

func (s *Store) GetTopic(ctx context.Context, id uuid.UUID) (*models.QuizTopic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ID = uuid.New()
	for i := range q.Choices {
		q.Choices[i].ID = uuid.New()
	}
	s.putQuestionLocked(q)
	return nil
}

func (s *Store) GetQuestionByChoice(ctx context.Context, choiceID uuid.UUID) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.choices[choiceID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	q := s.questions[c.QuestionID]
	q.Choices = s.choicesOfLocked(q.ID)
	return &q, nil
}

// otherCorrectLocked reports whether the question of c has a correct choice
// besides c itself.
func (s *Store) otherCorrectLocked(c models.Choice) bool {
	for _, other := range s.choices {
		if other.QuestionID == c.QuestionID && other.ID != c.ID && other.IsCorrect {
			return true
		}
	}
	return false
}

func (s *Store) UpdateChoice(ctx context.Context, c *models.Choice) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.choices[c.ID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if !c.IsCorrect && !s.otherCorrectLocked(existing) {
		return false, nil
	}
	existing.Body = c.Body
	existing.IsCorrect = c.IsCorrect
	existing.Explanation = c.Explanation
	s.choices[c.ID] = existing
	*c = existing
	return true, nil
}

func (s *Store) DeleteChoice(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.choices[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if existing.IsCorrect && !s.otherCorrectLocked(existing) {
		return false, nil
	}
	delete(s.choices, id)
	return true, nil
}

// Lessons

func (s *Store) CreateSession(ctx context.Context, ls *models.LessonSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls.ID = uuid.New()
	s.sessions[ls.ID] = *ls
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.LessonSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ls, nil
}

func (s *Store) CompleteSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.sessions[id]
	if !ok || ls.IsCompleted {
		return false, nil
	}
	d := int(endedAt.Sub(ls.StartedAt).Seconds())
	if d < 0 {
		d = 0
	}
	ls.EndedAt = &endedAt
	ls.DurationSeconds = &d
	ls.IsCompleted = true
	s.sessions[id] = ls
	return true, nil
}

func (s *Store) InsertAttempt(ctx context.Context, a *models.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = uuid.New()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *Store) UpsertUnitScore(ctx context.Context, sc *models.UnitScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{sc.StudentID, sc.UnitID}
	stored := *sc
	if prev, ok := s.scores[key]; ok && stored.DurationSeconds == nil {
		stored.DurationSeconds = prev.DurationSeconds
	}
	s.scores[key] = stored
	return nil
}

// Queue state

func (s *Store) SaveQueue(ctx context.Context, q *quizqueue.Queue) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[q.SessionID] = data
	return nil
}

func (s *Store) LoadQueue(ctx context.Context, sessionID uuid.UUID) (*quizqueue.Queue, error) {
	s.mu.Lock()
	data, ok := s.queues[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, quizqueue.ErrStateNotFound
	}
	var q quizqueue.Queue
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) DeleteQueue(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, sessionID)
	return nil
}

// Progress

func (s *Store) UpsertCompletedProgress(ctx context.Context, studentID, unitID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{studentID, unitID}
	p, ok := s.progress[key]
	if !ok {
		p = models.StudentProgress{StudentID: studentID, UnitID: unitID, CreatedAt: at}
	}
	p.Status = models.ProgressStatusCompleted
	p.CompletedAt = &at
	s.progress[key] = p
	return nil
}

func (s *Store) ListPendingDialogues(ctx context.Context, studentID uuid.UUID) ([]models.PendingDialogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PendingDialogue
	var order []int
	for key, p := range s.progress {
		if key.student != studentID || p.DialogueCleared {
			continue
		}
		u, ok := s.units[key.unit]
		if !ok {
			continue
		}
		out = append(out, models.PendingDialogue{UnitID: u.ID, UnitName: u.Name, IsCheckpoint: u.IsDialogueCheckpoint})
		order = append(order, u.SortOrder)
	}
	sort.Sort(byOrder{out, order})
	return out, nil
}

type byOrder struct {
	items []models.PendingDialogue
	order []int
}

func (b byOrder) Len() int { return len(b.items) }
func (b byOrder) Less(i, j int) bool {
	if b.order[i] != b.order[j] {
		return b.order[i] < b.order[j]
	}
	return b.items[i].UnitName < b.items[j].UnitName
}
func (b byOrder) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.order[i], b.order[j] = b.order[j], b.order[i]
}

// Tickets

func (s *Store) withRoomLocked(t models.SupportTicket) *models.SupportTicket {
	t.UnitIDs = append([]uuid.UUID(nil), t.UnitIDs...)
	t.RoomName = ""
	if t.InstructorID != nil {
		if i, ok := s.instructors[*t.InstructorID]; ok {
			t.RoomName = i.RoomName
		}
	}
	return &t
}

func (s *Store) InsertTicket(ctx context.Context, t *models.SupportTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		if existing.StudentID == t.StudentID && existing.Status.IsActive() {
			return &pgconn.PgError{
				Code:           "23505",
				Message:        "duplicate key value violates unique constraint",
				ConstraintName: "uq_support_tickets_active_student",
			}
		}
	}
	t.ID = uuid.New()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	// Nudge identical timestamps apart so oldest-first listing is stable.
	t.CreatedAt = t.CreatedAt.Add(time.Duration(s.next()) * time.Nanosecond)
	stored := *t
	stored.UnitIDs = append([]uuid.UUID(nil), t.UnitIDs...)
	s.tickets[t.ID] = stored
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id uuid.UUID) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.withRoomLocked(t), nil
}

func (s *Store) GetActiveTicketForStudent(ctx context.Context, studentID uuid.UUID) (*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.StudentID == studentID && t.Status.IsActive() {
			return s.withRoomLocked(t), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *Store) ListTicketsByStatus(ctx context.Context, status models.TicketStatus) ([]*models.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SupportTicket
	for _, t := range s.tickets {
		if t.Status == status {
			out = append(out, s.withRoomLocked(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountTicketsByStatus(ctx context.Context, status models.TicketStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tickets {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) HasAssignedTicket(ctx context.Context, instructorID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.Status == models.TicketAssigned && t.InstructorID != nil && *t.InstructorID == instructorID {
			return true, nil
		}
	}
	return false, nil
}

func guardMatches(t models.SupportTicket, g models.TicketGuard) bool {
	if t.Status != g.Status {
		return false
	}
	if g.StudentID != nil && t.StudentID != *g.StudentID {
		return false
	}
	if g.InstructorID != nil && (t.InstructorID == nil || *t.InstructorID != *g.InstructorID) {
		return false
	}
	return true
}

func (s *Store) CompareAndSwapTicket(ctx context.Context, id uuid.UUID, guard models.TicketGuard, patch models.TicketPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !guardMatches(t, guard) {
		return false, nil
	}

	t.Status = patch.Status
	if patch.InstructorID != nil {
		v := *patch.InstructorID
		t.InstructorID = &v
	}
	if patch.AssignedAt != nil {
		v := *patch.AssignedAt
		t.AssignedAt = &v
	}
	if patch.CompletedAt != nil {
		v := *patch.CompletedAt
		t.CompletedAt = &v
	}
	if patch.CancelledAt != nil {
		v := *patch.CancelledAt
		t.CancelledAt = &v
	}
	if patch.EvaluationNote != nil {
		v := *patch.EvaluationNote
		t.EvaluationNote = &v
	}
	s.tickets[id] = t
	return true, nil
}

// CompleteTicket checks the guard before writing anything, so a mismatch
// leaves every row untouched just like the rolled back transaction.
func (s *Store) CompleteTicket(ctx context.Context, c models.TicketCompletion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[c.TicketID]
	if !ok || !guardMatches(t, models.TicketGuard{Status: models.TicketAssigned, InstructorID: &c.InstructorID}) {
		return false, nil
	}

	for _, unitID := range c.UnitIDs {
		key := progressKey{c.StudentID, unitID}
		if p, ok := s.progress[key]; ok {
			p.DialogueCleared = true
			s.progress[key] = p
		}
	}

	at := c.CompletedAt
	t.Status = models.TicketCompleted
	t.CompletedAt = &at
	t.EvaluationNote = c.EvaluationNote
	s.tickets[c.TicketID] = t

	if i, ok := s.instructors[c.InstructorID]; ok {
		i.Status = models.InstructorIdle
		i.UpdatedAt = at
		s.instructors[c.InstructorID] = i
	}
	return true, nil
}

// Instructors

func (s *Store) GetInstructor(ctx context.Context, id uuid.UUID) (*models.Instructor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instructors[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &i, nil
}

func (s *Store) ListInstructors(ctx context.Context) ([]*models.Instructor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Instructor, 0, len(s.instructors))
	for _, i := range s.instructors {
		i := i
		out = append(out, &i)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].RoomName != out[b].RoomName {
			return out[a].RoomName < out[b].RoomName
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	return out, nil
}

func (s *Store) CountInstructorsByStatus(ctx context.Context, status models.InstructorStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, i := range s.instructors {
		if i.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *Store) SetInstructorStatus(ctx context.Context, id uuid.UUID, status models.InstructorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instructors[id]
	if !ok {
		return nil
	}
	i.Status = status
	i.UpdatedAt = time.Now()
	s.instructors[id] = i
	return nil
}

func (s *Store) CompareAndSwapInstructorStatus(ctx context.Context, id uuid.UUID, from, to models.InstructorStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.instructors[id]
	if !ok || i.Status != from {
		return false, nil
	}
	i.Status = to
	i.UpdatedAt = time.Now()
	s.instructors[id] = i
	return true, nil
}

// Presence

func (s *Store) UpsertPresence(ctx context.Context, p *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	if prev, ok := s.presence[p.UserID]; ok && sameUnit(prev.CurrentUnitID, p.CurrentUnitID) {
		stored.CurrentUnitStartedAt = prev.CurrentUnitStartedAt
	}
	stored.CurrentUnitName = nil
	s.presence[p.UserID] = stored
	p.CurrentUnitStartedAt = stored.CurrentUnitStartedAt
	return nil
}

func sameUnit(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) ListPresence(ctx context.Context, role models.Role) ([]*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Presence
	for _, p := range s.presence {
		if p.Role != role {
			continue
		}
		p := p
		if p.CurrentUnitID != nil {
			if u, ok := s.units[*p.CurrentUnitID]; ok {
				name := u.Name
				p.CurrentUnitName = &name
			}
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}
