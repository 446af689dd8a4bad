package quizqueue

import (
	"math/rand"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

// Policy holds the tunable parts of queue construction.
type Policy struct {
	// InitialPerTopic is how many distinct questions each topic contributes
	// at session start, capped by the topic's pool size. Values below 1 are
	// treated as 1.
	InitialPerTopic int
}

func DefaultPolicy() Policy {
	return Policy{InitialPerTopic: 1}
}

// Engine evaluates answers against a unit's authored content. It is not safe
// for concurrent use; build one per request.
type Engine struct {
	topics    []*models.QuizTopic
	byTopic   map[uuid.UUID]*models.QuizTopic
	questions map[uuid.UUID]*models.Question
	policy    Policy
	rnd       *rand.Rand
}

// NewEngine indexes the unit content. Topics without questions cannot be
// cleared and are left out of the queue and of the topic total.
func NewEngine(topics []models.QuizTopic, policy Policy, rnd *rand.Rand) *Engine {
	if policy.InitialPerTopic < 1 {
		policy.InitialPerTopic = 1
	}

	e := &Engine{
		byTopic:   make(map[uuid.UUID]*models.QuizTopic),
		questions: make(map[uuid.UUID]*models.Question),
		policy:    policy,
		rnd:       rnd,
	}

	for i := range topics {
		t := &topics[i]
		if len(t.Questions) == 0 {
			continue
		}
		e.topics = append(e.topics, t)
		e.byTopic[t.ID] = t
		for j := range t.Questions {
			e.questions[t.Questions[j].ID] = &t.Questions[j]
		}
	}

	return e
}

// TotalTopics counts topics that can be cleared.
func (e *Engine) TotalTopics() int {
	return len(e.topics)
}

// Start builds the initial queue: InitialPerTopic rounds over the topics in
// authored order, each round drawing a not-yet-drawn question per topic.
func (e *Engine) Start(sessionID, unitID uuid.UUID) *Queue {
	q := &Queue{
		SessionID:   sessionID,
		UnitID:      unitID,
		Items:       []Item{},
		Cleared:     []uuid.UUID{},
		TotalTopics: len(e.topics),
	}

	draws := make([][]int, len(e.topics))
	for i, t := range e.topics {
		draws[i] = e.rnd.Perm(len(t.Questions))
	}

	for round := 0; round < e.policy.InitialPerTopic; round++ {
		for i, t := range e.topics {
			if round >= len(draws[i]) {
				continue
			}
			q.Items = append(q.Items, e.newItem(t.ID, &t.Questions[draws[i][round]], false))
		}
	}

	return q
}

// Outcome is the result of one answer submission.
type Outcome struct {
	Position        int       `json:"position"`
	QuestionID      uuid.UUID `json:"question_id"`
	TopicID         uuid.UUID `json:"topic_id"`
	ChoiceID        uuid.UUID `json:"choice_id"`
	Correct         bool      `json:"correct"`
	CorrectChoiceID uuid.UUID `json:"correct_choice_id"`
	Explanation     *string   `json:"explanation,omitempty"`
	NewlyCleared    bool      `json:"newly_cleared"`
	Appended        bool      `json:"appended"`
	ClearedTopics   int       `json:"cleared_topics"`
	TotalTopics     int       `json:"total_topics"`
	ProgressRate    float64   `json:"progress_rate"`
	QueueLength     int       `json:"queue_length"`
}

// Submit records the answer for the item at position, which must be the
// unanswered current item. A correct answer clears the topic; a wrong one
// appends a remedial question for the same topic.
func (e *Engine) Submit(q *Queue, position int, choiceID uuid.UUID) (*Outcome, error) {
	if q.Finished() {
		return nil, ErrFinished
	}
	if position != q.Cursor {
		return nil, ErrOutOfOrder
	}

	item := &q.Items[position]
	if item.Answered {
		return nil, ErrAlreadyAnswered
	}

	question, ok := e.questions[item.QuestionID]
	if !ok {
		return nil, ErrUnknownQuestion
	}
	choice, ok := question.Choice(choiceID)
	if !ok {
		return nil, ErrUnknownChoice
	}

	item.Answered = true
	item.Correct = choice.IsCorrect

	out := &Outcome{
		Position:    position,
		QuestionID:  question.ID,
		TopicID:     item.TopicID,
		ChoiceID:    choice.ID,
		Correct:     choice.IsCorrect,
		Explanation: choice.Explanation,
	}
	for _, c := range question.Choices {
		if c.IsCorrect {
			out.CorrectChoiceID = c.ID
			break
		}
	}

	if choice.IsCorrect {
		if !q.IsCleared(item.TopicID) {
			q.Cleared = append(q.Cleared, item.TopicID)
			out.NewlyCleared = true
		}
	} else if remedial := e.pickRemedial(q, item.TopicID); remedial != nil {
		q.Items = append(q.Items, e.newItem(item.TopicID, remedial, true))
		out.Appended = true
	}

	out.ClearedTopics = len(q.Cleared)
	out.TotalTopics = q.TotalTopics
	out.ProgressRate = q.ProgressRate()
	out.QueueLength = len(q.Items)
	return out, nil
}

// pickRemedial prefers a topic question not yet in the queue and falls back
// to any question of the topic once the pool is exhausted.
func (e *Engine) pickRemedial(q *Queue, topicID uuid.UUID) *models.Question {
	topic, ok := e.byTopic[topicID]
	if !ok {
		return nil
	}

	var fresh []*models.Question
	for i := range topic.Questions {
		if !q.contains(topic.Questions[i].ID) {
			fresh = append(fresh, &topic.Questions[i])
		}
	}
	if len(fresh) > 0 {
		return fresh[e.rnd.Intn(len(fresh))]
	}

	return &topic.Questions[e.rnd.Intn(len(topic.Questions))]
}

func (e *Engine) newItem(topicID uuid.UUID, question *models.Question, remedial bool) Item {
	order := make([]uuid.UUID, len(question.Choices))
	for i, idx := range e.rnd.Perm(len(question.Choices)) {
		order[i] = question.Choices[idx].ID
	}
	return Item{
		QuestionID:  question.ID,
		TopicID:     topicID,
		ChoiceOrder: order,
		Remedial:    remedial,
	}
}

// QuestionView is what a student sees: no correctness flags.
type QuestionView struct {
	Position   int          `json:"position"`
	QuestionID uuid.UUID    `json:"question_id"`
	TopicID    uuid.UUID    `json:"topic_id"`
	TopicLabel string       `json:"topic_label"`
	Body       string       `json:"body"`
	Remedial   bool         `json:"remedial"`
	Choices    []ChoiceView `json:"choices"`
}

type ChoiceView struct {
	ID   uuid.UUID `json:"id"`
	Body string    `json:"body"`
}

// View renders the item at position in its shuffled choice order.
func (e *Engine) View(q *Queue, position int) (*QuestionView, bool) {
	if position < 0 || position >= len(q.Items) {
		return nil, false
	}
	item := q.Items[position]
	question, ok := e.questions[item.QuestionID]
	if !ok {
		return nil, false
	}

	view := &QuestionView{
		Position:   position,
		QuestionID: question.ID,
		TopicID:    item.TopicID,
		Body:       question.Body,
		Remedial:   item.Remedial,
		Choices:    make([]ChoiceView, 0, len(item.ChoiceOrder)),
	}
	if t, ok := e.byTopic[item.TopicID]; ok {
		view.TopicLabel = t.Label
	}
	for _, id := range item.ChoiceOrder {
		if c, ok := question.Choice(id); ok {
			view.Choices = append(view.Choices, ChoiceView{ID: c.ID, Body: c.Body})
		}
	}
	return view, true
}
