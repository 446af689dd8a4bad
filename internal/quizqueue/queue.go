// Package quizqueue runs a student through a unit's quiz topics until every
// topic has been answered correctly at least once. A wrong answer appends a
// remedial question from the same topic to the end of the queue.
package quizqueue

import (
	"errors"

	"github.com/google/uuid"

	"lms-backend/internal/models"
)

var (
	ErrFinished        = errors.New("quiz queue is exhausted")
	ErrOutOfOrder      = errors.New("position is not the current question")
	ErrAlreadyAnswered = errors.New("question at this position was already answered")
	ErrNotAnswered     = errors.New("current question has not been answered")
	ErrUnknownChoice   = errors.New("choice does not belong to the question")
	ErrUnknownQuestion = errors.New("question is not part of the unit content")

	// ErrStateNotFound is returned by queue stores when no state is kept for
	// a session, either because it never existed or because it expired.
	ErrStateNotFound = errors.New("quiz queue state not found")
)

// Item is one slot of the queue.
type Item struct {
	QuestionID  uuid.UUID   `json:"question_id"`
	TopicID     uuid.UUID   `json:"topic_id"`
	ChoiceOrder []uuid.UUID `json:"choice_order"`
	Remedial    bool        `json:"remedial"`
	Answered    bool        `json:"answered"`
	Correct     bool        `json:"correct"`
}

// Queue is the serializable state of one lesson session. Items are consumed
// strictly in order through Cursor.
type Queue struct {
	SessionID   uuid.UUID   `json:"session_id"`
	UnitID      uuid.UUID   `json:"unit_id"`
	Items       []Item      `json:"items"`
	Cursor      int         `json:"cursor"`
	Cleared     []uuid.UUID `json:"cleared"`
	TotalTopics int         `json:"total_topics"`
}

func (q *Queue) Finished() bool {
	return q.Cursor >= len(q.Items)
}

func (q *Queue) Current() (*Item, bool) {
	if q.Finished() {
		return nil, false
	}
	return &q.Items[q.Cursor], true
}

func (q *Queue) IsCleared(topicID uuid.UUID) bool {
	for _, id := range q.Cleared {
		if id == topicID {
			return true
		}
	}
	return false
}

func (q *Queue) ProgressRate() float64 {
	return models.ProgressRate(len(q.Cleared), q.TotalTopics)
}

// Advance moves past the current, answered item and reports whether the
// queue is now exhausted.
func (q *Queue) Advance() (bool, error) {
	item, ok := q.Current()
	if !ok {
		return true, ErrFinished
	}
	if !item.Answered {
		return false, ErrNotAnswered
	}
	q.Cursor++
	return q.Finished(), nil
}

func (q *Queue) contains(questionID uuid.UUID) bool {
	for _, it := range q.Items {
		if it.QuestionID == questionID {
			return true
		}
	}
	return false
}
