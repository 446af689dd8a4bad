package models

import (
	"time"

	"github.com/google/uuid"
)

type UnitKind string

const (
	UnitKindVideo UnitKind = "video"
	UnitKindTest  UnitKind = "test"
)

type Unit struct {
	ID                   uuid.UUID `json:"id"`
	Name                 string    `json:"name"`
	Kind                 UnitKind  `json:"kind"`
	IsDialogueCheckpoint bool      `json:"is_dialogue_checkpoint"`
	MaxScore             *int      `json:"max_score"`
	SortOrder            int       `json:"sort_order"`
	CreatedAt            time.Time `json:"created_at"`
}

// QuizTopic groups interchangeable questions that test one skill of a unit.
type QuizTopic struct {
	ID        uuid.UUID  `json:"id"`
	UnitID    uuid.UUID  `json:"unit_id"`
	Label     string     `json:"label"`
	SortOrder int        `json:"sort_order"`
	Questions []Question `json:"questions,omitempty"`
}

type Question struct {
	ID      uuid.UUID `json:"id"`
	TopicID uuid.UUID `json:"topic_id"`
	Body    string    `json:"body"`
	Choices []Choice  `json:"choices,omitempty"`
}

// HasCorrectChoice reports whether at least one choice is marked correct.
func (q *Question) HasCorrectChoice() bool {
	for _, c := range q.Choices {
		if c.IsCorrect {
			return true
		}
	}
	return false
}

func (q *Question) Choice(id uuid.UUID) (*Choice, bool) {
	for i := range q.Choices {
		if q.Choices[i].ID == id {
			return &q.Choices[i], true
		}
	}
	return nil, false
}

type Choice struct {
	ID          uuid.UUID `json:"id"`
	QuestionID  uuid.UUID `json:"question_id"`
	Body        string    `json:"body"`
	IsCorrect   bool      `json:"is_correct"`
	Explanation *string   `json:"explanation"`
	SortOrder   int       `json:"sort_order"`
}

type LessonSession struct {
	ID              uuid.UUID  `json:"id"`
	StudentID       uuid.UUID  `json:"student_id"`
	UnitID          uuid.UUID  `json:"unit_id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	IsCompleted     bool       `json:"is_completed"`
}

type QuizAttempt struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	StudentID   uuid.UUID `json:"student_id"`
	QuestionID  uuid.UUID `json:"question_id"`
	ChoiceID    uuid.UUID `json:"choice_id"`
	IsCorrect   bool      `json:"is_correct"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// UnitScore is keyed by (student, unit) and always upserted.
type UnitScore struct {
	StudentID       uuid.UUID `json:"student_id"`
	UnitID          uuid.UUID `json:"unit_id"`
	ClearedTopics   int       `json:"cleared_topics"`
	TotalTopics     int       `json:"total_topics"`
	ProgressRate    float64   `json:"progress_rate"`
	RawScore        *int      `json:"raw_score,omitempty"`
	MaxScore        *int      `json:"max_score,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProgressRate is cleared/total, or 0 when there are no topics.
func ProgressRate(cleared, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(cleared) / float64(total)
}

const ProgressStatusCompleted = "completed"

// StudentProgress exists only for checkpoint units. DialogueCleared moves
// false -> true only through ticket completion.
type StudentProgress struct {
	StudentID       uuid.UUID  `json:"student_id"`
	UnitID          uuid.UUID  `json:"unit_id"`
	Status          string     `json:"status"`
	DialogueCleared bool       `json:"dialogue_cleared"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PendingDialogue is one outstanding dialogue debt joined with its unit.
type PendingDialogue struct {
	UnitID       uuid.UUID `json:"unit_id"`
	UnitName     string    `json:"unit_name"`
	IsCheckpoint bool      `json:"-"`
}
