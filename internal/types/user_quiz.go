package types

import (
	"time"

	"github.com/google/uuid"
)

// UserQuiz maps a requester to a finished quiz collection and carries the
// play-state counters owned by the API layer.
type UserQuiz struct {
	UserID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	QuizID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"quiz_id"`
	NumQuestions int            `gorm:"not null;default:0" json:"num_questions"`
	NumTries     int            `gorm:"not null;default:0" json:"num_tries"`
	NumCorrect   int            `gorm:"not null;default:0" json:"num_correct"`
	Language     QuizLanguage   `gorm:"not null;default:'EN'" json:"language"`
	Type         QuizType       `gorm:"not null;default:'MULTIPLE_CHOICE'" json:"type"`
	Difficulty   QuizDifficulty `gorm:"not null;default:'EASY'" json:"difficulty"`
	DateCreated  time.Time      `gorm:"not null;default:now()" json:"date_created"`
}

func (UserQuiz) TableName() string {
	return "user_quiz"
}
