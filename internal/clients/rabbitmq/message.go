package rabbitmq

import (
	"github.com/google/uuid"

	"github.com/quizstream/quizstream-worker/internal/types"
)

// QuizRequestMessage is the queue payload describing one quiz job. Delivery
// is at-least-once; consumers must tolerate duplicates.
type QuizRequestMessage struct {
	UserID     uuid.UUID            `json:"user_id"`
	QuizName   string               `json:"quiz_name"`
	VideoURL   string               `json:"video_url"`
	Language   types.QuizLanguage   `json:"language"`
	Difficulty types.QuizDifficulty `json:"difficulty"`
	Type       types.QuizType       `json:"type"`
	APIKeys    map[string]string    `json:"api_keys,omitempty"`
}
