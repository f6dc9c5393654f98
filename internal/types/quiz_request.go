package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QuizRequest is the durable job record for one quiz generation. Identity is
// (user_id, quiz_name); the record is claimed with a row lock by exactly one
// worker and becomes immutable once terminal.
type QuizRequest struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_quiz_request_user_name" json:"user_id"`
	QuizName   string         `gorm:"not null;uniqueIndex:ux_quiz_request_user_name" json:"quiz_name"`
	VideoURL   string         `gorm:"not null" json:"video_url"`
	Language   QuizLanguage   `gorm:"not null;default:'EN'" json:"language"`
	Difficulty QuizDifficulty `gorm:"not null;default:'EASY'" json:"difficulty"`
	Type       QuizType       `gorm:"not null;default:'MULTIPLE_CHOICE'" json:"type"`
	Status     RequestStatus  `gorm:"not null;index" json:"status"`

	// QuizID references the created collection; set on FINISHED, nulled on
	// FAILED.
	QuizID *uuid.UUID `gorm:"type:uuid" json:"quiz_id,omitempty"`

	// MessageInt is the verbose diagnostic (may contain provider error text,
	// never raw credentials); MessageExt is safe to show to the requester.
	MessageInt string `gorm:"column:message_int" json:"message_int,omitempty"`
	MessageExt string `gorm:"column:message_ext" json:"message_ext,omitempty"`

	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (QuizRequest) TableName() string {
	return "quiz_request"
}
