package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// QuizCollection is the immutable output artifact of a successful request.
// Names are unique across the whole system, first writer wins.
type QuizCollection struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name      string         `gorm:"not null;uniqueIndex" json:"name"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (QuizCollection) TableName() string {
	return "quiz_collection"
}

// QuizDocument is one persisted quiz item. Document holds the question text;
// Metadata carries the accepted answers and the originating chunk (text plus
// absolute offsets) for audit.
type QuizDocument struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	CollectionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"collection_id"`
	Collection   *QuizCollection `gorm:"constraint:OnDelete:CASCADE;foreignKey:CollectionID;references:ID" json:"collection,omitempty"`
	Document     string          `gorm:"not null" json:"document"`
	Embedding    datatypes.JSON  `gorm:"type:jsonb" json:"embedding,omitempty"`
	Metadata     datatypes.JSON  `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time       `gorm:"not null;default:now()" json:"created_at"`
}

func (QuizDocument) TableName() string {
	return "quiz_document"
}
