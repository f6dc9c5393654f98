package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/quizgen"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// collectionStore persists finished quizzes as an immutable collection plus
// its documents. Implements quizgen.CollectionStore.
type collectionStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollectionStore(db *gorm.DB, baseLog *logger.Logger) quizgen.CollectionStore {
	return &collectionStore{
		db:  db,
		log: baseLog.With("service", "CollectionStore"),
	}
}

// AssertNameAvailable is the pre-flight duplicate check: it rejects a name the
// requester already completed a quiz under, before any reasoning-service cost
// is incurred. Collisions with other users' collections are left to the
// store's global unique index at write time (first writer wins).
func (s *collectionStore) AssertNameAvailable(ctx context.Context, userID uuid.UUID, name string) error {
	var collectionIDs []uuid.UUID
	if err := s.db.WithContext(ctx).
		Model(&types.QuizCollection{}).
		Where("name = ?", name).
		Pluck("id", &collectionIDs).Error; err != nil {
		return fmt.Errorf("collection name lookup: %w", err)
	}
	if len(collectionIDs) == 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&types.UserQuiz{}).
		Where("user_id = ? AND quiz_id IN ?", userID, collectionIDs).
		Count(&count).Error; err != nil {
		return fmt.Errorf("user quiz lookup: %w", err)
	}
	if count > 0 {
		return duplicateNameError(userID, name)
	}
	return nil
}

func (s *collectionStore) CreateCollection(ctx context.Context, name string, questions []quizgen.Candidate, meta quizgen.VideoMetadata, embeddings [][]float32) (uuid.UUID, []string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("marshal collection metadata: %w", err)
	}

	collection := &types.QuizCollection{
		ID:       uuid.New(),
		Name:     name,
		Metadata: datatypes.JSON(metaJSON),
	}

	docs := make([]*types.QuizDocument, 0, len(questions))
	docIDs := make([]string, 0, len(questions))
	for i, q := range questions {
		docMeta := map[string]any{
			"answers":     q.Answers,
			"grade":       q.Grade,
			"context":     q.ChunkText,
			"start_index": q.StartIndex,
			"end_index":   q.EndIndex,
		}
		docMetaJSON, mErr := json.Marshal(docMeta)
		if mErr != nil {
			return uuid.Nil, nil, fmt.Errorf("marshal document metadata: %w", mErr)
		}
		doc := &types.QuizDocument{
			ID:           q.ID.String(),
			CollectionID: collection.ID,
			Document:     q.Question,
			Metadata:     datatypes.JSON(docMetaJSON),
		}
		if i < len(embeddings) && embeddings[i] != nil {
			embJSON, eErr := json.Marshal(embeddings[i])
			if eErr != nil {
				return uuid.Nil, nil, fmt.Errorf("marshal embedding: %w", eErr)
			}
			doc.Embedding = datatypes.JSON(embJSON)
		}
		docs = append(docs, doc)
		docIDs = append(docIDs, doc.ID)
	}

	// One transaction: either the collection and every document become
	// visible together, or nothing does.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cErr := tx.Create(collection).Error; cErr != nil {
			return cErr
		}
		if len(docs) == 0 {
			return nil
		}
		return tx.Create(&docs).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, nil, duplicateNameError(uuid.Nil, name)
		}
		return uuid.Nil, nil, err
	}

	return collection.ID, docIDs, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

func duplicateNameError(userID uuid.UUID, name string) error {
	internal := fmt.Sprintf("quiz name %q already exists", name)
	if userID != uuid.Nil {
		internal = fmt.Sprintf("quiz name %q already exists for user %s", name, userID)
	}
	return quizgen.NewError(quizgen.KindDuplicateName, nil, internal,
		fmt.Sprintf("Quiz with name '%s' already exists.", name))
}
