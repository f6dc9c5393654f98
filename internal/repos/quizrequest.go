package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// QuizRequestRepo owns the quiz request lifecycle rows. ClaimForProcessing is
// the single point of mutual exclusion between workers: the status check and
// the transition to PROCESSING happen under a row lock, so concurrent
// redeliveries of the same job resolve to exactly one winner.
type QuizRequestRepo interface {
	Create(ctx context.Context, req *types.QuizRequest) (*types.QuizRequest, error)
	GetByUserAndName(ctx context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, error)
	Requeue(ctx context.Context, id uuid.UUID, retry *types.QuizRequest) error
	ClaimForProcessing(ctx context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, bool, error)
	MarkFinished(ctx context.Context, id uuid.UUID, quizID uuid.UUID, mapping *types.UserQuiz, messageInt, messageExt string) error
	MarkFailed(ctx context.Context, id uuid.UUID, messageInt, messageExt string) error
}

type quizRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizRequestRepo(db *gorm.DB, baseLog *logger.Logger) QuizRequestRepo {
	return &quizRequestRepo{
		db:  db,
		log: baseLog.With("repo", "QuizRequestRepo"),
	}
}

func (r *quizRequestRepo) Create(ctx context.Context, req *types.QuizRequest) (*types.QuizRequest, error) {
	if req == nil {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *quizRequestRepo) GetByUserAndName(ctx context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, error) {
	if userID == uuid.Nil || quizName == "" {
		return nil, nil
	}
	var req types.QuizRequest
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND quiz_name = ?", userID, quizName).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Requeue resets a failed request so its name can be reused; messages and the
// stale collection reference are cleared, and the row takes on the retry's
// parameters so it keeps describing the job that will actually run.
func (r *quizRequestRepo) Requeue(ctx context.Context, id uuid.UUID, retry *types.QuizRequest) error {
	if id == uuid.Nil {
		return nil
	}
	updates := map[string]interface{}{
		"status":      types.StatusQueued,
		"quiz_id":     nil,
		"message_int": "",
		"message_ext": "",
		"updated_at":  time.Now(),
	}
	if retry != nil {
		updates["video_url"] = retry.VideoURL
		updates["language"] = retry.Language
		updates["difficulty"] = retry.Difficulty
		updates["type"] = retry.Type
	}
	return r.db.WithContext(ctx).
		Model(&types.QuizRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *quizRequestRepo) ClaimForProcessing(ctx context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, bool, error) {
	var claimed *types.QuizRequest
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req types.QuizRequest
		qErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND quiz_name = ?", userID, quizName).
			First(&req).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		claimed = &req
		if req.Status != types.StatusQueued {
			return nil
		}
		now := time.Now()
		uErr := tx.Model(&types.QuizRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]interface{}{
				"status":      types.StatusProcessing,
				"message_int": "Starting quiz generation process",
				"message_ext": "Processing quiz request",
				"updated_at":  now,
			}).Error
		if uErr != nil {
			return uErr
		}
		req.Status = types.StatusProcessing
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, won, nil
}

// MarkFinished commits the terminal success state and the user↔quiz mapping
// in one transaction, so a finished request always has its mapping row.
func (r *quizRequestRepo) MarkFinished(ctx context.Context, id uuid.UUID, quizID uuid.UUID, mapping *types.UserQuiz, messageInt, messageExt string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&types.QuizRequest{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":      types.StatusFinished,
				"quiz_id":     quizID,
				"message_int": messageInt,
				"message_ext": messageExt,
				"updated_at":  now,
			}).Error; err != nil {
			return err
		}
		if mapping != nil {
			if err := tx.Create(mapping).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *quizRequestRepo) MarkFailed(ctx context.Context, id uuid.UUID, messageInt, messageExt string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&types.QuizRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      types.StatusFailed,
			"quiz_id":     nil,
			"message_int": messageInt,
			"message_ext": messageExt,
			"updated_at":  time.Now(),
		}).Error
}
