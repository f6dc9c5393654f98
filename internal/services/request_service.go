package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quizstream/quizstream-worker/internal/clients/rabbitmq"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/quizgen"
	"github.com/quizstream/quizstream-worker/internal/repos"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// DefaultPipelineTimeout bounds one generation run end to end.
const DefaultPipelineTimeout = 120 * time.Second

// QuizPipeline is the generation engine the lifecycle controller drives.
type QuizPipeline interface {
	GenerateQuiz(ctx context.Context, req quizgen.Request) (uuid.UUID, []string, error)
}

// QueuePublisher enqueues quiz request messages for the worker pool.
type QueuePublisher interface {
	Publish(ctx context.Context, msg rabbitmq.QuizRequestMessage) error
}

// RequestService owns the quiz request lifecycle: intake on one side, queue
// consumption on the other. Process guarantees that every claimed request
// reaches a terminal state, whatever the pipeline does.
type RequestService interface {
	Enqueue(ctx context.Context, req *types.QuizRequest, apiKeys map[string]string) (*types.QuizRequest, error)
	Process(ctx context.Context, msg rabbitmq.QuizRequestMessage) error
}

type requestService struct {
	log       *logger.Logger
	repo      repos.QuizRequestRepo
	pipeline  QuizPipeline
	publisher QueuePublisher
	notifier  RequestNotifier
	timeout   time.Duration
}

func NewRequestService(
	log *logger.Logger,
	repo repos.QuizRequestRepo,
	pipeline QuizPipeline,
	publisher QueuePublisher,
	notifier RequestNotifier,
	timeout time.Duration,
) RequestService {
	if timeout <= 0 {
		timeout = DefaultPipelineTimeout
	}
	if notifier == nil {
		notifier = NewNopNotifier()
	}
	return &requestService{
		log:       log.With("service", "RequestService"),
		repo:      repo,
		pipeline:  pipeline,
		publisher: publisher,
		notifier:  notifier,
		timeout:   timeout,
	}
}

// Enqueue records a new request and publishes it for processing. A name that
// already belongs to a live or finished request for this user is rejected; a
// failed one is reset and requeued so the name can be retried.
func (s *requestService) Enqueue(ctx context.Context, req *types.QuizRequest, apiKeys map[string]string) (*types.QuizRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.UserID == uuid.Nil || strings.TrimSpace(req.QuizName) == "" || strings.TrimSpace(req.VideoURL) == "" {
		return nil, fmt.Errorf("quiz request missing user, name or video url")
	}
	if !req.Difficulty.Valid() {
		return nil, fmt.Errorf("unknown difficulty %q", req.Difficulty)
	}
	if !req.Language.Valid() {
		return nil, fmt.Errorf("unknown language %q", req.Language)
	}
	existing, err := s.repo.GetByUserAndName(ctx, req.UserID, req.QuizName)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil:
		req.Status = types.StatusQueued
		if req, err = s.repo.Create(ctx, req); err != nil {
			return nil, err
		}
	case existing.Status == types.StatusFailed:
		if err := s.repo.Requeue(ctx, existing.ID, req); err != nil {
			return nil, err
		}
		existing.Status = types.StatusQueued
		existing.QuizID = nil
		existing.MessageInt = ""
		existing.MessageExt = ""
		existing.VideoURL = req.VideoURL
		existing.Language = req.Language
		existing.Difficulty = req.Difficulty
		existing.Type = req.Type
		req = existing
	default:
		return nil, quizgen.NewError(quizgen.KindDuplicateName, nil,
			fmt.Sprintf("quiz %q for user %s already exists with status %s", req.QuizName, req.UserID, existing.Status),
			fmt.Sprintf("Quiz with name '%s' already exists.", req.QuizName))
	}

	msg := rabbitmq.QuizRequestMessage{
		UserID:     req.UserID,
		QuizName:   req.QuizName,
		VideoURL:   req.VideoURL,
		Language:   req.Language,
		Difficulty: req.Difficulty,
		Type:       req.Type,
		APIKeys:    apiKeys,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish quiz request: %w", err)
	}
	s.notifier.RequestQueued(ctx, req)
	return req, nil
}

// Process handles one queue delivery. The claim is the idempotency gate:
// redeliveries of a request that is already processing or terminal are
// acknowledged and dropped. Once a claim is won, the request always ends
// FINISHED or FAILED — pipeline errors, timeouts and panics all land in
// MarkFailed with a paired internal/external message.
func (s *requestService) Process(ctx context.Context, msg rabbitmq.QuizRequestMessage) (err error) {
	log := s.log.With("user_id", msg.UserID.String(), "quiz_name", msg.QuizName)

	req, claimed, err := s.repo.ClaimForProcessing(ctx, msg.UserID, msg.QuizName)
	if err != nil {
		return fmt.Errorf("claim quiz request: %w", err)
	}
	if req == nil {
		log.Warn("Dropping message for unknown quiz request")
		return nil
	}
	if !claimed {
		log.Info("Dropping redelivered message", "status", string(req.Status))
		return nil
	}
	s.notifier.RequestProcessing(ctx, req)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic during quiz generation", "panic", r)
			err = s.fail(ctx, log, req,
				fmt.Sprintf("panic during quiz generation: %v", r),
				"Unexpected error while generating the quiz.")
		}
	}()

	pipeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	quizID, docIDs, pipeErr := s.pipeline.GenerateQuiz(pipeCtx, quizgen.Request{
		UserID:     msg.UserID,
		QuizName:   msg.QuizName,
		VideoURL:   msg.VideoURL,
		Language:   msg.Language,
		Difficulty: msg.Difficulty,
		Type:       msg.Type,
		APIKeys:    msg.APIKeys,
	})
	if pipeErr != nil {
		internal, external := failureMessages(pipeErr, s.timeout)
		log.Error("Quiz generation failed", "error", pipeErr, "external_message", external)
		return s.fail(ctx, log, req, internal, external)
	}

	mapping := &types.UserQuiz{
		UserID:       req.UserID,
		QuizID:       quizID,
		NumQuestions: len(docIDs),
		Language:     req.Language,
		Type:         req.Type,
		Difficulty:   req.Difficulty,
		DateCreated:  time.Now(),
	}
	messageInt := fmt.Sprintf("Quiz generated with %d questions", len(docIDs))
	messageExt := "Quiz generated successfully"
	if err := s.repo.MarkFinished(ctx, req.ID, quizID, mapping, messageInt, messageExt); err != nil {
		return fmt.Errorf("mark quiz request finished: %w", err)
	}
	req.Status = types.StatusFinished
	req.QuizID = &quizID
	req.MessageExt = messageExt
	s.notifier.RequestFinished(ctx, req)
	log.Info("Quiz request finished", "quiz_id", quizID, "questions", len(docIDs))
	return nil
}

// fail records the terminal FAILED state. Deliberately returns nil once the
// write succeeds: a nack here would requeue a request that is already
// terminal, and the redelivery would lose the claim and be dropped anyway.
// Only a failure to record the terminal state propagates, so the broker
// retries the delivery and the state write gets another chance.
func (s *requestService) fail(ctx context.Context, log *logger.Logger, req *types.QuizRequest, internal, external string) error {
	internal = quizgen.RedactAPIKey(internal)
	if err := s.repo.MarkFailed(context.WithoutCancel(ctx), req.ID, internal, external); err != nil {
		return fmt.Errorf("mark quiz request failed: %w", err)
	}
	req.Status = types.StatusFailed
	req.MessageExt = external
	s.notifier.RequestFailed(ctx, req)
	return nil
}

// failureMessages maps a pipeline error onto the paired messages stored on
// the request row.
func failureMessages(err error, timeout time.Duration) (internal, external string) {
	if pe, ok := quizgen.AsError(err); ok {
		return pe.Internal, pe.External
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("quiz generation exceeded the %s deadline", timeout),
			"Quiz generation timed out. Try a shorter video."
	}
	return err.Error(), "Unexpected error while generating the quiz."
}
