package services

import (
	"context"
	"time"

	"github.com/quizstream/quizstream-worker/internal/clients/redis"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// RequestNotifier streams lifecycle transitions to whoever is watching the
// request (API instances subscribed to the status channel). Notifications are
// best effort: a publish failure is logged and never fails the request itself.
type RequestNotifier interface {
	RequestQueued(ctx context.Context, req *types.QuizRequest)
	RequestProcessing(ctx context.Context, req *types.QuizRequest)
	RequestFinished(ctx context.Context, req *types.QuizRequest)
	RequestFailed(ctx context.Context, req *types.QuizRequest)
}

type requestNotifier struct {
	log *logger.Logger
	bus redis.StatusBus
}

func NewRequestNotifier(log *logger.Logger, bus redis.StatusBus) RequestNotifier {
	return &requestNotifier{
		log: log.With("service", "RequestNotifier"),
		bus: bus,
	}
}

func (n *requestNotifier) RequestQueued(ctx context.Context, req *types.QuizRequest) {
	n.publish(ctx, req, types.StatusQueued)
}

func (n *requestNotifier) RequestProcessing(ctx context.Context, req *types.QuizRequest) {
	n.publish(ctx, req, types.StatusProcessing)
}

func (n *requestNotifier) RequestFinished(ctx context.Context, req *types.QuizRequest) {
	n.publish(ctx, req, types.StatusFinished)
}

func (n *requestNotifier) RequestFailed(ctx context.Context, req *types.QuizRequest) {
	n.publish(ctx, req, types.StatusFailed)
}

func (n *requestNotifier) publish(ctx context.Context, req *types.QuizRequest, status types.RequestStatus) {
	if req == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := n.bus.Publish(pubCtx, redis.StatusEvent{
		UserID:   req.UserID,
		QuizName: req.QuizName,
		Status:   status,
		Message:  req.MessageExt,
		QuizID:   req.QuizID,
	})
	if err != nil {
		n.log.Warn("Failed to publish status event",
			"user_id", req.UserID.String(),
			"quiz_name", req.QuizName,
			"status", string(status),
			"error", err)
	}
}

type nopNotifier struct{}

// NewNopNotifier is used when no status channel is configured.
func NewNopNotifier() RequestNotifier { return nopNotifier{} }

func (nopNotifier) RequestQueued(context.Context, *types.QuizRequest)     {}
func (nopNotifier) RequestProcessing(context.Context, *types.QuizRequest) {}
func (nopNotifier) RequestFinished(context.Context, *types.QuizRequest)   {}
func (nopNotifier) RequestFailed(context.Context, *types.QuizRequest)     {}
