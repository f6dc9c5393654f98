package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// StatusEvent is published on every lifecycle transition so API instances can
// stream progress to the requester without polling the request table.
type StatusEvent struct {
	UserID   uuid.UUID           `json:"user_id"`
	QuizName string              `json:"quiz_name"`
	Status   types.RequestStatus `json:"status"`
	Message  string              `json:"message,omitempty"`
	QuizID   *uuid.UUID          `json:"quiz_id,omitempty"`
}

type StatusBus interface {
	Publish(ctx context.Context, evt StatusEvent) error
	Close() error
}

type statusBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewStatusBus(log *logger.Logger, addr, channel string) (StatusBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "quiz-status"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &statusBus{
		log:     log.With("client", "RedisStatusBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *statusBus) Publish(ctx context.Context, evt StatusEvent) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis status bus not initialized")
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *statusBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
