package quizgen

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/quizstream/quizstream-worker/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// fakeAI satisfies ReasoningClient with per-call hooks and call counters.
type fakeAI struct {
	completeFn     func(ctx context.Context, system, user string) (string, error)
	generateJSONFn func(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
	embedFn        func(ctx context.Context, inputs []string) ([][]float32, error)

	completeCalls     atomic.Int64
	generateJSONCalls atomic.Int64
	embedCalls        atomic.Int64
}

func (f *fakeAI) Complete(ctx context.Context, system, user string) (string, error) {
	f.completeCalls.Add(1)
	if f.completeFn == nil {
		return "", fmt.Errorf("unexpected Complete call")
	}
	return f.completeFn(ctx, system, user)
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.generateJSONCalls.Add(1)
	if f.generateJSONFn == nil {
		return nil, fmt.Errorf("unexpected GenerateJSON call")
	}
	return f.generateJSONFn(ctx, system, user, schemaName, schema)
}

func (f *fakeAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.embedCalls.Add(1)
	if f.embedFn == nil {
		return nil, fmt.Errorf("unexpected Embed call")
	}
	return f.embedFn(ctx, inputs)
}

func questionResponse(questions ...string) map[string]any {
	list := make([]any, 0, len(questions))
	for _, q := range questions {
		list = append(list, map[string]any{
			"question": q,
			"answer":   "an answer",
		})
	}
	return map[string]any{"questions": list}
}
