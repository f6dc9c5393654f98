package quizgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quizstream/quizstream-worker/internal/clients/openai"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// ReasoningClient is the slice of the provider client the pipeline needs.
// Satisfied by clients/openai.Client; tests plug in fakes.
type ReasoningClient interface {
	Complete(ctx context.Context, system string, user string) (string, error)
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

const generationMaxAttempts = 3

type Generator struct {
	log *logger.Logger
	ai  ReasoningClient
}

func NewGenerator(log *logger.Logger, ai ReasoningClient) *Generator {
	return &Generator{
		log: log.With("component", "Generator"),
		ai:  ai,
	}
}

// Generate fans question generation out over all chunks concurrently and
// flattens the results in chunk order. A chunk that never produces usable
// output contributes nothing; a hard provider failure aborts the whole call.
func (g *Generator) Generate(ctx context.Context, chunks []Chunk, difficulty types.QuizDifficulty, language types.QuizLanguage) ([]Candidate, error) {
	results := make([][]Candidate, len(chunks))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		eg.Go(func() error {
			cands, err := g.generateFromChunk(egCtx, chunk, difficulty, language)
			if err != nil {
				return err
			}
			results[i] = cands
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		var authErr *openai.AuthError
		if errors.As(err, &authErr) {
			return nil, NewError(KindInvalidCredentials, err,
				err.Error(),
				"Invalid OpenAI API key provided.")
		}
		return nil, NewError(KindGeneration, err,
			fmt.Sprintf("question generation failed: %v", err),
			"Error generating quiz questions.")
	}

	out := []Candidate{}
	for _, cands := range results {
		out = append(out, cands...)
	}
	return out, nil
}

// generateFromChunk asks for questions up to generationMaxAttempts times.
// Malformed output is retried with the attempt number folded into the next
// prompt; a chunk that never parses yields an empty slice, not an error.
func (g *Generator) generateFromChunk(ctx context.Context, chunk Chunk, difficulty types.QuizDifficulty, language types.QuizLanguage) ([]Candidate, error) {
	for attempt := 1; attempt <= generationMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		obj, err := g.ai.GenerateJSON(ctx,
			qaGenerationSystem,
			qaGenerationUser(chunk.Text, difficulty, language, attempt),
			"quiz_questions",
			qaGenerationSchema(),
		)
		if err != nil {
			if errors.Is(err, openai.ErrMalformedOutput) {
				g.log.Debug("Retrying chunk after malformed output",
					"attempt", attempt, "start_index", chunk.StartIndex)
				continue
			}
			return nil, err
		}

		cands, perr := candidatesFromResponse(obj, chunk)
		if perr != nil {
			g.log.Debug("Retrying chunk after unexpected response shape",
				"attempt", attempt, "start_index", chunk.StartIndex, "error", perr)
			continue
		}
		if len(cands) > 0 {
			return cands, nil
		}
	}
	return []Candidate{}, nil
}

func candidatesFromResponse(obj map[string]any, chunk Chunk) ([]Candidate, error) {
	raw, ok := obj["questions"]
	if !ok {
		return nil, fmt.Errorf("missing questions field")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("questions is %T, expected array", raw)
	}

	out := make([]Candidate, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("question entry is %T, expected object", item)
		}
		question, _ := entry["question"].(string)
		if question == "" {
			return nil, fmt.Errorf("question entry missing question text")
		}
		answers, err := answersFromEntry(entry["answer"])
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			ID:         uuid.New(),
			Question:   question,
			Answers:    answers,
			ChunkText:  chunk.Text,
			StartIndex: chunk.StartIndex,
			EndIndex:   chunk.EndIndex,
		})
	}
	return out, nil
}

// answersFromEntry accepts a single string or a list of strings; models emit
// both shapes.
func answersFromEntry(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil, fmt.Errorf("empty answer")
		}
		return []string{t}, nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("empty answer list")
		}
		out := make([]string, 0, len(t))
		for _, a := range t {
			s, ok := a.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("answer entry is %T, expected string", a)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("answer is %T, expected string or list", v)
	}
}
