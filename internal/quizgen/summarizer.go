package quizgen

import (
	"context"
	"errors"
	"strings"

	"github.com/quizstream/quizstream-worker/internal/clients/openai"
	"github.com/quizstream/quizstream-worker/internal/logger"
)

type Summarizer struct {
	log *logger.Logger
	ai  ReasoningClient
}

func NewSummarizer(log *logger.Logger, ai ReasoningClient) *Summarizer {
	return &Summarizer{
		log: log.With("component", "Summarizer"),
		ai:  ai,
	}
}

// Summarize produces a short synopsis of the full transcript. The summary is
// a hard dependency for ranking, so every failure aborts the pipeline.
func (s *Summarizer) Summarize(ctx context.Context, meta VideoMetadata) (string, error) {
	out, err := s.ai.Complete(ctx, summarySystemPrompt, summaryUserPrompt(meta.Transcript))
	if err != nil {
		var authErr *openai.AuthError
		if errors.As(err, &authErr) {
			return "", NewError(KindInvalidCredentials, err,
				err.Error(),
				"Invalid OpenAI API key provided.")
		}
		if errors.Is(err, openai.ErrMissingAPIKey) {
			return "", NewError(KindMissingCredentials, err,
				"no OpenAI API key provided",
				"No OpenAI API key provided.")
		}
		return "", NewError(KindProvider, err,
			"summarization failed: "+err.Error(),
			"Error summarizing video transcript.")
	}
	return strings.TrimSpace(out), nil
}
