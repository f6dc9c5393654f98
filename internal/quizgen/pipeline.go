package quizgen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/quizstream/quizstream-worker/internal/clients/openai"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// TranscriptSource fetches the transcript for a video in the requested
// language, plus provenance metadata.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoURL string, language types.QuizLanguage) (Transcript, error)
}

// CollectionStore is the persistence sink for finished quizzes. Both calls
// surface duplicate names as a duplicate-name pipeline error; CreateCollection
// is atomic — readers never observe a partially written collection.
type CollectionStore interface {
	AssertNameAvailable(ctx context.Context, userID uuid.UUID, name string) error
	CreateCollection(ctx context.Context, name string, questions []Candidate, meta VideoMetadata, embeddings [][]float32) (uuid.UUID, []string, error)
}

// ClientFactory builds a reasoning client bound to one job's credential.
type ClientFactory func(apiKey string) (ReasoningClient, error)

// DefaultKeySentinel marks a caller-supplied key that should fall back to the
// configured default.
const DefaultKeySentinel = "default key"

type Pipeline struct {
	log           *logger.Logger
	source        TranscriptSource
	store         CollectionStore
	newClient     ClientFactory
	defaultAPIKey string
}

func NewPipeline(log *logger.Logger, source TranscriptSource, store CollectionStore, newClient ClientFactory, defaultAPIKey string) *Pipeline {
	return &Pipeline{
		log:           log.With("component", "Pipeline"),
		source:        source,
		store:         store,
		newClient:     newClient,
		defaultAPIKey: defaultAPIKey,
	}
}

// GenerateQuiz runs one job end to end: pre-flight name check, transcript
// fetch, chunking, summarization, fan-out generation, relevancy ranking, and
// the final collection write. The name check happens before any reasoning
// call so a duplicate costs nothing.
func (p *Pipeline) GenerateQuiz(ctx context.Context, req Request) (uuid.UUID, []string, error) {
	log := p.log.With("quiz_name", req.QuizName, "user_id", req.UserID)

	if err := p.store.AssertNameAvailable(ctx, req.UserID, req.QuizName); err != nil {
		return uuid.Nil, nil, err
	}

	apiKey, err := p.resolveAPIKey(req.APIKeys)
	if err != nil {
		return uuid.Nil, nil, err
	}
	ai, err := p.newClient(apiKey)
	if err != nil {
		if errors.Is(err, openai.ErrMissingAPIKey) {
			return uuid.Nil, nil, NewError(KindMissingCredentials, err,
				"no OpenAI API key provided",
				"No OpenAI API key provided.")
		}
		return uuid.Nil, nil, NewError(KindProvider, err,
			"reasoning client init failed: "+err.Error(),
			"Error initializing the reasoning service.")
	}

	transcript, err := p.source.Fetch(ctx, req.VideoURL, req.Language)
	if err != nil {
		return uuid.Nil, nil, NewError(KindFetch, err,
			fmt.Sprintf("transcript fetch for %s failed: %v", req.VideoURL, err),
			"Error fetching video transcript.")
	}

	chunks, meta := ChunkTranscript(transcript, req.Difficulty)
	log.Debug("Chunked transcript", "chunks", len(chunks), "transcript_len", len(transcript.Text))

	summary, err := NewSummarizer(p.log, ai).Summarize(ctx, meta)
	if err != nil {
		return uuid.Nil, nil, err
	}
	meta.Description = summary

	candidates, err := NewGenerator(p.log, ai).Generate(ctx, chunks, req.Difficulty, req.Language)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if len(candidates) == 0 {
		return uuid.Nil, nil, NewError(KindNoQuestions, nil,
			fmt.Sprintf("found %d chunks but generated 0 quiz questions; chunk lengths: %s",
				len(chunks), chunkLengths(chunks)),
			"No questions could be generated. Try another video or settings.")
	}
	if len(candidates) < len(chunks) {
		log.Warn("Generated fewer questions than chunks",
			"questions", len(candidates), "chunks", len(chunks))
	}

	final, err := NewRanker(p.log, ai).Rank(ctx, candidates, summary, req.Difficulty, req.Language)
	if err != nil {
		return uuid.Nil, nil, err
	}

	texts := make([]string, len(final))
	for i, c := range final {
		texts[i] = c.Question
	}
	embeddings, err := ai.Embed(ctx, texts)
	if err != nil {
		var authErr *openai.AuthError
		if errors.As(err, &authErr) {
			return uuid.Nil, nil, NewError(KindInvalidCredentials, err,
				err.Error(),
				"Invalid OpenAI API key provided.")
		}
		return uuid.Nil, nil, NewError(KindProvider, err,
			"question embedding failed: "+err.Error(),
			"Error preparing quiz questions for storage.")
	}

	collectionID, docIDs, err := p.store.CreateCollection(ctx, req.QuizName, final, meta, embeddings)
	if err != nil {
		if _, ok := AsError(err); ok {
			return uuid.Nil, nil, err
		}
		return uuid.Nil, nil, NewError(KindPersistence, err,
			"collection write failed: "+err.Error(),
			"Error saving the generated quiz.")
	}

	log.Info("Quiz generated", "collection_id", collectionID, "questions", len(docIDs))
	return collectionID, docIDs, nil
}

// resolveAPIKey applies the documented precedence: a real caller-supplied key
// wins; the sentinel or an absent key falls back to the configured default.
func (p *Pipeline) resolveAPIKey(apiKeys map[string]string) (string, error) {
	key := strings.TrimSpace(apiKeys["OPENAI_API_KEY"])
	if key == "" || strings.Contains(key, DefaultKeySentinel) {
		key = strings.TrimSpace(p.defaultAPIKey)
	}
	if key == "" {
		return "", NewError(KindMissingCredentials, nil,
			"no OpenAI API key provided and no default configured",
			"No OpenAI API key provided.")
	}
	return key, nil
}

func chunkLengths(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("%d", len(c.Text))
	}
	return strings.Join(parts, ", ")
}
