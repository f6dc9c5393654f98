package quizgen

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/quizstream/quizstream-worker/internal/clients/openai"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/types"
)

// topQuestions is K: the number of candidates kept after grading.
const topQuestions = 10

type Ranker struct {
	log *logger.Logger
	ai  ReasoningClient
}

func NewRanker(log *logger.Logger, ai ReasoningClient) *Ranker {
	return &Ranker{
		log: log.With("component", "Ranker"),
		ai:  ai,
	}
}

// Rank grades every candidate against the summary concurrently, drops grades
// of zero or less, and returns at most topQuestions candidates ordered by
// grade descending. The sort is stable: candidates with equal grades keep
// their original relative order.
func (r *Ranker) Rank(ctx context.Context, candidates []Candidate, summary string, difficulty types.QuizDifficulty, language types.QuizLanguage) ([]Candidate, error) {
	if len(candidates) == 0 {
		return []Candidate{}, nil
	}

	grades := make([]float64, len(candidates))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		i, cand := i, cand
		eg.Go(func() error {
			out, err := r.ai.Complete(egCtx, relevancySystem, relevancyUser(cand, summary, difficulty, language))
			if err != nil {
				return err
			}
			grade, perr := strconv.ParseFloat(strings.TrimSpace(out), 64)
			if perr != nil {
				// An unparseable grade drops the candidate rather than
				// failing the whole quiz.
				r.log.Warn("Unparseable relevancy grade, dropping candidate",
					"grade_text", out, "question_id", cand.ID)
				grades[i] = 0
				return nil
			}
			grades[i] = grade
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
		return nil, NewError(KindProvider, err,
			"relevancy grading failed: "+err.Error(),
			"Error filtering for best quiz questions.")
	}

	graded := make([]Candidate, 0, len(candidates))
	for i, cand := range candidates {
		if grades[i] <= 0 {
			continue
		}
		cand.Grade = grades[i]
		graded = append(graded, cand)
	}

	sort.SliceStable(graded, func(i, j int) bool {
		return graded[i].Grade > graded[j].Grade
	})

	if len(graded) > topQuestions {
		graded = graded[:topQuestions]
	}
	return graded, nil
}
