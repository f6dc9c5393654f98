package quizgen

import (
	"fmt"
	"strings"

	"github.com/quizstream/quizstream-worker/internal/types"
)

// Prompts are built fresh per call. The generation prompt folds the attempt
// number in, so a retry after malformed output is not a blind resubmission.

const qaGenerationSystem = `You are a quiz author. Given a fragment of a video transcript, write multiple-choice quiz questions that can be answered from the fragment alone.
Return strictly valid JSON matching the requested schema: an object with a "questions" array, where each entry has a "question" string and an "answer" string.
Do not include explanations or any text outside the JSON object.`

func qaGenerationUser(chunkText string, difficulty types.QuizDifficulty, language types.QuizLanguage, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one or more %s difficulty quiz questions in %s about the following transcript fragment.\n", difficulty, languageName(language))
	if attempt > 1 {
		fmt.Fprintf(&b, "This is attempt %d; the previous output could not be parsed. Respond with only the JSON object.\n", attempt)
	}
	b.WriteString("\nTranscript fragment:\n\"\"\"\n")
	b.WriteString(chunkText)
	b.WriteString("\n\"\"\"")
	return b.String()
}

// qaGenerationSchema is the structured-output schema for question generation.
func qaGenerationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"answer":   map[string]any{"type": "string"},
					},
					"required":             []string{"question", "answer"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}
}

const summarySystemPrompt = `You summarize video transcripts.`

func summaryUserPrompt(transcript string) string {
	return fmt.Sprintf(`Write a very concise summary of about 3 to 4 sentences of the following text and in the same language:
"%s"
CONCISE SUMMARY:`, transcript)
}

const relevancySystem = `You grade quiz questions for relevance. Reply with a single number between 0 and 10 and nothing else. 0 means the question is unrelated to the video or unanswerable; 10 means it is central and well-posed for the requested difficulty and language.`

func relevancyUser(c Candidate, summary string, difficulty types.QuizDifficulty, language types.QuizLanguage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video summary:\n%s\n\n", summary)
	fmt.Fprintf(&b, "Quiz question (%s, %s):\n%s\n", difficulty, languageName(language), c.Question)
	if len(c.Answers) > 0 {
		fmt.Fprintf(&b, "Accepted answers: %s\n", strings.Join(c.Answers, "; "))
	}
	b.WriteString("\nGrade:")
	return b.String()
}

func languageName(l types.QuizLanguage) string {
	switch l {
	case types.LanguageES:
		return "Spanish"
	case types.LanguageDE:
		return "German"
	default:
		return "English"
	}
}
