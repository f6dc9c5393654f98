package quizgen

import (
	"github.com/google/uuid"

	"github.com/quizstream/quizstream-worker/internal/types"
)

// Transcript is the raw fetched transcript plus provenance. It is ephemeral:
// produced once per request and folded into the collection metadata.
type Transcript struct {
	Text        string
	Title       string
	Author      string
	Description string
	SourceURL   string
	LengthSec   int
}

// Chunk is a contiguous transcript window. EndIndex is always
// StartIndex + len(Text), both absolute offsets into the source transcript.
type Chunk struct {
	Text       string
	StartIndex int
	EndIndex   int
}

// VideoMetadata is the transcript provenance with the full transcript text
// merged in; the summarizer fills Description.
type VideoMetadata struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	SourceURL   string `json:"source_url"`
	LengthSec   int    `json:"length_sec"`
	Transcript  string `json:"transcript"`
	Description string `json:"description"`
}

// Candidate is one generated question before or after grading. Grade starts
// at zero and is only assigned by the ranker.
type Candidate struct {
	ID         uuid.UUID
	Question   string
	Answers    []string
	Grade      float64
	ChunkText  string
	StartIndex int
	EndIndex   int
}

// Request is everything the pipeline needs for one job.
type Request struct {
	UserID     uuid.UUID
	QuizName   string
	VideoURL   string
	Language   types.QuizLanguage
	Difficulty types.QuizDifficulty
	Type       types.QuizType
	APIKeys    map[string]string
}
