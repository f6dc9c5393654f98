package quizgen

import (
	"strings"
	"unicode/utf8"

	"github.com/quizstream/quizstream-worker/internal/types"
)

// chunkOverlap is the fixed number of characters shared by consecutive
// chunks, so a sentence cut at a boundary still appears whole in one window.
const chunkOverlap = 20

// chunkSizeFor maps difficulty to window size: the model gets more context to
// write hard questions than easy ones.
func chunkSizeFor(difficulty types.QuizDifficulty) int {
	switch difficulty {
	case types.DifficultyEasy:
		return 500
	case types.DifficultyMedium:
		return 750
	default:
		return 1000
	}
}

// ChunkTranscript splits the transcript into overlapping windows sized by
// difficulty. Each chunk records absolute offsets into the source text with
// EndIndex == StartIndex + len(Text). The split is deterministic; an empty
// transcript yields an empty slice, which the caller treats as a generation
// failure.
func ChunkTranscript(tr Transcript, difficulty types.QuizDifficulty) ([]Chunk, VideoMetadata) {
	meta := VideoMetadata{
		Title:      tr.Title,
		Author:     tr.Author,
		SourceURL:  tr.SourceURL,
		LengthSec:  tr.LengthSec,
		Transcript: tr.Text,
	}

	text := tr.Text
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, meta
	}

	size := chunkSizeFor(difficulty)
	chunks := []Chunk{}
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = splitPoint(text, start, end)
		}
		chunks = append(chunks, Chunk{
			Text:       text[start:end],
			StartIndex: start,
			EndIndex:   end,
		})
		if end == len(text) {
			break
		}
		next := runeFloor(text, end-chunkOverlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks, meta
}

// splitPoint picks a break inside (start, limit]: the last paragraph break,
// line break, or space in the window, provided it keeps the chunk at least
// half full. Falls back to a hard cut at the limit.
func splitPoint(text string, start, limit int) int {
	window := text[start:limit]
	minFill := len(window) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if idx := strings.LastIndex(window, sep); idx >= minFill {
			return start + idx + len(sep)
		}
	}
	return runeFloor(text, limit)
}

// runeFloor backs pos off to the nearest rune boundary at or before it, so a
// hard cut never splits a multi-byte character.
func runeFloor(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}
