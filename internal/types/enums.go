package types

// QuizDifficulty controls how much transcript context each generation call
// receives: harder quizzes use larger windows.
type QuizDifficulty string

const (
	DifficultyEasy   QuizDifficulty = "EASY"
	DifficultyMedium QuizDifficulty = "MEDIUM"
	DifficultyHard   QuizDifficulty = "HARD"
)

type QuizLanguage string

const (
	LanguageEN QuizLanguage = "EN"
	LanguageES QuizLanguage = "ES"
	LanguageDE QuizLanguage = "DE"
)

type QuizType string

const (
	TypeMultipleChoice QuizType = "MULTIPLE_CHOICE"
)

// RequestStatus is the quiz request lifecycle. FINISHED and FAILED are
// terminal; a record never leaves a terminal state.
type RequestStatus string

const (
	StatusCreating   RequestStatus = "CREATING"
	StatusQueued     RequestStatus = "QUEUED"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusFinished   RequestStatus = "FINISHED"
	StatusFailed     RequestStatus = "FAILED"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

func (d QuizDifficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

func (l QuizLanguage) Valid() bool {
	switch l {
	case LanguageEN, LanguageES, LanguageDE:
		return true
	}
	return false
}
