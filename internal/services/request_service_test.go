package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quizstream/quizstream-worker/internal/clients/rabbitmq"
	"github.com/quizstream/quizstream-worker/internal/logger"
	"github.com/quizstream/quizstream-worker/internal/quizgen"
	"github.com/quizstream/quizstream-worker/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// fakeRequestRepo keeps rows in memory; the claim is a mutex-guarded
// compare-and-swap, so it exercises the same winner-takes-all contract as the
// row-locked SQL version.
type fakeRequestRepo struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*types.QuizRequest
	mappings []*types.UserQuiz

	markFinishedErr error
	markFailedErr   error
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{rows: map[uuid.UUID]*types.QuizRequest{}}
}

func (r *fakeRequestRepo) seed(req *types.QuizRequest) *types.QuizRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.rows[req.ID] = req
	return req
}

func (r *fakeRequestRepo) get(id uuid.UUID) types.QuizRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

func (r *fakeRequestRepo) Create(_ context.Context, req *types.QuizRequest) (*types.QuizRequest, error) {
	return r.seed(req), nil
}

func (r *fakeRequestRepo) GetByUserAndName(_ context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.QuizName == quizName {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRequestRepo) Requeue(_ context.Context, id uuid.UUID, retry *types.QuizRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	row.Status = types.StatusQueued
	row.QuizID = nil
	row.MessageInt = ""
	row.MessageExt = ""
	if retry != nil {
		row.VideoURL = retry.VideoURL
		row.Language = retry.Language
		row.Difficulty = retry.Difficulty
		row.Type = retry.Type
	}
	return nil
}

func (r *fakeRequestRepo) ClaimForProcessing(_ context.Context, userID uuid.UUID, quizName string) (*types.QuizRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID != userID || row.QuizName != quizName {
			continue
		}
		copied := *row
		if row.Status != types.StatusQueued {
			return &copied, false, nil
		}
		row.Status = types.StatusProcessing
		copied.Status = types.StatusProcessing
		return &copied, true, nil
	}
	return nil, false, nil
}

func (r *fakeRequestRepo) MarkFinished(_ context.Context, id uuid.UUID, quizID uuid.UUID, mapping *types.UserQuiz, messageInt, messageExt string) error {
	if r.markFinishedErr != nil {
		return r.markFinishedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	row.Status = types.StatusFinished
	row.QuizID = &quizID
	row.MessageInt = messageInt
	row.MessageExt = messageExt
	if mapping != nil {
		r.mappings = append(r.mappings, mapping)
	}
	return nil
}

func (r *fakeRequestRepo) MarkFailed(_ context.Context, id uuid.UUID, messageInt, messageExt string) error {
	if r.markFailedErr != nil {
		return r.markFailedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	row.Status = types.StatusFailed
	row.QuizID = nil
	row.MessageInt = messageInt
	row.MessageExt = messageExt
	return nil
}

type fakePipeline struct {
	fn    func(ctx context.Context, req quizgen.Request) (uuid.UUID, []string, error)
	calls atomic.Int64
}

func (p *fakePipeline) GenerateQuiz(ctx context.Context, req quizgen.Request) (uuid.UUID, []string, error) {
	p.calls.Add(1)
	if p.fn == nil {
		return uuid.New(), []string{"q1", "q2", "q3"}, nil
	}
	return p.fn(ctx, req)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []rabbitmq.QuizRequestMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg rabbitmq.QuizRequestMessage) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.RequestStatus
}

func (n *recordingNotifier) record(s types.RequestStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, s)
}

func (n *recordingNotifier) RequestQueued(_ context.Context, _ *types.QuizRequest) {
	n.record(types.StatusQueued)
}
func (n *recordingNotifier) RequestProcessing(_ context.Context, _ *types.QuizRequest) {
	n.record(types.StatusProcessing)
}
func (n *recordingNotifier) RequestFinished(_ context.Context, _ *types.QuizRequest) {
	n.record(types.StatusFinished)
}
func (n *recordingNotifier) RequestFailed(_ context.Context, _ *types.QuizRequest) {
	n.record(types.StatusFailed)
}

func seedQueued(repo *fakeRequestRepo) *types.QuizRequest {
	return repo.seed(&types.QuizRequest{
		UserID:     uuid.New(),
		QuizName:   "biology-basics",
		VideoURL:   "https://youtube.com/watch?v=xyz",
		Language:   types.LanguageEN,
		Difficulty: types.DifficultyEasy,
		Type:       types.TypeMultipleChoice,
		Status:     types.StatusQueued,
	})
}

func messageFor(req *types.QuizRequest) rabbitmq.QuizRequestMessage {
	return rabbitmq.QuizRequestMessage{
		UserID:     req.UserID,
		QuizName:   req.QuizName,
		VideoURL:   req.VideoURL,
		Language:   req.Language,
		Difficulty: req.Difficulty,
		Type:       req.Type,
	}
}

func TestProcess_Success(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	quizID := uuid.New()
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		return quizID, []string{"a", "b", "c"}, nil
	}}
	notifier := &recordingNotifier{}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, notifier, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	row := repo.get(req.ID)
	if row.Status != types.StatusFinished {
		t.Fatalf("request ended %s, want FINISHED", row.Status)
	}
	if row.QuizID == nil || *row.QuizID != quizID {
		t.Fatalf("quiz id not recorded on the request")
	}
	if row.MessageInt != "Quiz generated with 3 questions" || row.MessageExt != "Quiz generated successfully" {
		t.Fatalf("unexpected messages %q / %q", row.MessageInt, row.MessageExt)
	}
	if len(repo.mappings) != 1 || repo.mappings[0].QuizID != quizID || repo.mappings[0].NumQuestions != 3 {
		t.Fatalf("user quiz mapping not written: %+v", repo.mappings)
	}
	if len(notifier.events) != 2 || notifier.events[0] != types.StatusProcessing || notifier.events[1] != types.StatusFinished {
		t.Fatalf("unexpected notification sequence %v", notifier.events)
	}
}

func TestProcess_ConcurrentRedeliveryRunsPipelineOnce(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		time.Sleep(20 * time.Millisecond)
		return uuid.New(), []string{"q"}, nil
	}}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Process(context.Background(), messageFor(req))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d returned %v; redeliveries must be acknowledged", i, err)
		}
	}
	if got := pipe.calls.Load(); got != 1 {
		t.Fatalf("pipeline ran %d times for duplicate deliveries, want 1", got)
	}
	if row := repo.get(req.ID); row.Status != types.StatusFinished {
		t.Fatalf("request ended %s, want FINISHED", row.Status)
	}
}

func TestProcess_UnknownRequestDropped(t *testing.T) {
	repo := newFakeRequestRepo()
	pipe := &fakePipeline{}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, time.Minute)

	err := svc.Process(context.Background(), rabbitmq.QuizRequestMessage{
		UserID:   uuid.New(),
		QuizName: "never-created",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if pipe.calls.Load() != 0 {
		t.Fatalf("pipeline ran for an unknown request")
	}
}

func TestProcess_PipelineErrorRecordsDualMessages(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		return uuid.Nil, nil, quizgen.NewError(quizgen.KindFetch, nil,
			"transcript fetch for https://youtube.com/watch?v=xyz failed: no captions",
			"Error fetching video transcript.")
	}}
	notifier := &recordingNotifier{}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, notifier, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err != nil {
		t.Fatalf("Process should ack after recording the terminal state, got %v", err)
	}

	row := repo.get(req.ID)
	if row.Status != types.StatusFailed {
		t.Fatalf("request ended %s, want FAILED", row.Status)
	}
	if !strings.Contains(row.MessageInt, "no captions") {
		t.Fatalf("internal message lost the diagnostic: %q", row.MessageInt)
	}
	if row.MessageExt != "Error fetching video transcript." {
		t.Fatalf("unexpected external message %q", row.MessageExt)
	}
	if notifier.events[len(notifier.events)-1] != types.StatusFailed {
		t.Fatalf("failure was not notified: %v", notifier.events)
	}
}

func TestProcess_UnknownErrorGetsGenericExternalMessage(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		return uuid.Nil, nil, fmt.Errorf("provider rejected key sk-leakedsecret1234")
	}}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	row := repo.get(req.ID)
	if row.MessageExt != "Unexpected error while generating the quiz." {
		t.Fatalf("unexpected external message %q", row.MessageExt)
	}
	if strings.Contains(row.MessageInt, "sk-leakedsecret1234") {
		t.Fatalf("internal message leaked an API key: %q", row.MessageInt)
	}
}

func TestProcess_TimeoutEndsFailed(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	pipe := &fakePipeline{fn: func(ctx context.Context, _ quizgen.Request) (uuid.UUID, []string, error) {
		<-ctx.Done()
		return uuid.Nil, nil, ctx.Err()
	}}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, 10*time.Millisecond)

	if err := svc.Process(context.Background(), messageFor(req)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	row := repo.get(req.ID)
	if row.Status != types.StatusFailed {
		t.Fatalf("request ended %s, want FAILED", row.Status)
	}
	if row.MessageExt != "Quiz generation timed out. Try a shorter video." {
		t.Fatalf("unexpected external message %q", row.MessageExt)
	}
}

func TestProcess_PanicEndsFailed(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		panic("nil dereference in a parser")
	}}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	row := repo.get(req.ID)
	if row.Status != types.StatusFailed {
		t.Fatalf("request ended %s, want FAILED", row.Status)
	}
	if !strings.Contains(row.MessageInt, "panic") {
		t.Fatalf("internal message missing the panic diagnostic: %q", row.MessageInt)
	}
}

func TestProcess_TerminalWriteFailurePropagates(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	repo.markFailedErr = fmt.Errorf("connection refused")
	pipe := &fakePipeline{fn: func(context.Context, quizgen.Request) (uuid.UUID, []string, error) {
		return uuid.Nil, nil, fmt.Errorf("boom")
	}}
	svc := NewRequestService(testLogger(t), repo, pipe, &fakePublisher{}, nil, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err == nil {
		t.Fatalf("expected an error when the terminal state cannot be recorded")
	}
}

func TestProcess_MarkFinishedFailurePropagates(t *testing.T) {
	repo := newFakeRequestRepo()
	req := seedQueued(repo)
	repo.markFinishedErr = fmt.Errorf("connection refused")
	svc := NewRequestService(testLogger(t), repo, &fakePipeline{}, &fakePublisher{}, nil, time.Minute)

	if err := svc.Process(context.Background(), messageFor(req)); err == nil {
		t.Fatalf("expected an error when the success state cannot be recorded")
	}
}

func TestEnqueue_NewRequest(t *testing.T) {
	repo := newFakeRequestRepo()
	pub := &fakePublisher{}
	notifier := &recordingNotifier{}
	svc := NewRequestService(testLogger(t), repo, &fakePipeline{}, pub, notifier, time.Minute)

	req := &types.QuizRequest{
		UserID:     uuid.New(),
		QuizName:   "chemistry-201",
		VideoURL:   "https://youtube.com/watch?v=abc",
		Language:   types.LanguageDE,
		Difficulty: types.DifficultyHard,
		Type:       types.TypeMultipleChoice,
	}
	out, err := svc.Enqueue(context.Background(), req, map[string]string{"OPENAI_API_KEY": "sk-user12345678"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if out.Status != types.StatusQueued {
		t.Fatalf("request status %s, want QUEUED", out.Status)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.QuizName != "chemistry-201" || msg.Language != types.LanguageDE || msg.APIKeys["OPENAI_API_KEY"] != "sk-user12345678" {
		t.Fatalf("published message lost fields: %+v", msg)
	}
	if len(notifier.events) != 1 || notifier.events[0] != types.StatusQueued {
		t.Fatalf("unexpected notifications %v", notifier.events)
	}
}

func TestEnqueue_InvalidInputRejected(t *testing.T) {
	repo := newFakeRequestRepo()
	pub := &fakePublisher{}
	svc := NewRequestService(testLogger(t), repo, &fakePipeline{}, pub, nil, time.Minute)

	bad := []*types.QuizRequest{
		nil,
		{QuizName: "no-user", VideoURL: "https://youtube.com/watch?v=abc", Language: types.LanguageEN, Difficulty: types.DifficultyEasy},
		{UserID: uuid.New(), VideoURL: "https://youtube.com/watch?v=abc", Language: types.LanguageEN, Difficulty: types.DifficultyEasy},
		{UserID: uuid.New(), QuizName: "no-url", Language: types.LanguageEN, Difficulty: types.DifficultyEasy},
		{UserID: uuid.New(), QuizName: "bad-difficulty", VideoURL: "https://youtube.com/watch?v=abc", Language: types.LanguageEN, Difficulty: "BRUTAL"},
		{UserID: uuid.New(), QuizName: "bad-language", VideoURL: "https://youtube.com/watch?v=abc", Language: "FR", Difficulty: types.DifficultyEasy},
	}
	for i, req := range bad {
		if _, err := svc.Enqueue(context.Background(), req, nil); err == nil {
			t.Fatalf("case %d: invalid request accepted", i)
		}
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("invalid requests were published")
	}
}

func TestEnqueue_DuplicateLiveRequestRejected(t *testing.T) {
	repo := newFakeRequestRepo()
	existing := seedQueued(repo)
	pub := &fakePublisher{}
	svc := NewRequestService(testLogger(t), repo, &fakePipeline{}, pub, nil, time.Minute)

	_, err := svc.Enqueue(context.Background(), &types.QuizRequest{
		UserID:     existing.UserID,
		QuizName:   existing.QuizName,
		VideoURL:   existing.VideoURL,
		Language:   types.LanguageEN,
		Difficulty: types.DifficultyEasy,
		Type:       types.TypeMultipleChoice,
	}, nil)
	if !quizgen.IsKind(err, quizgen.KindDuplicateName) {
		t.Fatalf("expected a duplicate-name error, got %v", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("duplicate request was still published")
	}
}

func TestEnqueue_FailedRequestIsRequeued(t *testing.T) {
	repo := newFakeRequestRepo()
	existing := seedQueued(repo)
	repo.rows[existing.ID].Status = types.StatusFailed
	repo.rows[existing.ID].MessageExt = "Error fetching video transcript."
	pub := &fakePublisher{}
	svc := NewRequestService(testLogger(t), repo, &fakePipeline{}, pub, nil, time.Minute)

	out, err := svc.Enqueue(context.Background(), &types.QuizRequest{
		UserID:     existing.UserID,
		QuizName:   existing.QuizName,
		VideoURL:   "https://youtube.com/watch?v=retry",
		Language:   types.LanguageES,
		Difficulty: types.DifficultyHard,
		Type:       types.TypeMultipleChoice,
	}, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if out.ID != existing.ID {
		t.Fatalf("requeue created a new row instead of reusing %s", existing.ID)
	}
	row := repo.get(existing.ID)
	if row.Status != types.StatusQueued || row.MessageExt != "" {
		t.Fatalf("failed request not reset: status=%s ext=%q", row.Status, row.MessageExt)
	}
	// The row must describe the retry, not the original attempt.
	if row.VideoURL != "https://youtube.com/watch?v=retry" {
		t.Fatalf("row still records the old video url %q", row.VideoURL)
	}
	if row.Language != types.LanguageES || row.Difficulty != types.DifficultyHard {
		t.Fatalf("row kept the old parameters: language=%s difficulty=%s", row.Language, row.Difficulty)
	}
	if out.VideoURL != row.VideoURL || out.Language != row.Language || out.Difficulty != row.Difficulty {
		t.Fatalf("returned request diverges from the stored row: %+v vs %+v", out, row)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].VideoURL != "https://youtube.com/watch?v=retry" || pub.msgs[0].Language != types.LanguageES {
		t.Fatalf("requeued message not published with the retry parameters: %+v", pub.msgs)
	}
}
