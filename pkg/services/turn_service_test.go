package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittipat-v/genchat/pkg/chunkloop"
	"github.com/kittipat-v/genchat/pkg/domain"
	"github.com/kittipat-v/genchat/pkg/repository"
)

type stubClassifier struct {
	intent domain.ToolIntent
}

func (s stubClassifier) Classify(string) domain.ToolIntent { return s.intent }

type fakeRunner struct {
	fn func(ctx context.Context, req chunkloop.Request) (chunkloop.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, req chunkloop.Request) (chunkloop.Result, error) {
	return f.fn(ctx, req)
}

func replyWith(text string) *fakeRunner {
	return &fakeRunner{fn: func(context.Context, chunkloop.Request) (chunkloop.Result, error) {
		return chunkloop.Result{Text: text, State: domain.TurnCompleted, Chunks: 1}, nil
	}}
}

func newTestCoordinator(t *testing.T, runner ChunkRunner, cfg TurnCoordinatorConfig) (*TurnCoordinator, TranscriptStore) {
	t.Helper()
	store := repository.NewMemoryTranscriptRepository()
	c := NewTurnCoordinator(store, stubClassifier{intent: domain.IntentNone}, runner, nil, cfg, "s1", "owner")
	return c, store
}

func fastConfig() TurnCoordinatorConfig {
	return TurnCoordinatorConfig{ThrottleInterval: time.Nanosecond}
}

func TestSendAppendsBothRepresentations(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, replyWith("สวัสดีครับ มีอะไรให้ช่วยไหม"), fastConfig())

	require.NoError(t, c.Send(ctx, "สวัสดี", nil, ""))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "สวัสดี", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "สวัสดีครับ มีอะไรให้ช่วยไหม", msgs[1].Content)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, msgs[0].ID, session.Messages[0].ID)
	assert.Equal(t, msgs[1].ID, session.Messages[1].ID)
}

func TestSendExtractsStructuredBlocks(t *testing.T) {
	ctx := context.Background()
	reply := "ผลลัพธ์ตามนี้\n```python\nprint(1)\n```\nจบ"
	c, _ := newTestCoordinator(t, replyWith(reply), fastConfig())

	require.NoError(t, c.Send(ctx, "เขียนโค้ดให้หน่อย", nil, ""))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "[[code:0]]")
	require.Len(t, msgs[1].Extracted.CodeBlocks, 1)
	assert.Equal(t, "print(1)", msgs[1].Extracted.CodeBlocks[0].Content)
}

func TestSendSpecialIntentKeepsPlanDocument(t *testing.T) {
	ctx := context.Background()
	reply := "## แผนงาน\n```python\nprint(1)\n```"
	c, _ := newTestCoordinator(t, replyWith(reply), fastConfig())

	require.NoError(t, c.Send(ctx, "วางแผนโครงการ", nil, domain.IntentPlan))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, reply, msgs[1].PlanDocument, "plan output is kept whole, fences included")
	assert.Empty(t, msgs[1].Content)
	assert.Empty(t, msgs[1].Extracted.CodeBlocks)
}

func TestSendEmptyPromptRejectedSilently(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, replyWith("ไม่ควรถูกเรียก"), fastConfig())

	require.NoError(t, c.Send(ctx, "   ", nil, ""))
	assert.Empty(t, c.Messages())
}

func TestSendThrottled(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, replyWith("ตอบ"), TurnCoordinatorConfig{ThrottleInterval: time.Hour})

	require.NoError(t, c.Send(ctx, "คำถามแรก", nil, ""))
	require.NoError(t, c.Send(ctx, "คำถามที่สองเร็วเกินไป", nil, ""))

	msgs := c.Messages()
	require.Len(t, msgs, 2, "the second send is dropped, not queued")
	assert.Equal(t, "คำถามแรก", msgs[0].Content)
}

func TestSendUpstreamFailureProducesSyntheticReply(t *testing.T) {
	ctx := context.Background()
	upstreamErr := &domain.UpstreamError{StatusCode: 429, Class: domain.UpstreamRateLimit, Message: "quota"}
	runner := &fakeRunner{fn: func(context.Context, chunkloop.Request) (chunkloop.Result, error) {
		return chunkloop.Result{State: domain.TurnFailed}, upstreamErr
	}}
	c, store := newTestCoordinator(t, runner, fastConfig())

	require.NoError(t, c.Send(ctx, "คำถาม", nil, ""))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, upstreamErr.UserMessage(), msgs[1].Content)
	assert.NotContains(t, msgs[1].Content, "quota", "raw upstream detail stays out of the transcript")

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 2, "the synthetic reply is persisted like any other")
}

func TestSendEmptyCompletionProducesSyntheticReply(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{fn: func(context.Context, chunkloop.Request) (chunkloop.Result, error) {
		return chunkloop.Result{Text: "", State: domain.TurnCompleted}, nil
	}}
	c, _ := newTestCoordinator(t, runner, fastConfig())

	require.NoError(t, c.Send(ctx, "คำถาม", nil, ""))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "ขออภัย")
}

func TestSendHistoryWindow(t *testing.T) {
	ctx := context.Background()
	var seenTurns []domain.PromptTurn
	runner := &fakeRunner{fn: func(_ context.Context, req chunkloop.Request) (chunkloop.Result, error) {
		seenTurns = req.Turns
		return chunkloop.Result{Text: "ตอบ", State: domain.TurnCompleted}, nil
	}}
	c, _ := newTestCoordinator(t, runner, TurnCoordinatorConfig{ThrottleInterval: time.Nanosecond, HistoryWindow: 4})

	for _, prompt := range []string{"หนึ่ง", "สอง", "สาม", "สี่"} {
		require.NoError(t, c.Send(ctx, prompt, nil, ""))
	}

	require.Len(t, seenTurns, 4, "older turns fall outside the context window")
	assert.Equal(t, "สี่", seenTurns[3].Parts[0].Text)
	assert.Equal(t, "สาม", seenTurns[1].Parts[0].Text)
}

func blockingRunner(started chan<- struct{}) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, _ chunkloop.Request) (chunkloop.Result, error) {
		close(started)
		<-ctx.Done()
		return chunkloop.Result{Text: "บางส่วน", State: domain.TurnCancelled, Chunks: 1}, nil
	}}
}

func TestStopFirstTurnDeletesSession(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	c, store := newTestCoordinator(t, blockingRunner(started), fastConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Send(ctx, "คำถามแรกที่ถูกยกเลิก", nil, ""))
	}()
	<-started

	prompt := c.Stop()
	wg.Wait()

	assert.Equal(t, "คำถามแรกที่ถูกยกเลิก", prompt, "the prompt comes back for the input field")
	assert.Empty(t, c.Messages())

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "a session with no completed turn does not survive")
}

func TestStopLaterTurnRemovesOnlyTrailingTurn(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	runner := &fakeRunner{}
	runner.fn = replyWith("คำตอบแรก").fn
	c, store := newTestCoordinator(t, runner, fastConfig())

	require.NoError(t, c.Send(ctx, "คำถามแรก", nil, ""))

	runner.fn = blockingRunner(started).fn
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Send(ctx, "คำถามที่สอง", nil, ""))
	}()
	<-started

	prompt := c.Stop()
	wg.Wait()

	assert.Equal(t, "คำถามที่สอง", prompt)

	msgs := c.Messages()
	require.Len(t, msgs, 2, "only the cancelled turn is rewound")
	assert.Equal(t, "คำถามแรก", msgs[0].Content)
	assert.Equal(t, "คำตอบแรก", msgs[1].Content)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 2)
}

func TestStopWithoutInFlightTurn(t *testing.T) {
	c, _ := newTestCoordinator(t, replyWith("ตอบ"), fastConfig())
	assert.Empty(t, c.Stop())
}

func TestRegenerateDoesNotDuplicateUserMessage(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	runner.fn = replyWith("คำตอบเดิม").fn
	c, store := newTestCoordinator(t, runner, fastConfig())

	require.NoError(t, c.Send(ctx, "คำถามเดิม", nil, ""))

	runner.fn = replyWith("คำตอบใหม่").fn
	require.NoError(t, c.Regenerate(ctx, 1))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "คำถามเดิม", msgs[0].Content)
	assert.Equal(t, "คำตอบใหม่", msgs[1].Content)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "คำถามเดิม", session.Messages[0].Content)
	assert.Equal(t, "คำตอบใหม่", session.Messages[1].Content)
}

func TestEditSubstitutesPromptText(t *testing.T) {
	ctx := context.Background()
	var lastPrompt string
	runner := &fakeRunner{fn: func(_ context.Context, req chunkloop.Request) (chunkloop.Result, error) {
		lastPrompt = req.Turns[len(req.Turns)-1].Parts[0].Text
		return chunkloop.Result{Text: "ตอบ", State: domain.TurnCompleted}, nil
	}}
	c, _ := newTestCoordinator(t, runner, fastConfig())

	require.NoError(t, c.Send(ctx, "ข้อความก่อนแก้", nil, ""))
	require.NoError(t, c.Edit(ctx, 0, "ข้อความหลังแก้"))

	assert.Equal(t, "ข้อความหลังแก้", lastPrompt)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ข้อความหลังแก้", msgs[0].Content)
}

// remoteStore reports the transcript as remotely owned while delegating to
// the wrapped store.
type remoteStore struct {
	TranscriptStore
}

func (remoteStore) LocallyOwned() bool { return false }

func TestEditConvergesOnRemoteStore(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	runner.fn = replyWith("คำตอบเดิม").fn
	store := remoteStore{repository.NewMemoryTranscriptRepository()}
	c := NewTurnCoordinator(store, stubClassifier{intent: domain.IntentNone}, runner, nil, fastConfig(), "s1", "owner")

	require.NoError(t, c.Send(ctx, "คำถามเดิม", nil, ""))

	runner.fn = replyWith("คำตอบใหม่").fn
	require.NoError(t, c.Edit(ctx, 0, "คำถามที่แก้แล้ว"))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "คำถามที่แก้แล้ว", msgs[0].Content)
	assert.Equal(t, "คำตอบใหม่", msgs[1].Content)

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2, "the rewound turn must not linger in the store")
	assert.Equal(t, "คำถามที่แก้แล้ว", session.Messages[0].Content)
	assert.Equal(t, "คำตอบใหม่", session.Messages[1].Content)
}

func TestRegenerateConvergesOnRemoteStore(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	runner.fn = replyWith("คำตอบเดิม").fn
	store := remoteStore{repository.NewMemoryTranscriptRepository()}
	c := NewTurnCoordinator(store, stubClassifier{intent: domain.IntentNone}, runner, nil, fastConfig(), "s1", "owner")

	require.NoError(t, c.Send(ctx, "คำถามเดิม", nil, ""))

	runner.fn = replyWith("คำตอบใหม่").fn
	require.NoError(t, c.Regenerate(ctx, 1))

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "คำถามเดิม", session.Messages[0].Content)
	assert.Equal(t, "คำตอบใหม่", session.Messages[1].Content)
}

// failingStore rejects every append.
type failingStore struct {
	TranscriptStore
	err error
}

func (f *failingStore) CreateOrAppend(context.Context, string, string, domain.Message) (domain.Message, error) {
	return domain.Message{}, f.err
}

func TestSendStoreFailureKeepsVisibleList(t *testing.T) {
	ctx := context.Background()
	errDown := errors.New("connection refused")
	store := &failingStore{TranscriptStore: repository.NewMemoryTranscriptRepository(), err: errDown}
	c := NewTurnCoordinator(store, stubClassifier{intent: domain.IntentNone}, replyWith("ตอบ"), nil, fastConfig(), "s1", "owner")

	err := c.Send(ctx, "คำถาม", nil, "")

	require.ErrorIs(t, err, errDown, "the storage failure surfaces to the caller")
	msgs := c.Messages()
	require.Len(t, msgs, 1, "the visible user message is not rolled back")
	assert.Equal(t, "คำถาม", msgs[0].Content)
}

// gatedStore stalls the append of one specific assistant message until the
// test releases it.
type gatedStore struct {
	TranscriptStore
	gateContent string
	persisting  chan struct{}
	release     chan struct{}
}

func (g *gatedStore) CreateOrAppend(ctx context.Context, sessionID, ownerID string, msg domain.Message) (domain.Message, error) {
	if msg.Role == domain.RoleAssistant && msg.Content == g.gateContent {
		g.persisting <- struct{}{}
		<-g.release
	}
	return g.TranscriptStore.CreateOrAppend(ctx, sessionID, ownerID, msg)
}

func TestStopDuringAssistantPersistStaysConvergent(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		TranscriptStore: repository.NewMemoryTranscriptRepository(),
		gateContent:     "คำตอบที่สอง",
		persisting:      make(chan struct{}),
		release:         make(chan struct{}),
	}
	runner := &fakeRunner{}
	runner.fn = replyWith("คำตอบแรก").fn
	c := NewTurnCoordinator(store, stubClassifier{intent: domain.IntentNone}, runner, nil, fastConfig(), "s1", "owner")

	require.NoError(t, c.Send(ctx, "คำถามแรก", nil, ""))

	runner.fn = replyWith("คำตอบที่สอง").fn
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Send(ctx, "คำถามที่สอง", nil, ""))
	}()
	<-store.persisting

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Stop()
	}()
	time.Sleep(10 * time.Millisecond)
	close(store.release)
	wg.Wait()

	msgs := c.Messages()
	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, session.Messages, len(msgs), "both transcript representations hold the same turns")
	for i := range msgs {
		assert.Equal(t, msgs[i].Content, session.Messages[i].Content)
	}
}

func TestRegenerateRejectedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	c, _ := newTestCoordinator(t, blockingRunner(started), fastConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Send(ctx, "คำถามค้าง", nil, ""))
	}()
	<-started

	require.NoError(t, c.Regenerate(ctx, 0), "rewind during an in-flight turn is a silent no-op")
	assert.NotEmpty(t, c.Stop())
	wg.Wait()
}

func TestLoadRestoresVisibleList(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryTranscriptRepository()
	_, err := store.CreateOrAppend(ctx, "s1", "owner", domain.Message{Role: domain.RoleUser, Content: "ประวัติเดิม"})
	require.NoError(t, err)

	c := NewTurnCoordinator(store, stubClassifier{}, replyWith("ตอบ"), nil, fastConfig(), "s1", "owner")
	require.NoError(t, c.Load(ctx))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ประวัติเดิม", msgs[0].Content)

	fresh := NewTurnCoordinator(store, stubClassifier{}, replyWith("ตอบ"), nil, fastConfig(), "brand-new", "owner")
	assert.NoError(t, fresh.Load(ctx), "an absent session is not a load failure")
}

func TestMetadataReferenceReachesRunner(t *testing.T) {
	ctx := context.Background()
	var seenReference string
	runner := &fakeRunner{fn: func(_ context.Context, req chunkloop.Request) (chunkloop.Result, error) {
		seenReference = req.Reference
		return chunkloop.Result{Text: "แผน", State: domain.TurnCompleted}, nil
	}}

	store := repository.NewMemoryTranscriptRepository()
	metadata := &stubMetadata{record: &domain.ReferenceRecord{
		Name:    "lease.pdf",
		Source:  "legal-archive",
		Topics:  []string{"สัญญาเช่า", "ค่าปรับ"},
		Summary: "สัญญาเช่าบ้านมาตรฐาน",
	}}
	c := NewTurnCoordinator(store, stubClassifier{}, runner, metadata, fastConfig(), "s1", "owner")

	attachment := domain.Attachment{Name: "lease.pdf", Path: "/docs", MIMEType: "application/pdf"}
	require.NoError(t, c.Send(ctx, "สรุปสัญญานี้", []domain.Attachment{attachment}, domain.IntentSummarize))

	assert.Contains(t, seenReference, "Document: lease.pdf")
	assert.Contains(t, seenReference, "source: legal-archive")
	assert.Contains(t, seenReference, "สัญญาเช่า, ค่าปรับ")
	assert.True(t, strings.Contains(seenReference, "Summary: สัญญาเช่าบ้านมาตรฐาน"))
}

type stubMetadata struct {
	record *domain.ReferenceRecord
}

func (s *stubMetadata) GetMetadata(context.Context, string, string) (*domain.ReferenceRecord, error) {
	return s.record, nil
}

func (s *stubMetadata) GenerateMetadata(context.Context, string, string) (*domain.ReferenceRecord, error) {
	return s.record, nil
}
