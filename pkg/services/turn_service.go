package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/kittipat-v/genchat/pkg/chunkloop"
	"github.com/kittipat-v/genchat/pkg/domain"
	"github.com/kittipat-v/genchat/pkg/extractor"
	"github.com/kittipat-v/genchat/pkg/logger"
)

type TranscriptStore interface {
	CreateOrAppend(ctx context.Context, sessionID, ownerID string, msg domain.Message) (domain.Message, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	RemoveLastTurn(ctx context.Context, sessionID string) error
	TruncateFrom(ctx context.Context, sessionID string, index int) error
	LocallyOwned() bool
}

type IntentClassifier interface {
	Classify(prompt string) domain.ToolIntent
}

type ChunkRunner interface {
	Run(ctx context.Context, req chunkloop.Request) (chunkloop.Result, error)
}

type MetadataProvider interface {
	GetMetadata(ctx context.Context, path, name string) (*domain.ReferenceRecord, error)
	GenerateMetadata(ctx context.Context, path, name string) (*domain.ReferenceRecord, error)
}

type TurnCoordinatorConfig struct {
	ThrottleInterval time.Duration
	HistoryWindow    int
	MaxChunks        int
}

const (
	defaultThrottleInterval = 2 * time.Second
	defaultHistoryWindow    = 12
)

// TurnCoordinator owns one session's visible message list, the in-flight
// turn and its cancellation handle. The visible list and the persisted
// transcript are two representations of the same data; every operation here
// keeps them convergent, and nothing else may mutate either.
type TurnCoordinator struct {
	store      TranscriptStore
	classifier IntentClassifier
	runner     ChunkRunner
	metadata   MetadataProvider
	cfg        TurnCoordinatorConfig
	sessionID  string
	ownerID    string

	mu                 sync.Mutex
	messages           []domain.Message
	inFlight           bool
	lastSendAt         time.Time
	cancelTurn         context.CancelFunc
	pendingPrompt      string
	pendingAttachments []domain.Attachment
}

func NewTurnCoordinator(
	store TranscriptStore,
	classifier IntentClassifier,
	runner ChunkRunner,
	metadata MetadataProvider,
	cfg TurnCoordinatorConfig,
	sessionID, ownerID string,
) *TurnCoordinator {
	cfg.ThrottleInterval = lo.Ternary(cfg.ThrottleInterval > 0, cfg.ThrottleInterval, defaultThrottleInterval)
	cfg.HistoryWindow = lo.Ternary(cfg.HistoryWindow > 0, cfg.HistoryWindow, defaultHistoryWindow)

	return &TurnCoordinator{
		store:      store,
		classifier: classifier,
		runner:     runner,
		metadata:   metadata,
		cfg:        cfg,
		sessionID:  sessionID,
		ownerID:    ownerID,
	}
}

// Load populates the visible list from the persisted transcript. A session
// that does not exist yet is not an error: it is created lazily on the
// first send.
func (t *TurnCoordinator) Load(ctx context.Context) error {
	session, err := t.store.Get(ctx, t.sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}

	t.mu.Lock()
	t.messages = session.Messages
	t.mu.Unlock()
	return nil
}

func (t *TurnCoordinator) SessionID() string { return t.sessionID }

// Messages returns a snapshot of the visible message list.
func (t *TurnCoordinator) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Message(nil), t.messages...)
}

// Send runs one turn: throttle, intent resolution, the chunk loop, and the
// two-phase append of both the user and assistant messages. Rejections
// (in-flight turn, throttle, empty prompt) are logged and swallowed; only
// storage failures surface to the caller.
func (t *TurnCoordinator) Send(ctx context.Context, prompt string, attachments []domain.Attachment, explicitIntent domain.ToolIntent) error {
	return t.sendTurn(ctx, prompt, attachments, explicitIntent, true)
}

func (t *TurnCoordinator) sendTurn(ctx context.Context, prompt string, attachments []domain.Attachment, explicitIntent domain.ToolIntent, persistUser bool) error {
	prompt = strings.TrimSpace(prompt)

	t.mu.Lock()
	switch {
	case prompt == "":
		t.mu.Unlock()
		slog.InfoContext(ctx, "Send rejected", "session", t.sessionID, logger.Err(domain.ErrEmptyPrompt))
		return nil
	case t.inFlight:
		t.mu.Unlock()
		slog.InfoContext(ctx, "Send rejected", "session", t.sessionID, logger.Err(domain.ErrTurnInFlight))
		return nil
	case time.Since(t.lastSendAt) < t.cfg.ThrottleInterval:
		t.mu.Unlock()
		slog.InfoContext(ctx, "Send rejected", "session", t.sessionID, logger.Err(domain.ErrThrottled))
		return nil
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t.inFlight = true
	t.lastSendAt = time.Now()
	t.cancelTurn = cancel
	t.pendingPrompt = prompt
	t.pendingAttachments = attachments

	userMsg := domain.Message{
		ID:          uuid.NewString(),
		Role:        domain.RoleUser,
		Content:     prompt,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
	t.messages = append(t.messages, userMsg)
	snapshot := append([]domain.Message(nil), t.messages...)
	t.mu.Unlock()

	defer t.finishTurn(cancel)

	// Phase 2: durable append. A failure here does not roll back the
	// visible list; it is logged and handed to the caller to retry.
	if persistUser {
		if _, err := t.store.CreateOrAppend(ctx, t.sessionID, t.ownerID, userMsg); err != nil {
			slog.ErrorContext(ctx, "Persisting user message", "session", t.sessionID, logger.Err(err))
			return fmt.Errorf("appending user message: %w", err)
		}
	}

	intent := explicitIntent
	if intent == "" {
		intent = t.classifier.Classify(prompt)
	}
	profile := domain.ProfileFor(intent)

	maxChunks := profile.MaxChunks
	if t.cfg.MaxChunks > 0 && maxChunks > t.cfg.MaxChunks {
		maxChunks = t.cfg.MaxChunks
	}

	slog.InfoContext(ctx, "Turn accepted",
		"session", t.sessionID,
		"intent", intent,
		"maxChunks", maxChunks,
		"attachments", len(attachments),
	)

	result, err := t.runner.Run(turnCtx, chunkloop.Request{
		SystemInstruction: profile.SystemInstruction,
		Turns:             t.buildTurns(snapshot),
		Intent:            intent,
		MaxChunks:         maxChunks,
		Profile:           profile,
		Reference:         t.referenceFor(turnCtx, intent, attachments),
	})
	if err != nil {
		return t.appendFailureMessage(ctx, err)
	}
	if result.State == domain.TurnCancelled {
		// Stop() already rewound the visible list and the store; a
		// cancelled turn must not produce an assistant message.
		slog.InfoContext(ctx, "Turn ended early", "session", t.sessionID, "chunks", result.Chunks, logger.Err(domain.ErrCancelled))
		return nil
	}
	if result.Text == "" {
		return t.appendFailureMessage(ctx, &domain.UpstreamError{
			Class:   domain.UpstreamGeneric,
			Message: "empty completion",
		})
	}

	assistantMsg := t.buildAssistantMessage(intent, result.Text)
	return t.appendAssistant(ctx, turnCtx, assistantMsg)
}

func (t *TurnCoordinator) buildAssistantMessage(intent domain.ToolIntent, text string) domain.Message {
	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		CreatedAt: time.Now(),
	}

	if intent.Special() {
		// Special-mode output is one planning document; extraction is
		// skipped entirely.
		msg.PlanDocument = text
		return msg
	}

	result := extractor.Extract(text)
	msg.Content = result.CleanedText
	msg.Extracted = result.Blocks()
	return msg
}

func (t *TurnCoordinator) appendFailureMessage(ctx context.Context, cause error) error {
	slog.ErrorContext(ctx, "Turn failed", "session", t.sessionID, logger.Err(cause))

	text := "ขออภัย เกิดข้อผิดพลาดในการสร้างคำตอบ กรุณาลองใหม่อีกครั้ง"
	var upstreamErr *domain.UpstreamError
	if errors.As(cause, &upstreamErr) {
		text = upstreamErr.UserMessage()
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	}
	return t.appendAssistant(ctx, ctx, msg)
}

// appendAssistant is the two-phase append of the turn's final assistant
// message. Both phases run under the lock: a concurrent Stop either rewinds
// before the check and nothing is added, or waits and rewinds the whole turn
// from both representations. A store failure still leaves the visible
// message in place; it is logged and handed to the caller.
func (t *TurnCoordinator) appendAssistant(ctx, turnCtx context.Context, msg domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turnCtx.Err() != nil {
		return nil
	}
	t.messages = append(t.messages, msg)

	if _, err := t.store.CreateOrAppend(ctx, t.sessionID, t.ownerID, msg); err != nil {
		slog.ErrorContext(ctx, "Persisting assistant message", "session", t.sessionID, logger.Err(err))
		return fmt.Errorf("appending assistant message: %w", err)
	}
	return nil
}

func (t *TurnCoordinator) finishTurn(cancel context.CancelFunc) {
	cancel()
	t.mu.Lock()
	t.inFlight = false
	t.cancelTurn = nil
	t.pendingPrompt = ""
	t.pendingAttachments = nil
	t.mu.Unlock()
}

// Stop cancels the in-flight turn and rewinds state the turn had already
// applied. Cancelling the session's first turn deletes the whole session;
// otherwise the trailing turn is removed from the visible list, and from
// the store only when the store is a locally-owned log. Returns the prompt
// of the cancelled turn so the caller can restore it into the input field.
func (t *TurnCoordinator) Stop() string {
	t.mu.Lock()
	if !t.inFlight || t.cancelTurn == nil {
		t.mu.Unlock()
		return ""
	}
	cancel := t.cancelTurn
	prompt := t.pendingPrompt
	firstTurn := lo.CountBy(t.messages, func(m domain.Message) bool {
		return m.Role == domain.RoleUser
	}) <= 1
	t.mu.Unlock()

	cancel()

	ctx := context.Background()

	t.mu.Lock()
	if firstTurn {
		t.messages = nil
		t.mu.Unlock()
		if err := t.store.Delete(ctx, t.sessionID); err != nil {
			slog.Error("Deleting cancelled session", "session", t.sessionID, logger.Err(err))
		}
		return prompt
	}

	if n := len(t.messages); n > 0 && t.messages[n-1].Role == domain.RoleAssistant {
		t.messages = t.messages[:n-1]
	}
	if n := len(t.messages); n > 0 && t.messages[n-1].Role == domain.RoleUser {
		t.messages = t.messages[:n-1]
	}
	t.mu.Unlock()

	if t.store.LocallyOwned() {
		if err := t.store.RemoveLastTurn(ctx, t.sessionID); err != nil {
			slog.Error("Removing cancelled turn", "session", t.sessionID, logger.Err(err))
		}
	}
	return prompt
}

// Regenerate rewinds to the user message nearest before messageIndex and
// re-sends its prompt and attachments. The transcript is truncated before
// the re-send, so the user message appears exactly once.
func (t *TurnCoordinator) Regenerate(ctx context.Context, messageIndex int) error {
	prompt, attachments, ok, err := t.rewindToUserMessage(ctx, messageIndex, "")
	if err != nil || !ok {
		return err
	}
	return t.sendTurn(ctx, prompt, attachments, "", true)
}

// Edit rewinds like Regenerate but substitutes newContent for the original
// prompt text.
func (t *TurnCoordinator) Edit(ctx context.Context, messageIndex int, newContent string) error {
	prompt, attachments, ok, err := t.rewindToUserMessage(ctx, messageIndex, newContent)
	if err != nil || !ok {
		return err
	}
	return t.sendTurn(ctx, prompt, attachments, "", true)
}

func (t *TurnCoordinator) rewindToUserMessage(ctx context.Context, messageIndex int, replacement string) (string, []domain.Attachment, bool, error) {
	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		slog.InfoContext(ctx, "Rewind rejected", "session", t.sessionID, logger.Err(domain.ErrTurnInFlight))
		return "", nil, false, nil
	}

	if messageIndex >= len(t.messages) {
		messageIndex = len(t.messages) - 1
	}
	userIdx := -1
	for i := messageIndex; i >= 0; i-- {
		if t.messages[i].Role == domain.RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx == -1 {
		t.mu.Unlock()
		slog.WarnContext(ctx, "No user message to rewind to", "session", t.sessionID, "index", messageIndex)
		return "", nil, false, nil
	}

	original := t.messages[userIdx]
	t.messages = t.messages[:userIdx]
	t.lastSendAt = time.Time{} // the re-send bypasses the throttle
	t.mu.Unlock()

	// Unlike Stop, a rewind always truncates the store: the rewound turn is
	// re-sent and re-persisted right after, so both representations converge
	// on the new turn.
	if err := t.store.TruncateFrom(ctx, t.sessionID, userIdx); err != nil {
		slog.ErrorContext(ctx, "Truncating transcript", "session", t.sessionID, logger.Err(err))
		return "", nil, false, fmt.Errorf("truncating transcript: %w", err)
	}

	prompt := lo.Ternary(replacement != "", replacement, original.Content)
	return prompt, original.Attachments, true, nil
}

func (t *TurnCoordinator) buildTurns(messages []domain.Message) []domain.PromptTurn {
	if len(messages) > t.cfg.HistoryWindow {
		messages = messages[len(messages)-t.cfg.HistoryWindow:]
	}

	var turns []domain.PromptTurn
	for _, msg := range messages {
		text := msg.Content
		if text == "" {
			text = msg.PlanDocument
		}
		if text == "" && len(msg.Attachments) == 0 {
			continue
		}

		turn := domain.PromptTurn{Role: msg.Role}
		if text != "" {
			turn.Parts = append(turn.Parts, domain.PromptPart{Text: text})
		}
		for i := range msg.Attachments {
			turn.Parts = append(turn.Parts, domain.PromptPart{Blob: &msg.Attachments[i]})
		}
		turns = append(turns, turn)
	}
	return turns
}

// referenceFor fetches citation context for the turn's source document.
// Only special-mode turns use it, and a lookup failure just means the
// continuation instructions go out without citation material.
func (t *TurnCoordinator) referenceFor(ctx context.Context, intent domain.ToolIntent, attachments []domain.Attachment) string {
	if !intent.Special() || t.metadata == nil {
		return ""
	}

	doc, found := lo.Find(attachments, func(a domain.Attachment) bool {
		return !a.IsImage() && a.Name != ""
	})
	if !found {
		return ""
	}

	record, err := t.metadata.GetMetadata(ctx, doc.Path, doc.Name)
	if errors.Is(err, domain.ErrNotFound) {
		record, err = t.metadata.GenerateMetadata(ctx, doc.Path, doc.Name)
	}
	if err != nil {
		slog.WarnContext(ctx, "Reference metadata unavailable", "name", doc.Name, logger.Err(err))
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s", record.Name)
	if record.Source != "" {
		fmt.Fprintf(&b, " (source: %s)", record.Source)
	}
	if len(record.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics: %s", strings.Join(record.Topics, ", "))
	}
	if record.Summary != "" {
		fmt.Fprintf(&b, "\nSummary: %s", record.Summary)
	}
	return b.String()
}
