package chunkloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kittipat-v/genchat/pkg/domain"
)

type Completer interface {
	Complete(ctx context.Context, systemInstruction string, turns []domain.PromptTurn, profile domain.GenerationProfile) (domain.Completion, error)
}

// DefaultMinContinuation is the fallback natural-completion threshold: a
// continuation shorter than this many runes ends the turn when the upstream
// finish reason is inconclusive. Tunable, not load-bearing.
const DefaultMinContinuation = 200

type Request struct {
	SystemInstruction string
	Turns             []domain.PromptTurn
	Intent            domain.ToolIntent
	MaxChunks         int
	Profile           domain.GenerationProfile

	// Reference is citation material re-asserted in every continuation
	// instruction. Empty when the turn has no source document.
	Reference string
}

type Result struct {
	Text   string
	State  domain.TurnState
	Chunks int
}

type Controller struct {
	completer       Completer
	minContinuation int
}

func NewController(completer Completer, minContinuation int) *Controller {
	if minContinuation <= 0 {
		minContinuation = DefaultMinContinuation
	}
	return &Controller{
		completer:       completer,
		minContinuation: minContinuation,
	}
}

// Run drives 1..MaxChunks sequential completion calls for one logical turn,
// feeding each reply back into the running context. The turn ends on the
// iteration cap, natural completion, cancellation, or the first failure.
// Failed runs discard all accumulated text.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	maxChunks := req.MaxChunks
	if !req.Intent.Special() {
		// Ordinary chat is always a single exchange.
		maxChunks = 1
	}
	if maxChunks < 1 {
		maxChunks = 1
	}

	turns := append([]domain.PromptTurn(nil), req.Turns...)

	var acc strings.Builder
	chunks := 0
	for i := 1; i <= maxChunks; i++ {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Chunk loop cancelled", "completedChunks", i-1)
			return Result{Text: acc.String(), State: domain.TurnCancelled, Chunks: i - 1}, nil
		default:
		}

		completion, err := c.completer.Complete(ctx, req.SystemInstruction, turns, req.Profile)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Text: acc.String(), State: domain.TurnCancelled, Chunks: i - 1}, nil
			}
			return Result{State: domain.TurnFailed, Chunks: i - 1}, fmt.Errorf("chunk %d: %w", i, err)
		}

		chunks = i

		reply := strings.TrimSpace(completion.Text)
		if reply == "" {
			break
		}

		if acc.Len() > 0 {
			acc.WriteString("\n\n")
		}
		acc.WriteString(reply)

		if done := c.naturalCompletion(i, req.Intent, reply, completion.FinishReason); done {
			break
		}
		if i == maxChunks {
			break
		}

		turns = append(turns,
			domain.TextTurn(domain.RoleAssistant, reply),
			domain.TextTurn(domain.RoleUser, continuationInstruction(i+1, maxChunks, req.Reference)),
		)
	}

	return Result{Text: acc.String(), State: domain.TurnCompleted, Chunks: chunks}, nil
}

// naturalCompletion decides whether a continuation reply ends the turn. The
// upstream finish reason wins when it is conclusive: a reply cut off at the
// output cap always has more to come, and a hard reason other than a normal
// stop leaves nothing worth continuing. A normal stop is reported for every
// intermediate chunk as well, so it falls through to the length threshold:
// continuations below it signal that the model has nothing left to add.
func (c *Controller) naturalCompletion(iteration int, intent domain.ToolIntent, reply string, reason domain.FinishReason) bool {
	if iteration == 1 || !intent.Special() {
		return false
	}
	switch reason {
	case domain.FinishMaxTokens:
		return false
	case "", domain.FinishStop:
		return utf8.RuneCountInString(reply) < c.minContinuation
	default:
		return true
	}
}

func continuationInstruction(iteration, maxChunks int, reference string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Continue the document with section %d of at most %d.\n", iteration, maxChunks)
	b.WriteString("Pick up exactly where the previous section ended. ")
	b.WriteString("Do not restate the brief or repeat earlier sections. ")
	b.WriteString("Do not summarize or wrap up yet; conclusions come only in the final section.")
	if reference != "" {
		b.WriteString("\n\nReference material for citation:\n")
		b.WriteString(reference)
	}
	return b.String()
}
