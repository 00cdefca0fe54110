package domain

// PromptTurn is one entry of the running context sent upstream. Parts are
// text and/or inline binary with a declared media type; binary payloads are
// base64-encoded at the transport boundary by the upstream SDK.
type PromptTurn struct {
	Role  Role
	Parts []PromptPart
}

type PromptPart struct {
	Text string
	Blob *Attachment
}

func TextTurn(role Role, text string) PromptTurn {
	return PromptTurn{Role: role, Parts: []PromptPart{{Text: text}}}
}

// Completion is one upstream reply. FinishReason is empty when the service
// did not report one.
type Completion struct {
	Text         string
	FinishReason FinishReason
}

type FinishReason string

const (
	FinishStop      FinishReason = "STOP"
	FinishMaxTokens FinishReason = "MAX_TOKENS"
)

// TurnState is the terminal state of a chunk loop run.
type TurnState string

const (
	TurnCompleted TurnState = "completed"
	TurnCancelled TurnState = "cancelled"
	TurnFailed    TurnState = "failed"
)
