package domain

// GenerationProfile groups the upstream generation parameters resolved once
// per turn from the turn's intent.
type GenerationProfile struct {
	Temperature       float32
	TopK              float32
	TopP              float32
	MaxOutputTokens   int32
	MaxChunks         int
	SystemInstruction string
}

const defaultSystemInstruction = `You are a helpful assistant for a document workspace.
Answer in the language the user writes in. Be concise and factual.
When a chart is useful, emit it as a fenced block tagged "chart" containing JSON
with "type", "labels" and "datasets". When a table is useful, emit a fenced
block tagged "table" with "headers" and "rows". After your answer, add a
"คำถามที่เกี่ยวข้อง" section with up to three short follow-up questions.`

const planSystemInstruction = `You are preparing a long-form working document.
Produce one coherent section per response. Never produce closing remarks until
explicitly asked to conclude. Cite reference material by name when provided.`

var profiles = map[ToolIntent]GenerationProfile{
	IntentNone: {
		Temperature:       0.7,
		TopK:              40,
		TopP:              0.95,
		MaxOutputTokens:   4096,
		MaxChunks:         1,
		SystemInstruction: defaultSystemInstruction,
	},
	IntentPlan: {
		Temperature:       0.4,
		TopK:              32,
		TopP:              0.9,
		MaxOutputTokens:   8192,
		MaxChunks:         6,
		SystemInstruction: planSystemInstruction + "\nThe document is an operational plan: objectives, workstreams, milestones, risks.",
	},
	IntentSummarize: {
		Temperature:       0.3,
		TopK:              32,
		TopP:              0.9,
		MaxOutputTokens:   8192,
		MaxChunks:         3,
		SystemInstruction: planSystemInstruction + "\nThe document is a structured summary of the supplied material.",
	},
	IntentCompare: {
		Temperature:       0.4,
		TopK:              32,
		TopP:              0.9,
		MaxOutputTokens:   8192,
		MaxChunks:         4,
		SystemInstruction: planSystemInstruction + "\nThe document is a point-by-point comparison with a verdict per criterion.",
	},
	IntentChart: {
		Temperature:       0.2,
		TopK:              20,
		TopP:              0.85,
		MaxOutputTokens:   4096,
		MaxChunks:         2,
		SystemInstruction: planSystemInstruction + "\nThe document centers on data series suitable for charting; keep numbers exact.",
	},
	IntentConsult: {
		Temperature:       0.6,
		TopK:              40,
		TopP:              0.95,
		MaxOutputTokens:   8192,
		MaxChunks:         5,
		SystemInstruction: planSystemInstruction + "\nThe document is an advisory memo: situation, options, recommendation.",
	},
	IntentDatabase: {
		Temperature:       0.2,
		TopK:              20,
		TopP:              0.85,
		MaxOutputTokens:   4096,
		MaxChunks:         2,
		SystemInstruction: planSystemInstruction + "\nThe document answers from the supplied records only; never invent values.",
	},
}

// ProfileFor resolves the generation profile for an intent. Unknown intents
// fall back to the IntentNone profile.
func ProfileFor(intent ToolIntent) GenerationProfile {
	if p, ok := profiles[intent]; ok {
		return p
	}
	return profiles[IntentNone]
}
