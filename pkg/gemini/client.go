package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/genai"

	"github.com/kittipat-v/genchat/pkg/domain"
)

const DefaultModel = "gemini-2.5-flash"

type Client struct {
	api       *genai.Client
	modelName string
}

func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is empty")
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{
		api:       api,
		modelName: modelName,
	}, nil
}

// Complete issues one completion call. The call is torn down when ctx is
// cancelled. Upstream failures come back as *domain.UpstreamError.
func (c *Client) Complete(
	ctx context.Context,
	systemInstruction string,
	turns []domain.PromptTurn,
	profile domain.GenerationProfile,
) (domain.Completion, error) {
	contents := buildContents(turns)

	temperature := profile.Temperature
	topK := profile.TopK
	topP := profile.TopP

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       &temperature,
		TopK:              &topK,
		TopP:              &topP,
		MaxOutputTokens:   profile.MaxOutputTokens,
	}

	slog.DebugContext(ctx, "Calling Gemini", "model", c.modelName, "contents", len(contents))

	res, err := c.api.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return domain.Completion{}, classifyError(err)
	}

	completion := domain.Completion{Text: res.Text()}
	if len(res.Candidates) > 0 {
		completion.FinishReason = domain.FinishReason(res.Candidates[0].FinishReason)
	}
	return completion, nil
}

func buildContents(turns []domain.PromptTurn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range turns {
		role := genai.RoleUser
		if turn.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, p := range turn.Parts {
			if p.Blob != nil {
				parts = append(parts, genai.NewPartFromBytes(p.Blob.Data, p.Blob.MIMEType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}

		contents = append(contents, &genai.Content{Role: string(role), Parts: parts})
	}
	return contents
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{
			StatusCode: apiErr.Code,
			Class:      domain.ClassifyUpstreamStatus(apiErr.Code),
			Message:    apiErr.Message,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.UpstreamError{
			Class:   domain.UpstreamConnectivity,
			Message: err.Error(),
		}
	}

	return &domain.UpstreamError{
		Class:   domain.UpstreamGeneric,
		Message: err.Error(),
	}
}
