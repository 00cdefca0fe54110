package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/kittipat-v/genchat/pkg/api/response"
	"github.com/kittipat-v/genchat/pkg/domain"
	"github.com/kittipat-v/genchat/pkg/logger"
	"github.com/kittipat-v/genchat/pkg/services"
)

type CoordinatorProvider interface {
	For(ctx context.Context, sessionID, ownerID string) (*services.TurnCoordinator, error)
}

type turn struct {
	coordinators CoordinatorProvider
	writer       response.JSONResponseWriter
}

func NewTurn(coordinators CoordinatorProvider) *turn {
	return &turn{coordinators: coordinators}
}

type sendRequest struct {
	SessionID   string              `json:"session_id"`
	Prompt      string              `json:"prompt"`
	Intent      string              `json:"intent,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type messagesResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
}

// Send accepts one turn and replies with the full visible message list once
// the turn settles. Rejected turns (throttle, in-flight, empty prompt) come
// back with the list unchanged.
func (t *turn) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.writer.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := logger.ContextWithRequestID(r.Context(), uuid.NewString())

	coordinator, err := t.coordinators.For(ctx, req.SessionID, ownerID(r))
	if err != nil {
		t.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Name:     a.Name,
			Path:     a.Path,
			MIMEType: a.MIMEType,
			Data:     a.Data,
		})
	}

	if err := coordinator.Send(ctx, req.Prompt, attachments, domain.ToolIntent(req.Intent)); err != nil {
		t.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	t.writer.WriteSuccessResponse(w, messagesResponse{
		SessionID: req.SessionID,
		Messages:  coordinator.Messages(),
	})
}

type stopRequest struct {
	SessionID string `json:"session_id"`
}

func (t *turn) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		t.writer.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	coordinator, err := t.coordinators.For(r.Context(), req.SessionID, ownerID(r))
	if err != nil {
		t.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	prompt := coordinator.Stop()

	t.writer.WriteSuccessResponse(w, map[string]any{
		"restored_prompt": prompt,
		"messages":        coordinator.Messages(),
	})
}

type rewindRequest struct {
	SessionID    string `json:"session_id"`
	MessageIndex int    `json:"message_index"`
	NewContent   string `json:"new_content,omitempty"`
}

func (t *turn) Regenerate(w http.ResponseWriter, r *http.Request) {
	t.rewind(w, r, false)
}

func (t *turn) Edit(w http.ResponseWriter, r *http.Request) {
	t.rewind(w, r, true)
}

func (t *turn) rewind(w http.ResponseWriter, r *http.Request, edit bool) {
	var req rewindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		t.writer.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := logger.ContextWithRequestID(r.Context(), uuid.NewString())

	coordinator, err := t.coordinators.For(ctx, req.SessionID, ownerID(r))
	if err != nil {
		t.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if edit {
		err = coordinator.Edit(ctx, req.MessageIndex, req.NewContent)
	} else {
		err = coordinator.Regenerate(ctx, req.MessageIndex)
	}
	if err != nil {
		t.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	t.writer.WriteSuccessResponse(w, messagesResponse{
		SessionID: req.SessionID,
		Messages:  coordinator.Messages(),
	})
}

// ownerID comes from the gateway that already authenticated the caller;
// token semantics live outside this core.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
