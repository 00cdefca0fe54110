package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kittipat-v/genchat/pkg/api/response"
	"github.com/kittipat-v/genchat/pkg/domain"
)

type SessionService interface {
	List(ctx context.Context, ownerID string, filter domain.SessionFilter) ([]domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Rename(ctx context.Context, sessionID, title string) error
	Delete(ctx context.Context, sessionID string) error
}

type CoordinatorEvictor interface {
	Evict(sessionID string)
}

type sessions struct {
	service SessionService
	evictor CoordinatorEvictor
	writer  response.JSONResponseWriter
}

func NewSessions(service SessionService, evictor CoordinatorEvictor) *sessions {
	return &sessions{service: service, evictor: evictor}
}

func (s *sessions) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.SessionFilter{Search: r.URL.Query().Get("search")}
	switch r.URL.Query().Get("pinned") {
	case "true":
		pinned := true
		filter.Pinned = &pinned
	case "false":
		pinned := false
		filter.Pinned = &pinned
	}

	list, err := s.service.List(r.Context(), ownerID(r), filter)
	if err != nil {
		s.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writer.WriteSuccessResponse(w, list)
}

func (s *sessions) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("id")
	if sessionID == "" {
		s.writer.WriteErrorResponse(w, http.StatusBadRequest, "id parameter is missing")
		return
	}

	session, err := s.service.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writer.WriteErrorResponse(w, http.StatusNotFound, "session not found")
			return
		}
		s.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writer.WriteSuccessResponse(w, session)
}

type renameRequest struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

func (s *sessions) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		s.writer.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.service.Rename(r.Context(), req.SessionID, req.Title); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writer.WriteErrorResponse(w, http.StatusNotFound, "session not found")
			return
		}
		s.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writer.WriteSuccessResponse(w, map[string]string{"status": "ok"})
}

type deleteRequest struct {
	SessionID string `json:"session_id"`
}

func (s *sessions) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		s.writer.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.service.Delete(r.Context(), req.SessionID); err != nil {
		s.writer.WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.evictor.Evict(req.SessionID)

	s.writer.WriteSuccessResponse(w, map[string]string{"status": "ok"})
}
