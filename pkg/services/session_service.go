package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittipat-v/genchat/pkg/domain"
)

type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	Rename(ctx context.Context, sessionID, title string) error
	List(ctx context.Context, ownerID string, filter domain.SessionFilter) ([]domain.Session, error)
}

// sessionService is the in-process seam the session sidebar talks to:
// summaries only, messages loaded lazily per session.
type sessionService struct {
	store SessionStore
}

func NewSessionService(store SessionStore) *sessionService {
	return &sessionService{store: store}
}

func (s *sessionService) List(ctx context.Context, ownerID string, filter domain.SessionFilter) ([]domain.Session, error) {
	sessions, err := s.store.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return session, nil
}

func (s *sessionService) Rename(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is empty")
	}
	if err := s.store.Rename(ctx, sessionID, title); err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	return nil
}

func (s *sessionService) Delete(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
