package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kittipat-v/genchat/pkg/domain"
)

// memoryTranscriptRepository is the locally-owned transcript log: the
// process is the authority over it, so stop/edit recovery may truncate it.
type memoryTranscriptRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewMemoryTranscriptRepository() *memoryTranscriptRepository {
	return &memoryTranscriptRepository{
		sessions: make(map[string]*domain.Session),
	}
}

func (m *memoryTranscriptRepository) LocallyOwned() bool { return true }

func (m *memoryTranscriptRepository) CreateOrAppend(ctx context.Context, sessionID, ownerID string, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		session = &domain.Session{
			ID:        sessionID,
			OwnerID:   ownerID,
			CreatedAt: time.Now(),
		}
		m.sessions[sessionID] = session
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now()

	session.Messages = append(session.Messages, msg)
	session.MessageCount = len(session.Messages)
	session.UpdatedAt = msg.CreatedAt
	if msg.Role != domain.RoleSystem {
		session.Preview = summarize(previewText(msg), previewLimit)
	}
	// The title is fixed by the first user message and only an explicit
	// rename may change it afterwards.
	if session.Title == "" && msg.Role == domain.RoleUser {
		session.Title = summarize(msg.Content, titleLimit)
	}

	return msg, nil
}

func (m *memoryTranscriptRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	copied := *session
	copied.Messages = append([]domain.Message(nil), session.Messages...)
	return &copied, nil
}

func (m *memoryTranscriptRepository) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *memoryTranscriptRepository) Rename(ctx context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	session.Title = title
	return nil
}

func (m *memoryTranscriptRepository) List(ctx context.Context, ownerID string, filter domain.SessionFilter) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)

	var sessions []domain.Session
	for _, s := range m.sessions {
		if s.OwnerID != ownerID {
			continue
		}
		if filter.Pinned != nil && s.Pinned != *filter.Pinned {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(s.Title), search) &&
			!strings.Contains(strings.ToLower(s.Preview), search) {
			continue
		}
		summary := *s
		summary.Messages = nil
		sessions = append(sessions, summary)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// RemoveLastTurn drops the trailing assistant message, if any, and the user
// message that started the turn.
func (m *memoryTranscriptRepository) RemoveLastTurn(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}

	msgs := session.Messages
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.RoleAssistant {
		msgs = msgs[:n-1]
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == domain.RoleUser {
		msgs = msgs[:n-1]
	}
	session.Messages = msgs

	m.recomputeDerived(session)
	return nil
}

// TruncateFrom drops the message at index and everything after it.
func (m *memoryTranscriptRepository) TruncateFrom(ctx context.Context, sessionID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if index < 0 || index > len(session.Messages) {
		return nil
	}

	session.Messages = session.Messages[:index]
	m.recomputeDerived(session)
	return nil
}

func (m *memoryTranscriptRepository) recomputeDerived(session *domain.Session) {
	session.MessageCount = len(session.Messages)
	session.UpdatedAt = time.Now()

	session.Preview = ""
	for i := len(session.Messages) - 1; i >= 0; i-- {
		if session.Messages[i].Role == domain.RoleSystem {
			continue
		}
		session.Preview = summarize(previewText(session.Messages[i]), previewLimit)
		break
	}
}
