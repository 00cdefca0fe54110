package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kittipat-v/genchat/pkg/domain"
)

// transcriptRepository is the durable transcript log in postgres. It is the
// remotely-owned authority: stop/edit recovery never truncates it directly
// (LocallyOwned is false), so a cancelled turn cannot race a partial write.
type transcriptRepository struct {
	db *sql.DB
}

func NewTranscriptRepository(db *sql.DB) *transcriptRepository {
	return &transcriptRepository{db: db}
}

func (r *transcriptRepository) LocallyOwned() bool { return false }

func (r *transcriptRepository) CreateOrAppend(ctx context.Context, sessionID, ownerID string, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now()

	extracted, err := json.Marshal(msg.Extracted)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshaling extracted blocks: %w", err)
	}
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshaling attachments: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	const createSession = `
		INSERT INTO chat_sessions (id, owner_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, createSession, sessionID, ownerID); err != nil {
		return domain.Message{}, fmt.Errorf("creating session: %w", err)
	}

	const insertMessage = `
		INSERT INTO chat_messages (id, session_id, role, content, plan_document, extracted, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, insertMessage,
		msg.ID, sessionID, msg.Role, msg.Content, msg.PlanDocument, extracted, attachments, msg.CreatedAt,
	); err != nil {
		return domain.Message{}, fmt.Errorf("inserting message: %w", err)
	}

	const bumpSession = `
		UPDATE chat_sessions
		SET message_count = message_count + 1, updated_at = $2
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, bumpSession, sessionID, msg.CreatedAt); err != nil {
		return domain.Message{}, fmt.Errorf("updating session counters: %w", err)
	}

	if msg.Role != domain.RoleSystem {
		const setPreview = `UPDATE chat_sessions SET preview = $2 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, setPreview, sessionID, summarize(previewText(msg), previewLimit)); err != nil {
			return domain.Message{}, fmt.Errorf("updating session preview: %w", err)
		}
	}

	if msg.Role == domain.RoleUser {
		// Fixes the title on the first user message only; later appends
		// never match the empty-title guard.
		const setTitle = `UPDATE chat_sessions SET title = $2 WHERE id = $1 AND title = ''`
		if _, err := tx.ExecContext(ctx, setTitle, sessionID, summarize(msg.Content, titleLimit)); err != nil {
			return domain.Message{}, fmt.Errorf("updating session title: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Message{}, fmt.Errorf("committing append: %w", err)
	}

	return msg, nil
}

func (r *transcriptRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	const sessionQuery = `
		SELECT id, owner_id, title, preview, message_count, pinned, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1
	`

	var session domain.Session
	err := r.db.QueryRowContext(ctx, sessionQuery, sessionID).Scan(
		&session.ID, &session.OwnerID, &session.Title, &session.Preview,
		&session.MessageCount, &session.Pinned, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	const messagesQuery = `
		SELECT id, role, content, plan_document, extracted, attachments, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, messagesQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		var extracted, attachments []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.PlanDocument, &extracted, &attachments, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &msg.Extracted); err != nil {
				return nil, fmt.Errorf("unmarshaling extracted blocks: %w", err)
			}
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshaling attachments: %w", err)
			}
		}
		session.Messages = append(session.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return &session, nil
}

func (r *transcriptRepository) Delete(ctx context.Context, sessionID string) error {
	const query = `DELETE FROM chat_sessions WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (r *transcriptRepository) Rename(ctx context.Context, sessionID, title string) error {
	const query = `UPDATE chat_sessions SET title = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, sessionID, title)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *transcriptRepository) List(ctx context.Context, ownerID string, filter domain.SessionFilter) ([]domain.Session, error) {
	query := `
		SELECT id, owner_id, title, preview, message_count, pinned, created_at, updated_at
		FROM chat_sessions
		WHERE owner_id = $1
	`
	args := []any{ownerID}

	if filter.Pinned != nil {
		args = append(args, *filter.Pinned)
		query += fmt.Sprintf(" AND pinned = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(" AND (title ILIKE $%d OR preview ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Title, &s.Preview, &s.MessageCount, &s.Pinned, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *transcriptRepository) RemoveLastTurn(ctx context.Context, sessionID string) error {
	const query = `
		DELETE FROM chat_messages
		WHERE session_id = $1 AND id IN (
			SELECT id FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 2
		) AND role IN ('user', 'assistant')
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("removing last turn: %w", err)
	}
	return r.refreshDerived(ctx, sessionID)
}

func (r *transcriptRepository) TruncateFrom(ctx context.Context, sessionID string, index int) error {
	const query = `
		DELETE FROM chat_messages
		WHERE session_id = $1 AND id IN (
			SELECT id FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at, id
			OFFSET $2
		)
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, index); err != nil {
		return fmt.Errorf("truncating messages: %w", err)
	}
	return r.refreshDerived(ctx, sessionID)
}

func (r *transcriptRepository) refreshDerived(ctx context.Context, sessionID string) error {
	const query = `
		UPDATE chat_sessions s
		SET message_count = (SELECT count(*) FROM chat_messages WHERE session_id = s.id),
		    preview = COALESCE((
		        SELECT CASE WHEN content <> '' THEN left(content, 120) ELSE left(plan_document, 120) END
		        FROM chat_messages
		        WHERE session_id = s.id AND role <> 'system'
		        ORDER BY created_at DESC, id DESC
		        LIMIT 1
		    ), ''),
		    updated_at = now()
		WHERE s.id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("refreshing session summary: %w", err)
	}
	return nil
}
