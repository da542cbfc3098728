package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parley-chat/parley/internal/infrastructure/observability"
	"github.com/parley-chat/parley/internal/models"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
)

type PostgresMessageRepository struct {
	db *sql.DB
}

func NewPostgresMessageRepository(db *sql.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, msg *models.Message) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues("CreateMessage", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateMessage").Observe(time.Since(start).Seconds())
	}()

	if msg == nil {
		return pkgerrors.ErrNilMessage
	}
	if !msg.Role.Valid() {
		return pkgerrors.ErrInvalidRole
	}
	if msg.Content == "" || msg.ConversationID == 0 {
		return fmt.Errorf("%w: content and conversation id are required", pkgerrors.ErrValidation)
	}

	query := `
	INSERT INTO messages (conversation_id, role, content, token_count)
	VALUES ($1, $2, $3, $4)
	RETURNING id, timestamp
	`
	err = r.db.QueryRowContext(ctx, query, msg.ConversationID, string(msg.Role), msg.Content, msg.TokenCount).
		Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, conversationID int64, offset, limit int) ([]models.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, token_count, timestamp
	FROM messages
	WHERE conversation_id = $1
	ORDER BY timestamp ASC, id ASC
	OFFSET $2 LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresMessageRepository) ListRecent(ctx context.Context, conversationID int64, n int) ([]models.Message, error) {
	// Newest n rows, then flipped so the model context reads oldest-first.
	query := `
	SELECT id, conversation_id, role, content, token_count, timestamp
	FROM (
		SELECT id, conversation_id, role, content, token_count, timestamp
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	) recent
	ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.TokenCount, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
