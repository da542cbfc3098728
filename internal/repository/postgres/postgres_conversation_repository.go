package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parley-chat/parley/internal/models"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
)

type PostgresConversationRepository struct {
	db *sql.DB
}

func NewPostgresConversationRepository(db *sql.DB) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return pkgerrors.ErrNilConversation
	}
	if conv.Title == "" || conv.UserID == 0 {
		return fmt.Errorf("%w: title and user id are required", pkgerrors.ErrValidation)
	}

	query := `
	INSERT INTO conversations (user_id, title)
	VALUES ($1, $2)
	RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, conv.UserID, conv.Title).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE id = $1 AND user_id = $2
	`

	var conv models.Conversation
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *PostgresConversationRepository) ListByUser(ctx context.Context, userID int64) ([]models.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return conversations, nil
}

func (r *PostgresConversationRepository) Rename(ctx context.Context, id, userID int64, title string) (*models.Conversation, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", pkgerrors.ErrValidation)
	}

	query := `
	UPDATE conversations
	SET title = $1, updated_at = NOW()
	WHERE id = $2 AND user_id = $3
	RETURNING id, user_id, title, created_at, updated_at
	`

	var conv models.Conversation
	err := r.db.QueryRowContext(ctx, query, title, id, userID).Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}
	return &conv, nil
}

func (r *PostgresConversationRepository) Touch(ctx context.Context, id int64) error {
	query := `UPDATE conversations SET updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (r *PostgresConversationRepository) Delete(ctx context.Context, id, userID int64) error {
	query := `DELETE FROM conversations WHERE id = $1 AND user_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}
