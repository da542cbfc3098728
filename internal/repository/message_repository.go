package repository

import (
	"context"

	"github.com/parley-chat/parley/internal/models"
)

type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	// ListByConversation returns messages oldest-first with offset/limit
	// pagination.
	ListByConversation(ctx context.Context, conversationID int64, offset, limit int) ([]models.Message, error)
	// ListRecent returns the last n messages of a conversation,
	// oldest-first, for building model context.
	ListRecent(ctx context.Context, conversationID int64, n int) ([]models.Message, error)
}
