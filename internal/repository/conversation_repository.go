package repository

import (
	"context"

	"github.com/parley-chat/parley/internal/models"
)

// ConversationRepository is ownership-scoped: every lookup or mutation
// takes the owning user id and must not touch other users' rows.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id, userID int64) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Conversation, error)
	Rename(ctx context.Context, id, userID int64, title string) (*models.Conversation, error)
	Touch(ctx context.Context, id int64) error
	Delete(ctx context.Context, id, userID int64) error
}
