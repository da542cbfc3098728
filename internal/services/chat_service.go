package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/infrastructure/kafka"
	"github.com/parley-chat/parley/internal/infrastructure/observability"
	"github.com/parley-chat/parley/internal/infrastructure/redis"
	"github.com/parley-chat/parley/internal/llm"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/repository"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	titleMaxLen      = 120
	contentMaxLen    = 8000
	contextWindow    = 50
	defaultPageLimit = 50
	maxPageLimit     = 100
	convListCacheTTL = time.Minute
	placeholderReply = "Sorry, I could not produce a reply. Please try again."
)

type MessageExchange struct {
	User      models.Message `json:"user"`
	Assistant models.Message `json:"assistant"`
}

type MessagePage struct {
	Items      []models.Message `json:"items"`
	NextCursor *int             `json:"nextCursor"`
}

type ConversationDetail struct {
	models.Conversation
	Messages []models.Message `json:"messages"`
}

type ChatService interface {
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, userID int64, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, userID, convID int64) (*ConversationDetail, error)
	RenameConversation(ctx context.Context, userID, convID int64, title string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, convID int64) error
	CreateMessage(ctx context.Context, userID, convID int64, role models.Role, content string) (*models.Message, error)
	SendMessage(ctx context.Context, userID, convID int64, content string) (*MessageExchange, error)
	ListMessages(ctx context.Context, userID, convID int64, cursor, limit int) (*MessagePage, error)
	TokenUsage(ctx context.Context, userID int64) (int64, error)
}

type chatService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	redisClient redis.RedisClient
	producer    kafka.EventProducer
	model       llm.Caller
}

func NewChatService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	redisClient redis.RedisClient,
	producer kafka.EventProducer,
	model llm.Caller,
) *chatService {
	return &chatService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		redisClient: redisClient,
		producer:    producer,
		model:       model,
	}
}

func convListKey(userID int64) string {
	return fmt.Sprintf("user:%d:conversations", userID)
}

func (s *chatService) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "ListConversations")
	defer span.End()

	cacheKey := convListKey(userID)
	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, cacheKey); err == nil {
			var conversations []models.Conversation
			if err := json.Unmarshal([]byte(cached), &conversations); err == nil {
				return conversations, nil
			}
			slog.Error("failed to unmarshal cached conversations", "user_id", userID, "error", err)
		}
	}

	conversations, err := s.convRepo.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list conversations failed")
		slog.Error("failed to list conversations", "user_id", userID, "error", err)
		return nil, err
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(conversations); err == nil {
			if err := s.redisClient.Set(ctx, cacheKey, string(data), convListCacheTTL); err != nil {
				slog.Error("failed to cache conversations", "user_id", userID, "error", err)
			}
		}
	}
	return conversations, nil
}

func (s *chatService) invalidateConvList(ctx context.Context, userID int64) {
	if s.redisClient == nil {
		return
	}
	if err := s.redisClient.Del(ctx, convListKey(userID)); err != nil {
		slog.Error("failed to invalidate conversation cache", "user_id", userID, "error", err)
	}
}

func (s *chatService) CreateConversation(ctx context.Context, userID int64, title string) (*models.Conversation, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "CreateConversation")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" || len(title) > titleMaxLen {
		span.SetStatus(codes.Error, "invalid title")
		return nil, fmt.Errorf("%w: title must be 1-%d characters", pkgerrors.ErrValidation, titleMaxLen)
	}

	conv := &models.Conversation{UserID: userID, Title: title}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversation creation failed")
		slog.Error("failed to create conversation", "user_id", userID, "error", err)
		return nil, err
	}

	s.invalidateConvList(ctx, userID)
	slog.Info("conversation created", "user_id", userID, "conversation_id", conv.ID)
	return conv, nil
}

func (s *chatService) GetConversation(ctx context.Context, userID, convID int64) (*ConversationDetail, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "GetConversation")
	defer span.End()

	conv, err := s.convRepo.GetByID(ctx, convID, userID)
	if err != nil {
		span.SetStatus(codes.Error, "conversation not found")
		return nil, err
	}

	// The detail view carries the full history, paged out of the
	// repository batch by batch.
	messages := []models.Message{}
	for offset := 0; ; offset += maxPageLimit {
		batch, err := s.messageRepo.ListByConversation(ctx, convID, offset, maxPageLimit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list messages failed")
			slog.Error("failed to list messages", "conversation_id", convID, "error", err)
			return nil, err
		}
		messages = append(messages, batch...)
		if len(batch) < maxPageLimit {
			break
		}
	}
	return &ConversationDetail{Conversation: *conv, Messages: messages}, nil
}

func (s *chatService) RenameConversation(ctx context.Context, userID, convID int64, title string) (*models.Conversation, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "RenameConversation")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" || len(title) > titleMaxLen {
		span.SetStatus(codes.Error, "invalid title")
		return nil, fmt.Errorf("%w: title must be 1-%d characters", pkgerrors.ErrValidation, titleMaxLen)
	}

	conv, err := s.convRepo.Rename(ctx, convID, userID, title)
	if err != nil {
		span.SetStatus(codes.Error, "rename failed")
		return nil, err
	}

	s.invalidateConvList(ctx, userID)
	slog.Info("conversation renamed", "user_id", userID, "conversation_id", convID)
	return conv, nil
}

func (s *chatService) DeleteConversation(ctx context.Context, userID, convID int64) error {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "DeleteConversation")
	defer span.End()

	if err := s.convRepo.Delete(ctx, convID, userID); err != nil {
		span.SetStatus(codes.Error, "delete failed")
		return err
	}

	s.invalidateConvList(ctx, userID)
	slog.Info("conversation deleted", "user_id", userID, "conversation_id", convID)
	return nil
}

// CreateMessage stores a single message without involving the model.
// The role is caller-supplied, so transcripts can be imported or
// assistant turns replayed.
func (s *chatService) CreateMessage(ctx context.Context, userID, convID int64, role models.Role, content string) (*models.Message, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "CreateMessage")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" || len(content) > contentMaxLen {
		span.SetStatus(codes.Error, "invalid content")
		return nil, fmt.Errorf("%w: content must be 1-%d characters", pkgerrors.ErrValidation, contentMaxLen)
	}
	if !role.Valid() {
		span.SetStatus(codes.Error, "invalid role")
		return nil, pkgerrors.ErrInvalidRole
	}

	if _, err := s.convRepo.GetByID(ctx, convID, userID); err != nil {
		span.SetStatus(codes.Error, "conversation not found")
		return nil, err
	}

	msg := &models.Message{
		ConversationID: convID,
		Role:           role,
		Content:        content,
		TokenCount:     llm.EstimateTokens(content),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store message failed")
		slog.Error("failed to store message", "conversation_id", convID, "error", err)
		return nil, err
	}

	if err := s.convRepo.Touch(ctx, convID); err != nil {
		slog.Error("failed to touch conversation", "conversation_id", convID, "error", err)
	}
	s.invalidateConvList(ctx, userID)
	s.emitMessageEvent(userID, msg)

	slog.Info("message created", "user_id", userID, "conversation_id", convID, "message_id", msg.ID)
	return msg, nil
}

func (s *chatService) SendMessage(ctx context.Context, userID, convID int64, content string) (*MessageExchange, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "SendMessage")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" || len(content) > contentMaxLen {
		span.SetStatus(codes.Error, "invalid content")
		return nil, fmt.Errorf("%w: content must be 1-%d characters", pkgerrors.ErrValidation, contentMaxLen)
	}

	if _, err := s.convRepo.GetByID(ctx, convID, userID); err != nil {
		span.SetStatus(codes.Error, "conversation not found")
		return nil, err
	}

	userMsg := &models.Message{
		ConversationID: convID,
		Role:           models.RoleUser,
		Content:        content,
		TokenCount:     llm.EstimateTokens(content),
	}
	if err := s.messageRepo.Create(ctx, userMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store user message failed")
		slog.Error("failed to store user message", "conversation_id", convID, "error", err)
		return nil, err
	}

	recent, err := s.messageRepo.ListRecent(ctx, convID, contextWindow)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build context failed")
		slog.Error("failed to build model context", "conversation_id", convID, "error", err)
		return nil, err
	}
	prompts := make([]llm.Prompt, 0, len(recent))
	for _, m := range recent {
		prompts = append(prompts, llm.Prompt{Role: string(m.Role), Content: m.Content})
	}

	// Model failures never surface to the client; the reply degrades to
	// a placeholder instead.
	modelStart := time.Now()
	reply, err := s.model.Complete(ctx, prompts)
	observability.ModelCallDuration.Observe(time.Since(modelStart).Seconds())
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Error("model call failed, using placeholder reply", "conversation_id", convID, "error", err)
		span.RecordError(err)
		reply = placeholderReply
	}

	assistantMsg := &models.Message{
		ConversationID: convID,
		Role:           models.RoleAssistant,
		Content:        reply,
		TokenCount:     llm.EstimateTokens(reply),
	}
	if err := s.messageRepo.Create(ctx, assistantMsg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store assistant message failed")
		slog.Error("failed to store assistant message", "conversation_id", convID, "error", err)
		return nil, err
	}

	if err := s.convRepo.Touch(ctx, convID); err != nil {
		slog.Error("failed to touch conversation", "conversation_id", convID, "error", err)
	}
	s.invalidateConvList(ctx, userID)

	s.emitMessageEvent(userID, userMsg)
	s.emitMessageEvent(userID, assistantMsg)

	slog.Info("message exchange stored",
		"user_id", userID,
		"conversation_id", convID,
		"user_message_id", userMsg.ID,
		"assistant_message_id", assistantMsg.ID)
	return &MessageExchange{User: *userMsg, Assistant: *assistantMsg}, nil
}

func (s *chatService) ListMessages(ctx context.Context, userID, convID int64, cursor, limit int) (*MessagePage, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "ListMessages")
	defer span.End()

	if cursor < 0 {
		cursor = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if _, err := s.convRepo.GetByID(ctx, convID, userID); err != nil {
		span.SetStatus(codes.Error, "conversation not found")
		return nil, err
	}

	messages, err := s.messageRepo.ListByConversation(ctx, convID, cursor, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list messages failed")
		slog.Error("failed to list messages", "conversation_id", convID, "error", err)
		return nil, err
	}

	page := &MessagePage{Items: messages}
	if len(messages) == limit {
		next := cursor + limit
		page.NextCursor = &next
	}
	return page, nil
}

func (s *chatService) TokenUsage(ctx context.Context, userID int64) (int64, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "TokenUsage")
	defer span.End()

	if s.redisClient == nil {
		return 0, nil
	}
	val, err := s.redisClient.Get(ctx, fmt.Sprintf("user:%d:tokens", userID))
	if err != nil {
		if stderrors.Is(err, redis.ErrKeyNotFound) {
			return 0, nil
		}
		span.RecordError(err)
		slog.Error("failed to read usage counter", "user_id", userID, "error", err)
		return 0, err
	}

	var total int64
	if err := json.Unmarshal([]byte(val), &total); err != nil {
		slog.Error("failed to parse usage counter", "user_id", userID, "value", val, "error", err)
		return 0, nil
	}
	return total, nil
}

func (s *chatService) emitMessageEvent(userID int64, msg *models.Message) {
	if s.producer == nil {
		return
	}
	event := map[string]interface{}{
		"event_type":  "message_created",
		"event_id":    uuid.NewString(),
		"user_id":     userID,
		"message_id":  msg.ID,
		"role":        string(msg.Role),
		"token_count": msg.TokenCount,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "message_id", msg.ID, "error", err)
		return
	}
	key, _ := event["event_id"].(string)
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.producer.Send(context.Background(), "chat-events", key, eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send kafka event after retries", "event_id", key)
	}()
}
