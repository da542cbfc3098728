package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/infrastructure/auth"
	"github.com/parley-chat/parley/internal/infrastructure/kafka"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/repository"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

const (
	usernameMinLen = 3
	usernameMaxLen = 32
	passwordMinLen = 8
	passwordMaxLen = 128
)

// SessionService owns the register/login/refresh flows and the token
// lifecycle around them.
type SessionService interface {
	Register(ctx context.Context, username, password string) (models.TokenPair, *models.PublicUser, error)
	Login(ctx context.Context, username, password string) (models.TokenPair, *models.PublicUser, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Me(ctx context.Context, userID int64) (*models.PublicUser, error)
}

type sessionService struct {
	userRepo repository.UserRepository
	tokens   *auth.Manager
	producer kafka.EventProducer
}

func NewSessionService(userRepo repository.UserRepository, tokens *auth.Manager, producer kafka.EventProducer) *sessionService {
	return &sessionService{userRepo: userRepo, tokens: tokens, producer: producer}
}

func validateCredentials(username, password string) error {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return fmt.Errorf("%w: username must be %d-%d characters", pkgerrors.ErrValidation, usernameMinLen, usernameMaxLen)
	}
	if len(password) < passwordMinLen || len(password) > passwordMaxLen {
		return fmt.Errorf("%w: password must be %d-%d characters", pkgerrors.ErrValidation, passwordMinLen, passwordMaxLen)
	}
	return nil
}

func (s *sessionService) Register(ctx context.Context, username, password string) (models.TokenPair, *models.PublicUser, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if err := validateCredentials(username, password); err != nil {
		span.SetStatus(codes.Error, "invalid credentials shape")
		return models.TokenPair{}, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "username", username, "error", err)
		return models.TokenPair{}, nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if stderrors.Is(err, pkgerrors.ErrUsernameTaken) {
			span.SetStatus(codes.Error, "username already exists")
			slog.Warn("username already exists", "username", username)
			return models.TokenPair{}, nil, pkgerrors.ErrUsernameTaken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		slog.Error("failed to create user in DB", "username", username, "error", err)
		return models.TokenPair{}, nil, fmt.Errorf("%w: failed to create user", pkgerrors.ErrInternal)
	}

	pair, err := s.tokens.IssuePair(user.ID, user.Username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		slog.Error("failed to issue token pair", "user_id", user.ID, "error", err)
		return models.TokenPair{}, nil, fmt.Errorf("%w: failed to issue tokens", pkgerrors.ErrInternal)
	}

	s.emitEvent(map[string]interface{}{
		"event_type": "user_registered",
		"event_id":   uuid.NewString(),
		"user_id":    user.ID,
		"username":   username,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})

	slog.Info("user registered", "user_id", user.ID, "username", username)
	public := user.Public()
	return pair, &public, nil
}

func (s *sessionService) Login(ctx context.Context, username, password string) (models.TokenPair, *models.PublicUser, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if err := validateCredentials(username, password); err != nil {
		span.SetStatus(codes.Error, "invalid credentials shape")
		return models.TokenPair{}, nil, err
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		span.SetStatus(codes.Error, "unknown user")
		slog.Warn("login failed", "username", username)
		return models.TokenPair{}, nil, pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "password mismatch")
		slog.Warn("invalid password", "username", username)
		return models.TokenPair{}, nil, pkgerrors.ErrInvalidCredentials
	}

	// Each login issues a fresh pair; earlier pairs stay valid until
	// their own expiry, so concurrent sessions per user are allowed.
	pair, err := s.tokens.IssuePair(user.ID, user.Username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		slog.Error("failed to issue token pair", "user_id", user.ID, "error", err)
		return models.TokenPair{}, nil, fmt.Errorf("%w: failed to issue tokens", pkgerrors.ErrInternal)
	}

	slog.Info("user logged in", "username", username, "user_id", user.ID)
	public := user.Public()
	return pair, &public, nil
}

func (s *sessionService) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	tracer := otel.Tracer("parley")
	_, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	if refreshToken == "" {
		span.SetStatus(codes.Error, "missing refresh token")
		return models.TokenPair{}, pkgerrors.ErrMissingToken
	}

	claims, err := s.tokens.Verify(refreshToken, auth.UseRefresh)
	if err != nil {
		span.SetStatus(codes.Error, "refresh token rejected")
		slog.Warn("refresh token rejected")
		return models.TokenPair{}, pkgerrors.ErrInvalidToken
	}

	// Rotation: both tokens are re-issued from the verified claims.
	// There is no revocation store, so the presented token is only
	// logically superseded; it stays valid until its own expiry.
	pair, err := s.tokens.IssuePair(claims.UserID(), claims.Username)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		slog.Error("failed to rotate token pair", "user_id", claims.UserID(), "error", err)
		return models.TokenPair{}, fmt.Errorf("%w: failed to issue tokens", pkgerrors.ErrInternal)
	}

	slog.Info("token pair rotated", "user_id", claims.UserID())
	return pair, nil
}

// Me resolves the authenticated caller's stored user record. The gate
// already verified the token; this re-reads the row so a user deleted
// after issuance is reported as gone.
func (s *sessionService) Me(ctx context.Context, userID int64) (*models.PublicUser, error) {
	tracer := otel.Tracer("parley")
	ctx, span := tracer.Start(ctx, "Me")
	defer span.End()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrUserNotFound) {
			span.SetStatus(codes.Error, "user not found")
			return nil, pkgerrors.ErrUserNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		slog.Error("failed to look up user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: failed to look up user", pkgerrors.ErrInternal)
	}

	public := user.Public()
	return &public, nil
}

// emitEvent publishes to Kafka off the request path, retrying a few
// times before giving up.
func (s *sessionService) emitEvent(event map[string]interface{}) {
	if s.producer == nil {
		return
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "error", err)
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
