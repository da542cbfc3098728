package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/parley-chat/parley/internal/models"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
)

// TokenUse discriminates access tokens from refresh tokens inside the
// claims so one kind can never be presented where the other is expected.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseRefresh TokenUse = "refresh"
)

type Claims struct {
	Username string   `json:"username"`
	Use      TokenUse `json:"use"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim. Returns 0 when the subject is
// missing or not a positive integer.
func (c *Claims) UserID() int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Manager signs and verifies the token pair. It is stateless and safe
// for concurrent use.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(secret []byte, accessTTL, refreshTTL time.Duration) *Manager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &Manager{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (m *Manager) IssueAccess(userID int64, username string) (string, error) {
	return m.issue(userID, username, UseAccess, m.accessTTL)
}

func (m *Manager) IssueRefresh(userID int64, username string) (string, error) {
	return m.issue(userID, username, UseRefresh, m.refreshTTL)
}

func (m *Manager) IssuePair(userID int64, username string) (models.TokenPair, error) {
	access, err := m.IssueAccess(userID, username)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := m.IssueRefresh(userID, username)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) issue(userID int64, username string, use TokenUse, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Use:      use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks signature, expiry, claim shape and the use tag. Every
// failure collapses into pkgerrors.ErrInvalidToken so callers cannot
// tell which check rejected the token.
func (m *Manager) Verify(tokenStr string, expected TokenUse) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, pkgerrors.ErrInvalidToken
	}
	if claims.Use != expected {
		return nil, pkgerrors.ErrInvalidToken
	}
	if claims.UserID() <= 0 || claims.Username == "" {
		return nil, pkgerrors.ErrInvalidToken
	}
	return claims, nil
}
