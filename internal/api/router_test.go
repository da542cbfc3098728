package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/infrastructure/auth"
	"github.com/parley-chat/parley/internal/llm"
	"github.com/parley-chat/parley/internal/models"
	service "github.com/parley-chat/parley/internal/services"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*models.User
}

func (r *memUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Username]; exists {
		return pkgerrors.ErrUsernameTaken
	}
	r.nextID++
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	clone := *user
	r.users[user.Username] = &clone
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[username]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

type memConvRepo struct {
	mu            sync.Mutex
	nextID        int64
	conversations map[int64]*models.Conversation
}

func (r *memConvRepo) Create(_ context.Context, conv *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv.ID = r.nextID
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	clone := *conv
	r.conversations[conv.ID] = &clone
	return nil
}

func (r *memConvRepo) GetByID(_ context.Context, id, userID int64) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, pkgerrors.ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (r *memConvRepo) ListByUser(_ context.Context, userID int64) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Conversation{}
	for _, conv := range r.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memConvRepo) Rename(_ context.Context, id, userID int64, title string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, pkgerrors.ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	clone := *conv
	return &clone, nil
}

func (r *memConvRepo) Touch(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.conversations[id]; ok {
		conv.UpdatedAt = time.Now()
	}
	return nil
}

func (r *memConvRepo) Delete(_ context.Context, id, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return pkgerrors.ErrNotFound
	}
	delete(r.conversations, id)
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	messages []models.Message
}

func (r *memMessageRepo) Create(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	msg.Timestamp = time.Now()
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memMessageRepo) ListByConversation(_ context.Context, conversationID int64, offset, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.forConversation(conversationID)
	if offset >= len(all) {
		return []models.Message{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *memMessageRepo) ListRecent(_ context.Context, conversationID int64, n int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.forConversation(conversationID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (r *memMessageRepo) forConversation(conversationID int64) []models.Message {
	out := []models.Message{}
	for _, msg := range r.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	tokens := auth.NewManager([]byte("test-secret"), time.Hour, 24*time.Hour)
	sessions := service.NewSessionService(&memUserRepo{users: map[string]*models.User{}}, tokens, nil)
	chat := service.NewChatService(
		&memConvRepo{conversations: map[int64]*models.Conversation{}},
		&memMessageRepo{},
		nil, nil,
		llm.EchoCaller{},
	)

	srv := httptest.NewServer(api.SetupRouter(sessions, chat, tokens))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp.StatusCode
}

type authResponse struct {
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken"`
	User         models.PublicUser `json:"user"`
}

func register(t *testing.T, srv *httptest.Server, username, password string) authResponse {
	t.Helper()
	var resp authResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "",
		map[string]string{"username": username, "password": password}, &resp)
	require.Equal(t, http.StatusCreated, status)
	return resp
}

func TestRouter_RegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)

	resp := register(t, srv, "alice", "password123")
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "alice", resp.User.Username)
	assert.NotZero(t, resp.User.ID)

	t.Run("duplicate username conflicts", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "",
			map[string]string{"username": "alice", "password": "password456"}, nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("short password rejected", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/register", "",
			map[string]string{"username": "bob", "password": "short"}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("login with wrong password", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "",
			map[string]string{"username": "alice", "password": "wrongpassword"}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("login success", func(t *testing.T) {
		var login authResponse
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/login", "",
			map[string]string{"username": "alice", "password": "password123"}, &login)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, resp.User.ID, login.User.ID)
		assert.NotEmpty(t, login.Token)
	})
}

func TestRouter_AuthGate(t *testing.T) {
	srv := newTestServer(t)
	resp := register(t, srv, "alice", "password123")

	t.Run("missing token", func(t *testing.T) {
		status := doJSON(t, http.MethodGet, srv.URL+"/conversations", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("garbage token", func(t *testing.T) {
		status := doJSON(t, http.MethodGet, srv.URL+"/conversations", "not-a-token", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("refresh token rejected at the gate", func(t *testing.T) {
		status := doJSON(t, http.MethodGet, srv.URL+"/conversations", resp.RefreshToken, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("access token admitted", func(t *testing.T) {
		var conversations []models.Conversation
		status := doJSON(t, http.MethodGet, srv.URL+"/conversations", resp.Token, nil, &conversations)
		assert.Equal(t, http.StatusOK, status)
		assert.Empty(t, conversations)
	})
}

func TestRouter_RefreshFlow(t *testing.T) {
	srv := newTestServer(t)
	resp := register(t, srv, "alice", "password123")

	t.Run("rotation returns a distinct working pair", func(t *testing.T) {
		var pair models.TokenPair
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "",
			map[string]string{"refreshToken": resp.RefreshToken}, &pair)
		require.Equal(t, http.StatusOK, status)
		assert.NotEqual(t, resp.Token, pair.AccessToken)
		assert.NotEqual(t, resp.RefreshToken, pair.RefreshToken)

		status = doJSON(t, http.MethodGet, srv.URL+"/conversations", pair.AccessToken, nil, nil)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("empty token is a bad request", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "",
			map[string]string{"refreshToken": ""}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "",
			map[string]string{"refreshToken": "not-a-token"}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("access token cannot be used to refresh", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/auth/refresh", "",
			map[string]string{"refreshToken": resp.Token}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestRouter_ConversationLifecycle(t *testing.T) {
	srv := newTestServer(t)
	alice := register(t, srv, "alice", "password123")
	mallory := register(t, srv, "mallory", "password123")

	var conv models.Conversation
	status := doJSON(t, http.MethodPost, srv.URL+"/conversations", alice.Token,
		map[string]string{"title": "Trip"}, &conv)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Trip", conv.Title)

	convURL := fmt.Sprintf("%s/conversations/%d", srv.URL, conv.ID)

	t.Run("empty title rejected", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/conversations", alice.Token,
			map[string]string{"title": "   "}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("message exchange", func(t *testing.T) {
		var exchange service.MessageExchange
		status := doJSON(t, http.MethodPost, convURL+"/messages", alice.Token,
			map[string]string{"content": "Hello"}, &exchange)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, models.RoleUser, exchange.User.Role)
		assert.Equal(t, "Hello", exchange.User.Content)
		assert.Equal(t, models.RoleAssistant, exchange.Assistant.Role)
		assert.Equal(t, "You said: Hello", exchange.Assistant.Content)
	})

	t.Run("detail includes messages oldest-first", func(t *testing.T) {
		var detail service.ConversationDetail
		status := doJSON(t, http.MethodGet, convURL, alice.Token, nil, &detail)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Trip", detail.Title)
		require.Len(t, detail.Messages, 2)
		assert.Equal(t, models.RoleUser, detail.Messages[0].Role)
		assert.Equal(t, models.RoleAssistant, detail.Messages[1].Role)
	})

	t.Run("other user cannot see the conversation", func(t *testing.T) {
		status := doJSON(t, http.MethodGet, convURL, mallory.Token, nil, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("rename", func(t *testing.T) {
		var renamed models.Conversation
		status := doJSON(t, http.MethodPatch, convURL, alice.Token,
			map[string]string{"title": "Summer trip"}, &renamed)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Summer trip", renamed.Title)
	})

	t.Run("paginated messages", func(t *testing.T) {
		var page service.MessagePage
		url := fmt.Sprintf("%s/messages?conversation_id=%d&cursor=0&limit=1", srv.URL, conv.ID)
		status := doJSON(t, http.MethodGet, url, alice.Token, nil, &page)
		require.Equal(t, http.StatusOK, status)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "Hello", page.Items[0].Content)
		require.NotNil(t, page.NextCursor)
		assert.Equal(t, 1, *page.NextCursor)
	})

	t.Run("raw message create", func(t *testing.T) {
		var msg models.Message
		status := doJSON(t, http.MethodPost, srv.URL+"/messages", alice.Token,
			map[string]interface{}{"conversation_id": conv.ID, "role": "system", "content": "Be brief."}, &msg)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, models.RoleSystem, msg.Role)
		assert.Equal(t, "Be brief.", msg.Content)
		assert.NotZero(t, msg.ID)
	})

	t.Run("raw message create with bad role", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/messages", alice.Token,
			map[string]interface{}{"conversation_id": conv.ID, "role": "bot", "content": "hi"}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("raw message create into another user's conversation", func(t *testing.T) {
		status := doJSON(t, http.MethodPost, srv.URL+"/messages", mallory.Token,
			map[string]interface{}{"conversation_id": conv.ID, "role": "user", "content": "hi"}, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("usage without counters is zero", func(t *testing.T) {
		var usage struct {
			TotalTokens int64 `json:"totalTokens"`
		}
		status := doJSON(t, http.MethodGet, srv.URL+"/usage", alice.Token, nil, &usage)
		require.Equal(t, http.StatusOK, status)
		assert.Zero(t, usage.TotalTokens)
	})

	t.Run("delete then gone", func(t *testing.T) {
		status := doJSON(t, http.MethodDelete, convURL, alice.Token, nil, nil)
		require.Equal(t, http.StatusNoContent, status)

		status = doJSON(t, http.MethodGet, convURL, alice.Token, nil, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestRouter_Me(t *testing.T) {
	srv := newTestServer(t)
	resp := register(t, srv, "alice", "password123")

	t.Run("requires a token", func(t *testing.T) {
		status := doJSON(t, http.MethodGet, srv.URL+"/me", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("returns the caller's record", func(t *testing.T) {
		var user models.PublicUser
		status := doJSON(t, http.MethodGet, srv.URL+"/me", resp.Token, nil, &user)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, resp.User.ID, user.ID)
		assert.Equal(t, "alice", user.Username)
	})
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t)
	status := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
