package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	TokenCount     int32     `json:"token_count"`
	Timestamp      time.Time `json:"timestamp"`
}

type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

type MessageExchange struct {
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
}

type MessagePage struct {
	Items      []Message `json:"items"`
	NextCursor *int      `json:"nextCursor"`
}

type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account and stores the issued session.
func (c *Client) Register(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", credentials{username, password}, &resp); err != nil {
		return nil, err
	}
	if err := c.saveAuth(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates and stores the issued session.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentials{username, password}, &resp); err != nil {
		return nil, err
	}
	if err := c.saveAuth(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) saveAuth(resp *AuthResponse) error {
	user := resp.User
	return c.store.Save(Session{
		AccessToken:  resp.Token,
		RefreshToken: resp.RefreshToken,
		User:         &user,
	})
}

// Refresh forces a token rotation with the stored refresh token.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refreshOnce(ctx)
}

// Logout clears the stored session. The server keeps no session state,
// so there is nothing to revoke remotely.
func (c *Client) Logout() error {
	return c.store.Clear()
}

// Me fetches the caller's user record from the server, as opposed to
// CurrentUser which only reads the stored session.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUser returns the stored public user record, if any.
func (c *Client) CurrentUser() (*User, error) {
	sess, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	return sess.User, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConversation(ctx context.Context, id int64) (*ConversationDetail, error) {
	var out ConversationDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenameConversation(ctx context.Context, id int64, title string) (*Conversation, error) {
	var out Conversation
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/conversations/%d", id), map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d", id), nil, nil)
}

// SendMessage posts a user message and returns the stored user and
// assistant messages.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (*MessageExchange, error) {
	var out MessageExchange
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessage stores a single message with an explicit role, without
// asking the model for a reply.
func (c *Client) CreateMessage(ctx context.Context, conversationID int64, role, content string) (*Message, error) {
	var out Message
	body := map[string]interface{}{
		"conversation_id": conversationID,
		"role":            role,
		"content":         content,
	}
	if err := c.do(ctx, http.MethodPost, "/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64, cursor, limit int) (*MessagePage, error) {
	var out MessagePage
	path := fmt.Sprintf("/messages?conversation_id=%d&cursor=%d&limit=%d", conversationID, cursor, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Usage returns the caller's total token usage.
func (c *Client) Usage(ctx context.Context) (int64, error) {
	var out struct {
		TotalTokens int64 `json:"totalTokens"`
	}
	if err := c.do(ctx, http.MethodGet, "/usage", nil, &out); err != nil {
		return 0, err
	}
	return out.TotalTokens, nil
}

// Health pings the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
