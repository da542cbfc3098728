package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/parley-chat/parley/internal/infrastructure/auth"
	"github.com/parley-chat/parley/internal/models"
	service "github.com/parley-chat/parley/internal/services"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
)

type ChatHandler struct {
	chat service.ChatService
}

func NewChatHandler(s service.ChatService) *ChatHandler {
	return &ChatHandler{chat: s}
}

// RegisterRoutes wires the protected routes; the router is expected to
// carry the auth middleware already.
func (h *ChatHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/conversations", h.ListConversations).Methods("GET")
	r.HandleFunc("/conversations", h.CreateConversation).Methods("POST")
	r.HandleFunc("/conversations/{id}", h.GetConversation).Methods("GET")
	r.HandleFunc("/conversations/{id}", h.RenameConversation).Methods("PATCH")
	r.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods("DELETE")
	r.HandleFunc("/conversations/{id}/messages", h.SendMessage).Methods("POST")
	r.HandleFunc("/messages", h.ListMessages).Methods("GET")
	r.HandleFunc("/messages", h.CreateMessage).Methods("POST")
	r.HandleFunc("/usage", h.TokenUsage).Methods("GET")
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
	}
	return id, ok
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (h *ChatHandler) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation), errors.Is(err, pkgerrors.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	conversations, err := h.chat.ListConversations(r.Context(), id.ID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *ChatHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conv, err := h.chat.CreateConversation(r.Context(), id.ID, req.Title)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}

	detail, err := h.chat.GetConversation(r.Context(), id.ID, convID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ChatHandler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conv, err := h.chat.RenameConversation(r.Context(), id.ID, convID, req.Title)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}

	if err := h.chat.DeleteConversation(r.Context(), id.ID, convID); err != nil {
		h.mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	convID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	exchange, err := h.chat.SendMessage(r.Context(), id.ID, convID, req.Content)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exchange)
}

func (h *ChatHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID int64  `json:"conversation_id"`
		Role           string `json:"role"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := h.chat.CreateMessage(r.Context(), id.ID, req.ConversationID, models.Role(req.Role), req.Content)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid conversation id"))
		return
	}
	cursor, _ := strconv.Atoi(r.URL.Query().Get("cursor"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.chat.ListMessages(r.Context(), id.ID, convID, cursor, limit)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ChatHandler) TokenUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	total, err := h.chat.TokenUsage(r.Context(), id.ID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"totalTokens": total})
}
