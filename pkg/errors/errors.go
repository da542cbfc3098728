package errors

import "errors"

var (
	ErrValidation         = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotFound           = errors.New("not found")
	ErrNilUser            = errors.New("user is nil")
	ErrNilConversation    = errors.New("conversation is nil")
	ErrNilMessage         = errors.New("message is nil")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrInternal           = errors.New("internal error")
)
