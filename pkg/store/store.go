package store

import (
	"context"

	"github.com/alpha-xone/langchat/pkg/conversation"
)

// TokenProvider supplies the opaque bearer credential attached to transport
// requests. A nil return means "no credential available".
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// UserProvider supplies the current user id used to tag persisted messages.
type UserProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// MessageStore is the persistence collaborator. Implementations live outside
// this library; an in-memory implementation is provided for tests and demos.
type MessageStore interface {
	PersistMessage(ctx context.Context, threadID string, msg *conversation.Message) error
	LoadMessages(ctx context.Context, threadID string) (conversation.Conversation, error)
	DeleteThreadMessages(ctx context.Context, threadID string) error
}

// StaticTokenProvider returns a fixed token, typically loaded from
// configuration or the environment.
type StaticTokenProvider struct {
	Token string
}

func (p StaticTokenProvider) AccessToken(context.Context) (string, error) {
	return p.Token, nil
}

var _ TokenProvider = StaticTokenProvider{}

// StaticUserProvider returns a fixed user id.
type StaticUserProvider struct {
	UserID string
}

func (p StaticUserProvider) CurrentUserID(context.Context) (string, error) {
	return p.UserID, nil
}

var _ UserProvider = StaticUserProvider{}
