package store

import (
	"context"
	"sync"

	"github.com/alpha-xone/langchat/pkg/conversation"
)

// MemoryStore is a MessageStore backed by an in-memory map. It exists for
// tests and the demo CLI; production callers bring their own store.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]conversation.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]conversation.Conversation),
	}
}

func (s *MemoryStore) PersistMessage(_ context.Context, threadID string, msg *conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[threadID]
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			msgs[i] = msg.Clone()
			return nil
		}
	}
	s.messages[threadID] = append(msgs, msg.Clone())
	return nil
}

func (s *MemoryStore) LoadMessages(_ context.Context, threadID string) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[threadID]
	ret := make(conversation.Conversation, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, m.Clone())
	}
	return ret, nil
}

func (s *MemoryStore) DeleteThreadMessages(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, threadID)
	return nil
}

var _ MessageStore = (*MemoryStore)(nil)
