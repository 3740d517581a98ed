package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Buffer accumulates stream fragments into messages, keyed by message id.
//
// Fragments for different ids may interleave arbitrarily; fragments for the
// same id must arrive in delivery order (the transport guarantees this, the
// buffer does not reorder). Every update installs a fresh copy of the message,
// so pointers handed out by Apply or GetAll never change underneath a caller.
type Buffer struct {
	mu       sync.Mutex
	messages map[string]*Message
	order    map[string]int
	nextSeq  int
}

func NewBuffer() *Buffer {
	return &Buffer{
		messages: make(map[string]*Message),
		order:    make(map[string]int),
	}
}

// Apply merges a fragment into the message with the same id, creating the
// message if this is the first fragment for that id. It returns the merged,
// current state of the message.
//
// Merge rules: ContentFull replaces, ContentDelta appends, metadata is
// unioned, Final flips Complete. Once a message is complete, further
// fragments for its id are ignored (completion is idempotent).
func (b *Buffer) Apply(f *Fragment) *Message {
	if f == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.messages[f.ID]
	if ok && existing.Complete {
		log.Debug().Object("fragment", f).Msg("fragment for completed message ignored")
		return existing
	}

	var merged *Message
	if !ok {
		role := f.Role
		if role == "" {
			role = RoleAgent
		}
		merged = &Message{
			ID:   f.ID,
			Role: role,
			Time: time.Now(),
		}
		b.order[f.ID] = b.nextSeq
		b.nextSeq++
	} else {
		merged = existing.Clone()
		if f.Role != "" {
			merged.Role = f.Role
		}
	}

	if f.ContentFull != nil {
		merged.Content = *f.ContentFull
	} else if f.ContentDelta != "" {
		merged.Content += f.ContentDelta
	}

	if len(f.Metadata) > 0 {
		if merged.Metadata == nil {
			merged.Metadata = make(map[string]interface{}, len(f.Metadata))
		}
		for k, v := range f.Metadata {
			merged.Metadata[k] = v
		}
	}

	merged.Complete = f.Final

	b.messages[f.ID] = merged
	return merged
}

// Put inserts a fully-formed message, replacing any partial state for the
// same id. Used for locally-created human messages and for warming the
// buffer from persisted history.
func (b *Buffer) Put(m *Message) {
	if m == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.messages[m.ID]; !ok {
		b.order[m.ID] = b.nextSeq
		b.nextSeq++
	}
	b.messages[m.ID] = m.Clone()
}

func (b *Buffer) Get(id string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	return m, ok
}

// Pending returns the ids of messages that are still incomplete.
func (b *Buffer) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ret []string
	for id, m := range b.messages {
		if !m.Complete {
			ret = append(ret, id)
		}
	}
	sort.Strings(ret)
	return ret
}

// GetAll returns all messages sorted by timestamp ascending. Messages with
// equal timestamps keep their insertion order, so the result is deterministic.
func (b *Buffer) GetAll() Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()

	ret := make(Conversation, 0, len(b.messages))
	for _, m := range b.messages {
		ret = append(ret, m)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		if ret[i].Time.Equal(ret[j].Time) {
			return b.order[ret[i].ID] < b.order[ret[j].ID]
		}
		return ret[i].Time.Before(ret[j].Time)
	})
	return ret
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Clear resets the buffer. Used on explicit "clear conversation" and on
// thread switch.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = make(map[string]*Message)
	b.order = make(map[string]int)
	b.nextSeq = 0
}
