package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleHuman  Role = "human"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// NormalizeRole maps the role spellings seen on the wire onto our canonical
// set. Unknown roles default to RoleAgent so that new server-side roles keep
// flowing instead of being dropped.
func NormalizeRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "human", "user":
		return RoleHuman
	case "ai", "assistant", "agent":
		return RoleAgent
	case "system":
		return RoleSystem
	case "tool":
		return RoleTool
	default:
		return RoleAgent
	}
}

// Message is a single entry in a conversation. Complete stays false while the
// message is still being assembled from stream fragments.
type Message struct {
	ID       string                 `json:"id"`
	Role     Role                   `json:"role"`
	Content  string                 `json:"content"`
	Complete bool                   `json:"complete"`
	Time     time.Time              `json:"time"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:       uuid.NewString(),
		Role:     role,
		Content:  content,
		Complete: true,
		Time:     time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Clone returns a deep copy, so snapshots handed to the UI never alias the
// buffer's working state.
func (m *Message) Clone() *Message {
	ret := *m
	if m.Metadata != nil {
		ret.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			ret.Metadata[k] = v
		}
	}
	return &ret
}

func (m *Message) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", m.ID).
		Str("role", string(m.Role)).
		Int("content_length", len(m.Content)).
		Bool("complete", m.Complete).
		Time("time", m.Time)
}

type Conversation []*Message
