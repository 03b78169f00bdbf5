package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// NodeID identifies a single message for the lifetime of the conversation.
type NodeID uuid.UUID

var NullNode = NodeID(uuid.Nil)

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *NodeID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// Source is a citation attached to a completed assistant message.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message is a single conversation turn. Content grows monotonically while
// Streaming is true and freezes once the turn completes.
type Message struct {
	ID         NodeID    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	// Reasoning is only populated on assistant messages when reasoning
	// capture was enabled for the turn.
	Reasoning string   `json:"reasoning,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	Streaming bool     `json:"streaming"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
		m.LastUpdate = t
	}
}

func WithStreaming(streaming bool) MessageOption {
	return func(m *Message) {
		m.Streaming = streaming
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewMessage(role Role, content string, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:         NewNodeID(),
		Role:       role,
		Content:    content,
		Time:       now,
		LastUpdate: now,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// NewPlaceholder creates the empty assistant message that a streaming turn
// fills in incrementally.
func NewPlaceholder(options ...MessageOption) *Message {
	options = append([]MessageOption{WithStreaming(true)}, options...)
	return NewMessage(RoleAssistant, "", options...)
}

func (m *Message) Clone() *Message {
	ret := *m
	if m.Sources != nil {
		ret.Sources = make([]Source, len(m.Sources))
		copy(ret.Sources, m.Sources)
	}
	if m.Metadata != nil {
		ret.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			ret.Metadata[k] = v
		}
	}
	return &ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

type Conversation []*Message

// GetSinglePrompt concatenates the whole conversation into one prompt string.
func (c Conversation) GetSinglePrompt() string {
	if len(c) == 0 {
		return ""
	}
	if len(c) == 1 {
		return c[0].Content
	}

	prompt := ""
	for _, m := range c {
		prompt += m.View() + "\n"
	}

	return prompt
}
