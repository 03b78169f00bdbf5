package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ManagerImpl struct {
	mu             sync.Mutex
	ConversationID uuid.UUID
	messages       []*Message
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMessages(messages ...*Message) ManagerOption {
	return func(m *ManagerImpl) {
		for _, msg := range messages {
			_ = m.Append(msg)
		}
	}
}

func WithConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		ConversationID: uuid.New(),
	}
	for _, option := range options {
		option(ret)
	}

	return ret
}

// Conversation returns a snapshot. Mutating the returned messages does not
// affect the store.
func (m *ManagerImpl) Conversation() Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := make(Conversation, len(m.messages))
	for i, msg := range m.messages {
		ret[i] = msg.Clone()
	}
	return ret
}

func (m *ManagerImpl) GetMessage(id NodeID) (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return m.messages[idx].Clone(), true
}

func (m *ManagerImpl) Append(msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Streaming {
		for _, existing := range m.messages {
			if existing.Streaming {
				return errors.Wrapf(ErrInvalidState,
					"cannot append streaming message %s while %s is still streaming",
					msg.ID, existing.ID)
			}
		}
	}

	log.Trace().
		Str("conversation_id", m.ConversationID.String()).
		Str("message_id", msg.ID.String()).
		Str("role", string(msg.Role)).
		Bool("streaming", msg.Streaming).
		Int("length", len(m.messages)+1).
		Msg("appending message")

	m.messages = append(m.messages, msg.Clone())
	return nil
}

func (m *ManagerImpl) Update(id NodeID, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return errors.Wrapf(ErrNotFound, "update %s", id)
	}

	msg := m.messages[idx]
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Reasoning != nil {
		msg.Reasoning = *patch.Reasoning
	}
	if patch.Sources != nil {
		msg.Sources = make([]Source, len(patch.Sources))
		copy(msg.Sources, patch.Sources)
	}
	if patch.Streaming != nil {
		msg.Streaming = *patch.Streaming
	}
	msg.LastUpdate = time.Now()

	return nil
}

func (m *ManagerImpl) TruncateAfter(id NodeID, inclusive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return errors.Wrapf(ErrNotFound, "truncate after %s", id)
	}

	cut := idx + 1
	if inclusive {
		cut = idx
	}

	log.Debug().
		Str("conversation_id", m.ConversationID.String()).
		Str("message_id", id.String()).
		Bool("inclusive", inclusive).
		Int("removed", len(m.messages)-cut).
		Msg("truncating conversation")

	m.messages = m.messages[:cut]
	return nil
}

func (m *ManagerImpl) Reset(seed ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = m.messages[:0]
	for _, msg := range seed {
		m.messages = append(m.messages, msg.Clone())
	}

	log.Debug().
		Str("conversation_id", m.ConversationID.String()).
		Int("seed_length", len(seed)).
		Msg("conversation reset")
}

// indexOf must be called with the mutex held.
func (m *ManagerImpl) indexOf(id NodeID) int {
	for i, msg := range m.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}
