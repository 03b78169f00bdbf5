package conversation

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when an operation references a message id that
	// is not part of the conversation.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidState is returned when an append would leave two streaming
	// messages in the conversation at once. Seeing it means the orchestration
	// layer has a bug.
	ErrInvalidState = errors.New("conversation already has a streaming message")
)

// Patch is a partial update merged into an existing message. Nil fields are
// left untouched.
type Patch struct {
	Content   *string
	Reasoning *string
	Sources   []Source
	Streaming *bool
}

// Manager is the single source of truth for the ordered conversation log.
// All operations are synchronous; callers only ever see snapshots.
type Manager interface {
	Conversation() Conversation
	GetMessage(id NodeID) (*Message, bool)

	Append(msg *Message) error
	Update(id NodeID, patch Patch) error
	// TruncateAfter removes the contiguous suffix following id. With
	// inclusive set, the message itself is removed as well.
	TruncateAfter(id NodeID, inclusive bool) error
	Reset(seed ...*Message)
}
