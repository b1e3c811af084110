package core

import "time"

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry of a thread (the enclosing conversation
// under which executions occur). Role follows conversational conventions
// (user, assistant, tool).
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMessage constructs a transcript message with a fresh id and UTC timestamp.
func NewMessage(role, content string) Message {
	return Message{ID: NewID(), Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// ThreadStore persists per-thread transcripts and owner attribution. The
// transcript is append-only and ordered by emission time; it doubles as the
// source for client-side completion reconstruction when live execution state
// is unobservable.
type ThreadStore interface {
	// Append adds a message to the thread, creating the thread lazily.
	Append(threadID string, msg Message) error
	// History returns a defensive copy of the thread's ordered transcript.
	History(threadID string) ([]Message, error)
	// Owner returns the user owning the thread, if attribution is known.
	Owner(threadID string) (string, bool)
	// SetOwner records thread ownership for later attribution lookups.
	SetOwner(threadID, userID string) error
}
