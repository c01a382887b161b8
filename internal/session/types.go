package session

import (
	"errors"
	"time"
)

// Roles a turn can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrCorrupt marks a stored conversation that could not be decoded.
var ErrCorrupt = errors.New("session: corrupt conversation state")

// Turn is one role-tagged message in a conversation history.
type Turn struct {
	Role      string    `json:"role"`           // system, user, assistant
	Name      string    `json:"name,omitempty"` // speaker name, user turns only
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role, name, content string) Turn {
	return Turn{
		Role:      role,
		Name:      name,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Info provides summary information about a stored conversation.
type Info struct {
	Key       string    `json:"key"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the persisted, append-only log of turns for each conversation.
// Turns are kept oldest-first; Trim and Clear are the only ways to remove them.
type Store interface {
	// Load returns a copy of the conversation's turns, oldest first.
	// An unknown key yields an empty history.
	Load(key string) ([]Turn, error)

	// Append adds turns to the end of the conversation.
	Append(key string, turns ...Turn) error

	// Replace overwrites the conversation with the given turns.
	Replace(key string, turns []Turn) error

	// Trim removes the n oldest turns.
	Trim(key string, n int) error

	// Clear removes every turn of the conversation.
	Clear(key string) error

	// List returns information about all stored conversations.
	List() ([]Info, error)

	// Close releases resources held by the store.
	Close() error
}

// Suffix reports whether trimmed is a suffix of history.
func Suffix(history, trimmed []Turn) bool {
	if len(trimmed) > len(history) {
		return false
	}
	offset := len(history) - len(trimmed)
	for i := range trimmed {
		a, b := history[offset+i], trimmed[i]
		if a.Role != b.Role || a.Name != b.Name || a.Content != b.Content {
			return false
		}
	}
	return true
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
