package tokens

import (
	"context"

	"github.com/rhbot/rhbot/internal/session"
)

const (
	// perMessageOverhead covers the role and delimiters of each message.
	perMessageOverhead = 3
	// replyPriming covers the tokens that prime the assistant reply.
	replyPriming = 3
)

// LocalCounter counts tokens offline with a byte-pair encoder.
// It never fails.
type LocalCounter struct {
	enc Encoder
}

// NewLocalCounter creates a counter over enc.
func NewLocalCounter(enc Encoder) *LocalCounter {
	return &LocalCounter{enc: enc}
}

// Count implements Counter.
func (c *LocalCounter) Count(_ context.Context, messages []session.Turn) (int, error) {
	n := 0
	for _, msg := range messages {
		n += perMessageOverhead
		n += c.enc.Len(msg.Content)
		if msg.Name != "" {
			n += c.enc.Len(msg.Name)
		}
	}
	return n + replyPriming, nil
}
