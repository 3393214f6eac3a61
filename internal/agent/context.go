package agent

import (
	"sync"

	"github.com/veridianlabs/storycore/internal/models"
)

// DefaultMaxMessages is the ring buffer size a ContextManager uses when none
// is specified.
const DefaultMaxMessages = 50

// ContextManager is a bounded ring buffer of conversation messages, with an
// optional system prompt prepended on every snapshot.
type ContextManager struct {
	mu           sync.Mutex
	systemPrompt string
	maxMessages  int
	messages     []models.Message
}

func NewContextManager(maxMessages int) *ContextManager {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &ContextManager{maxMessages: maxMessages}
}

// SetSystemPrompt sets the text prepended as a system message on every
// Snapshot. An empty prompt omits the system message entirely.
func (c *ContextManager) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// Append adds a message to the buffer, evicting the oldest message once the
// buffer exceeds its configured capacity.
func (c *ContextManager) Append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	if len(c.messages) > c.maxMessages {
		c.messages = c.messages[len(c.messages)-c.maxMessages:]
	}
}

// Snapshot returns the system prompt (if set) followed by the buffered
// messages, suitable for GenerateRequest.Messages.
func (c *ContextManager) Snapshot() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, 0, len(c.messages)+1)
	if c.systemPrompt != "" {
		out = append(out, models.NewTextMessage(models.RoleSystem, c.systemPrompt))
	}
	out = append(out, c.messages...)
	return out
}

func (c *ContextManager) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
