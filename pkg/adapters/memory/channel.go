package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Message is one outbound message captured by Channel.
type Message struct {
	To      domain.Identity
	Title   string
	Text    string
	Choices []domain.Choice
}

// Channel implements ports.Channel by recording messages. Used by tests and the dev server.
type Channel struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewChannel creates an empty recording channel.
func NewChannel() *Channel {
	return &Channel{}
}

// FailWith makes every subsequent send return err (nil restores normal behavior).
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// SendText records a plain text message.
func (c *Channel) SendText(ctx context.Context, id domain.Identity, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, Message{To: id, Text: text})
	return nil
}

// SendChoice records an interactive prompt.
func (c *Channel) SendChoice(ctx context.Context, id domain.Identity, title, body string, choices []domain.Choice) error {
	if len(choices) > domain.MaxChoices {
		return fmt.Errorf("%w: %d", domain.ErrTooManyChoices, len(choices))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, Message{
		To:      id,
		Title:   title,
		Text:    body,
		Choices: append([]domain.Choice(nil), choices...),
	})
	return nil
}

// Messages returns the messages sent to id, in order.
func (c *Channel) Messages(id domain.Identity) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Message
	for _, m := range c.messages {
		if m.To == id {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message sent to id.
func (c *Channel) Last(id domain.Identity) (Message, bool) {
	msgs := c.Messages(id)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset drops all recorded messages.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
