// Package channel talks to a WhatsApp-style messaging API: it sends text and
// button prompts, and parses inbound webhook deliveries into events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/go-resty/resty/v2"
)

var _ ports.Channel = (*Client)(nil)

// DefaultTimeout bounds one outbound request when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Client sends messages through the channel's HTTP API.
type Client struct {
	http *resty.Client
}

// Option configures the client.
type Option func(*resty.Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		c.SetTimeout(d)
	}
}

// WithRetries retries requests that failed before reaching the API.
func WithRetries(n int) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(n)
	}
}

// New creates a client posting to baseURL + "/messages".
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("channel: base url is required")
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "stepwise/1.0").
		SetHeader("Content-Type", "application/json").
		SetTimeout(DefaultTimeout)
	if token != "" {
		c.SetAuthToken(token)
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, id domain.Identity, text string) error {
	return c.send(ctx, outbound{
		Product: product,
		To:      string(id),
		Type:    "text",
		Text:    &textBody{Body: text},
	})
}

// SendChoice sends a button prompt. The API accepts at most domain.MaxChoices buttons.
func (c *Client) SendChoice(ctx context.Context, id domain.Identity, title, body string, choices []domain.Choice) error {
	if len(choices) > domain.MaxChoices {
		return fmt.Errorf("%w: %d > %d", domain.ErrTooManyChoices, len(choices), domain.MaxChoices)
	}
	if body == "" {
		body, title = title, ""
	}
	msg := &interactive{
		Type: "button",
		Body: textBody{Text: body},
	}
	if title != "" {
		msg.Header = &header{Type: "text", Text: title}
	}
	for _, ch := range choices {
		msg.Action.Buttons = append(msg.Action.Buttons, button{
			Type:  "reply",
			Reply: reply{ID: ch.ID, Title: ch.Title},
		})
	}
	return c.send(ctx, outbound{
		Product:     product,
		To:          string(id),
		Type:        "interactive",
		Interactive: msg,
	})
}

func (c *Client) send(ctx context.Context, msg outbound) error {
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("channel: send %s: %w", msg.Type, err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("channel: send %s: status %d: %s", msg.Type, resp.StatusCode(), apiErr.Error.Message)
		}
		return fmt.Errorf("channel: send %s: status %d", msg.Type, resp.StatusCode())
	}
	return nil
}
