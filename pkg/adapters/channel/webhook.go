package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
)

// ParseWebhook extracts the events of one inbound delivery.
// Message types the engine cannot act on (images, reactions, status
// receipts) are skipped.
func ParseWebhook(data []byte) ([]domain.Event, error) {
	var hook Webhook
	if err := json.Unmarshal(data, &hook); err != nil {
		return nil, fmt.Errorf("channel: decode webhook: %w", err)
	}

	var events []domain.Event
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev, ok := toEvent(msg)
				if ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events, nil
}

func toEvent(msg inboundMessage) (domain.Event, bool) {
	if msg.ID == "" || msg.From == "" {
		return domain.Event{}, false
	}
	ev := domain.Event{
		ID:         msg.ID,
		Identity:   domain.Normalize(msg.From),
		ReceivedAt: receivedAt(msg.Timestamp),
	}
	switch msg.Type {
	case "text":
		ev.Text = msg.Text.Body
	case "interactive":
		switch msg.Interactive.Type {
		case "button_reply":
			ev.ControlID = msg.Interactive.ButtonReply.ID
		case "list_reply":
			ev.ControlID = msg.Interactive.ListReply.ID
		default:
			return domain.Event{}, false
		}
	case "button":
		ev.ControlID = msg.Button.Payload
		ev.Text = msg.Button.Text
	default:
		return domain.Event{}, false
	}
	return ev, true
}

func receivedAt(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
