package domain

import (
	"fmt"
	"time"
)

// InboundMessage is one chat message received through the webhook.
// It only lives for the duration of a request and its dispatched unit.
type InboundMessage struct {
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// LogEntry is one completed processing cycle. The store assigns ID and CreatedAt.
type LogEntry struct {
	ID           int64     `json:"id"`
	Sender       string    `json:"sender"`
	InboundBody  string    `json:"inbound_body"`
	OutboundBody string    `json:"outbound_body"`
	CreatedAt    time.Time `json:"created_at"`
}

// OutboundChunk is one positional segment of a delivery. Index and Total are 1-based.
type OutboundChunk struct {
	Index int
	Total int
	Text  string
}

// Render returns the text as sent over the transport, with the part marker appended.
func (c OutboundChunk) Render() string {
	return fmt.Sprintf("%s (Part %d/%d)", c.Text, c.Index, c.Total)
}
