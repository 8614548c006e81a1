package domain

import "context"

// LogStore is the append-only record of completed exchanges.
type LogStore interface {
	Initialize(ctx context.Context) error
	HasPriorContact(ctx context.Context, sender string) (bool, error)
	Append(ctx context.Context, sender, inbound, outbound string) (LogEntry, error)
}
