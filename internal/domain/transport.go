package domain

import "context"

// Sender delivers a single text message to a recipient and returns the transport's message ID.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Generator turns the user's story into advice text. Calls may block for seconds.
type Generator interface {
	Generate(ctx context.Context, history string) (string, error)
}

// Notifier reports operator-facing events such as dropped units.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
