package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"mezada/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sentMessage struct {
	To   string
	Body string
}

// fakeSender records every send. Calls listed in failOn (1-based) fail.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	calls  int
	failOn map[int]bool
}

func (f *fakeSender) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	if f.failOn[f.calls] {
		return "", errors.New("transport rejected message")
	}
	return fmt.Sprintf("SM%d", f.calls), nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeGenerator struct {
	advice string
	err    error
	mu     sync.Mutex
	calls  []string
}

func (f *fakeGenerator) Generate(ctx context.Context, history string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, history)
	f.mu.Unlock()
	return f.advice, f.err
}

// memStore is an in-memory LogStore with switchable failures.
type memStore struct {
	mu        sync.Mutex
	entries   []domain.LogEntry
	lookupErr error
	appendErr error
	lookups   int
}

func (m *memStore) Initialize(ctx context.Context) error { return nil }

func (m *memStore) HasPriorContact(ctx context.Context, sender string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	for _, e := range m.entries {
		if e.Sender == sender {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Append(ctx context.Context, sender, inbound, outbound string) (domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return domain.LogEntry{}, m.appendErr
	}
	e := domain.LogEntry{
		ID:           int64(len(m.entries) + 1),
		Sender:       sender,
		InboundBody:  inbound,
		OutboundBody: outbound,
	}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}
