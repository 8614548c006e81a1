package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mezada/internal/domain"
)

func TestResponder_DeliversPartsInOrder(t *testing.T) {
	sender := &fakeSender{}
	r := NewResponder(ResponderConfig{Sender: sender, MaxLen: 5, Logger: testLogger()})

	report := r.Deliver(context.Background(), "+1555", "abcdefghijkl")
	if report.Err != nil {
		t.Fatalf("unexpected error: %v", report.Err)
	}

	want := []sentMessage{
		{To: "+1555", Body: "abcde (Part 1/3)"},
		{To: "+1555", Body: "fghij (Part 2/3)"},
		{To: "+1555", Body: "kl (Part 3/3)"},
	}
	if diff := cmp.Diff(want, sender.messages()); diff != "" {
		t.Errorf("sends mismatch (-want +got):\n%s", diff)
	}
	if report.Total != 3 || report.Sent != 3 || len(report.Failed) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestResponder_FailedPartDoesNotStopLaterParts(t *testing.T) {
	sender := &fakeSender{failOn: map[int]bool{2: true}}
	r := NewResponder(ResponderConfig{Sender: sender, MaxLen: 4, Logger: testLogger()})

	report := r.Deliver(context.Background(), "+1555", "aaaabbbbcccc")

	msgs := sender.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected all 3 parts attempted, got %d", len(msgs))
	}
	if !strings.HasPrefix(msgs[2].Body, "cccc") {
		t.Errorf("third part should still be sent, got %q", msgs[2].Body)
	}
	if diff := cmp.Diff([]int{2}, report.Failed); diff != "" {
		t.Errorf("failed parts mismatch (-want +got):\n%s", diff)
	}
	if report.Sent != 2 {
		t.Errorf("expected 2 sent, got %d", report.Sent)
	}
	if !errors.Is(report.Err, domain.ErrDelivery) {
		t.Errorf("expected ErrDelivery, got %v", report.Err)
	}
}

func TestResponder_DefaultLimit(t *testing.T) {
	sender := &fakeSender{}
	r := NewResponder(ResponderConfig{Sender: sender, Logger: testLogger()})

	text := strings.Repeat("x", 1500) + "tail"
	report := r.Deliver(context.Background(), "+1555", text)
	if report.Total != 2 {
		t.Fatalf("expected 2 parts at the 1500 limit, got %d", report.Total)
	}
	msgs := sender.messages()
	if msgs[1].Body != "tail (Part 2/2)" {
		t.Errorf("unexpected last part: %q", msgs[1].Body)
	}
}

func TestResponder_EmptyText(t *testing.T) {
	sender := &fakeSender{}
	r := NewResponder(ResponderConfig{Sender: sender, Logger: testLogger()})

	report := r.Deliver(context.Background(), "+1555", "")
	if report.Total != 1 {
		t.Fatalf("expected a single part, got %d", report.Total)
	}
	if got := sender.messages()[0].Body; got != " (Part 1/1)" {
		t.Errorf("unexpected body %q", got)
	}
}
