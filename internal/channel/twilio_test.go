package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestTwilio(srvURL string) *Twilio {
	return NewTwilio(TwilioConfig{
		APIBase:       srvURL,
		AccountSID:    "AC123",
		AuthToken:     "token",
		From:          "whatsapp:+14155238886",
		SendTimeout:   2 * time.Second,
		RatePerSecond: 1000,
		Burst:         10,
		Logger:        testLogger(),
	})
}

func TestTwilio_Send(t *testing.T) {
	var form url.Values
	var user, pass, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM001","status":"queued"}`)
	}))
	defer srv.Close()

	sid, err := newTestTwilio(srv.URL).Send(context.Background(), "whatsapp:+1555", "hello (Part 1/1)")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sid != "SM001" {
		t.Errorf("expected SM001, got %q", sid)
	}
	if path != "/Accounts/AC123/Messages.json" {
		t.Errorf("unexpected path: %s", path)
	}
	if user != "AC123" || pass != "token" {
		t.Errorf("unexpected basic auth: %s/%s", user, pass)
	}
	if form.Get("To") != "whatsapp:+1555" || form.Get("From") != "whatsapp:+14155238886" {
		t.Errorf("unexpected addressing: %v", form)
	}
	if form.Get("Body") != "hello (Part 1/1)" {
		t.Errorf("unexpected body: %q", form.Get("Body"))
	}
}

func TestTwilio_SendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`)
	}))
	defer srv.Close()

	_, err := newTestTwilio(srv.URL).Send(context.Background(), "bogus", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != 21211 || apiErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected API error: %+v", apiErr)
	}
}

func TestTwilio_SendNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "bad gateway")
	}))
	defer srv.Close()

	_, err := newTestTwilio(srv.URL).Send(context.Background(), "whatsapp:+1555", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "bad gateway" {
		t.Errorf("expected raw body as message, got %q", apiErr.Message)
	}
}

func TestTwilio_SendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tw := newTestTwilio(srv.URL)
	tw.timeout = 50 * time.Millisecond

	start := time.Now()
	if _, err := tw.Send(context.Background(), "whatsapp:+1555", "hi"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("send was not bounded by timeout: %v", elapsed)
	}
}

func TestTwilio_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM"}`)
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{
		APIBase:       srv.URL,
		AccountSID:    "AC123",
		SendTimeout:   100 * time.Millisecond,
		RatePerSecond: 0.1,
		Burst:         1,
		Logger:        testLogger(),
	})

	if _, err := tw.Send(context.Background(), "a", "first"); err != nil {
		t.Fatalf("first send should use the burst token: %v", err)
	}
	if _, err := tw.Send(context.Background(), "a", "second"); err == nil {
		t.Fatal("second send should fail waiting for a token within the timeout")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestTwilio_InstancesHaveSeparateLimiters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM"}`)
	}))
	defer srv.Close()

	cfg := TwilioConfig{
		APIBase:       srv.URL,
		AccountSID:    "AC123",
		SendTimeout:   2 * time.Second,
		RatePerSecond: 0.5,
		Burst:         1,
		Logger:        testLogger(),
	}
	deliveries := NewTwilio(cfg)
	welcomes := NewTwilio(cfg)

	if _, err := deliveries.Send(context.Background(), "a", "part 1"); err != nil {
		t.Fatal(err)
	}
	// The next delivery waits for a token; the welcome must not.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deliveries.Send(ctx, "a", "part 2")

	start := time.Now()
	if _, err := welcomes.Send(context.Background(), "b", "welcome"); err != nil {
		t.Fatalf("welcome send failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("welcome waited %v behind another instance's deliveries", elapsed)
	}
}
