package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"mezada/internal/dispatch"
)

func newTestServer(t *testing.T) (*Server, *fakeSubmitter) {
	t.Helper()
	sub := &fakeSubmitter{}
	s := NewServer(ServerConfig{
		WebhookPath: "/webhook",
		MetricsPath: "/metrics",
		Ingest:      newTestIngest(t, &memStore{}, &fakeSender{}, sub),
		Stats:       func() dispatch.Stats { return dispatch.Stats{Queued: 2, Active: 1, Workers: 4} },
		Logger:      testLogger(),
	})
	return s, sub
}

func TestServer_WebhookRoute(t *testing.T) {
	s, sub := newTestServer(t)

	form := url.Values{"From": {"+1555"}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assertAck(t, rec)
	if len(sub.units) != 1 {
		t.Errorf("expected 1 dispatched unit, got %d", len(sub.units))
	}
}

func TestServer_WebhookRejectsGet(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Dispatch.Queued != 2 || resp.Dispatch.Active != 1 {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mezada_inbound_events_total") {
		t.Error("metrics output should include relay counters")
	}
}
