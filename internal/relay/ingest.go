package relay

import (
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mezada/internal/dispatch"
	"mezada/internal/domain"
	"mezada/internal/metrics"
)

const (
	xmlDeclaration        = `<?xml version="1.0" encoding="UTF-8"?>`
	maxFormBytes          = 1 << 20
	defaultWelcomeTimeout = 5 * time.Second
)

// Submitter hands a unit to background processing without waiting for it.
type Submitter interface {
	Submit(u dispatch.Unit) (string, error)
}

// Ingest is the inbound webhook handler. It always answers 200 with a TwiML
// acknowledgment; the reply itself arrives later through the dispatcher.
type Ingest struct {
	store      domain.LogStore
	sender     domain.Sender
	dispatcher Submitter
	welcome    string
	welcomeTTL time.Duration
	ack        []byte
	logger     *slog.Logger
}

type IngestConfig struct {
	Store      domain.LogStore
	Sender     domain.Sender
	Dispatcher Submitter
	Welcome    string
	Ack        string
	// WelcomeTimeout caps the welcome send, which runs before the ack.
	// Sender should not share a rate limiter with background deliveries.
	WelcomeTimeout time.Duration
	Logger         *slog.Logger
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func NewIngest(cfg IngestConfig) (*Ingest, error) {
	if cfg.WelcomeTimeout <= 0 {
		cfg.WelcomeTimeout = defaultWelcomeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ack, err := renderTwiML(cfg.Ack)
	if err != nil {
		return nil, err
	}
	return &Ingest{
		store:      cfg.Store,
		sender:     cfg.Sender,
		dispatcher: cfg.Dispatcher,
		welcome:    cfg.Welcome,
		welcomeTTL: cfg.WelcomeTimeout,
		ack:        ack,
		logger:     cfg.Logger,
	}, nil
}

func renderTwiML(message string) ([]byte, error) {
	body, err := xml.Marshal(twimlResponse{Message: message})
	if err != nil {
		return nil, err
	}
	return append([]byte(xmlDeclaration), body...), nil
}

func (h *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer h.writeAck(w)
	metrics.InboundEvents.Inc()

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		metrics.InvalidEvents.Inc()
		h.logger.Warn("malformed webhook form", "err", err)
		return
	}

	// The body is passed on as sent; trimming only decides emptiness.
	msg := domain.InboundMessage{
		Sender:     strings.TrimSpace(r.PostForm.Get("From")),
		Body:       r.PostForm.Get("Body"),
		ReceivedAt: time.Now(),
	}
	hasBody := strings.TrimSpace(msg.Body) != ""
	if msg.Sender == "" || !hasBody {
		metrics.InvalidEvents.Inc()
		h.logger.Info("acknowledging without work", "err", domain.ErrInvalidArgument,
			"has_sender", msg.Sender != "", "has_body", hasBody)
		return
	}

	h.logger.Info("message received", "sender", msg.Sender, "body_len", len(msg.Body))
	h.greetIfNew(r, msg.Sender)

	id, err := h.dispatcher.Submit(dispatch.Unit{
		Sender:     msg.Sender,
		Body:       msg.Body,
		ReceivedAt: msg.ReceivedAt,
	})
	switch {
	case errors.Is(err, dispatch.ErrQueueFull):
		h.logger.Warn("dispatch queue full, message dropped", "sender", msg.Sender)
	case err != nil:
		h.logger.Error("dispatch rejected message", "sender", msg.Sender, "err", err)
	default:
		h.logger.Debug("unit dispatched", "unit", id, "sender", msg.Sender)
	}
}

// greetIfNew sends the welcome text to a sender with no logged exchange.
// A failed lookup is treated as a known sender.
func (h *Ingest) greetIfNew(r *http.Request, sender string) {
	known, err := h.store.HasPriorContact(r.Context(), sender)
	if err != nil {
		h.logger.Error("first-contact lookup failed, skipping welcome", "sender", sender, "err", err)
		return
	}
	if known {
		return
	}

	h.logger.Debug("greeting new sender; first-contact check is not atomic", "sender", sender)
	ctx, cancel := context.WithTimeout(r.Context(), h.welcomeTTL)
	defer cancel()
	if _, err := h.sender.Send(ctx, sender, h.welcome); err != nil {
		metrics.WelcomesFailed.Inc()
		h.logger.Error("welcome send failed", "sender", sender, "err", err)
		return
	}
	metrics.WelcomesSent.Inc()
}

func (h *Ingest) writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.ack); err != nil {
		h.logger.Debug("ack write failed", "err", err)
	}
}
