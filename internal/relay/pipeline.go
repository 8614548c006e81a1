// Package relay wires the webhook to the background reply pipeline: it
// acknowledges inbound messages, greets first-time senders and turns each
// dispatched unit into generated, logged and delivered advice.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mezada/internal/dispatch"
	"mezada/internal/domain"
	"mezada/internal/metrics"
)

const (
	defaultStoreTimeout  = 10 * time.Second
	defaultNotifyTimeout = 10 * time.Second
)

// Pipeline is the work a dispatched unit performs.
type Pipeline struct {
	generator     domain.Generator
	store         domain.LogStore
	responder     *Responder
	notifier      domain.Notifier
	adviceHeader  string
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	logger        *slog.Logger
}

type PipelineConfig struct {
	Generator     domain.Generator
	Store         domain.LogStore
	Responder     *Responder
	Notifier      domain.Notifier // optional
	AdviceHeader  string
	StoreTimeout  time.Duration
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		generator:     cfg.Generator,
		store:         cfg.Store,
		responder:     cfg.Responder,
		notifier:      cfg.Notifier,
		adviceHeader:  cfg.AdviceHeader,
		storeTimeout:  cfg.StoreTimeout,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        cfg.Logger,
	}
}

// Process generates advice for the unit, records the exchange and delivers
// the reply. A generation failure drops the unit before anything is logged
// or sent.
func (p *Pipeline) Process(ctx context.Context, id string, u dispatch.Unit) error {
	logger := p.logger.With("unit", id, "sender", u.Sender)

	start := time.Now()
	advice, err := p.generator.Generate(ctx, u.Body)
	metrics.GenerationLatency.ObserveSince(start)
	if err != nil {
		metrics.GenerationErrors.Inc()
		logger.Error("generation failed, dropping unit", "err", err)
		p.notify(ctx, fmt.Sprintf("mezada: reply to %s dropped (unit %s): %v", u.Sender, id, err))
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	entry, err := p.store.Append(storeCtx, u.Sender, u.Body, advice)
	cancel()
	if err != nil {
		metrics.LogWriteErrors.Inc()
		logger.Error("log append failed, delivering anyway", "err", err)
	} else {
		logger.Debug("exchange logged", "entry", entry.ID)
	}

	report := p.responder.Deliver(ctx, u.Sender, p.formatAdvice(advice))
	return report.Err
}

func (p *Pipeline) formatAdvice(advice string) string {
	return p.adviceHeader + advice
}

func (p *Pipeline) notify(ctx context.Context, text string) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.notifyTimeout)
	defer cancel()
	if err := p.notifier.Notify(ctx, text); err != nil {
		p.logger.Warn("operator notification failed", "err", err)
	}
}
