package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mezada/internal/chunker"
	"mezada/internal/domain"
	"mezada/internal/metrics"
)

// Responder delivers a reply as numbered parts, one send at a time.
type Responder struct {
	sender domain.Sender
	maxLen int
	logger *slog.Logger
}

type ResponderConfig struct {
	Sender domain.Sender
	MaxLen int // characters per part; defaults to chunker.MaxLen
	Logger *slog.Logger
}

// DeliveryReport summarizes one Deliver call. Failed holds 1-based part indexes.
type DeliveryReport struct {
	Total  int
	Sent   int
	Failed []int
	Err    error
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.MaxLen < 1 {
		cfg.MaxLen = chunker.MaxLen
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{sender: cfg.Sender, maxLen: cfg.MaxLen, logger: cfg.Logger}
}

// Deliver splits fullText and sends every part in order. A failed part does
// not stop the parts after it, and nothing is retried.
func (r *Responder) Deliver(ctx context.Context, recipient, fullText string) DeliveryReport {
	start := time.Now()
	defer metrics.DeliveryLatency.ObserveSince(start)

	parts, err := chunker.Chunks(fullText, r.maxLen)
	if err != nil {
		return DeliveryReport{Err: fmt.Errorf("%w: %w", domain.ErrDelivery, err)}
	}

	report := DeliveryReport{Total: len(parts)}
	var errs []error
	for _, part := range parts {
		msgID, err := r.sender.Send(ctx, recipient, part.Render())
		if err != nil {
			metrics.ChunksFailed.Inc()
			report.Failed = append(report.Failed, part.Index)
			errs = append(errs, fmt.Errorf("%w: part %d/%d: %w", domain.ErrDelivery, part.Index, part.Total, err))
			r.logger.Error("chunk delivery failed",
				"to", recipient, "part", part.Index, "total", part.Total, "err", err)
			continue
		}
		metrics.ChunksSent.Inc()
		report.Sent++
		r.logger.Debug("chunk sent", "to", recipient, "part", part.Index, "total", part.Total, "sid", msgID)
	}
	report.Err = errors.Join(errs...)

	r.logger.Info("reply delivered",
		"to", recipient, "parts", report.Total, "sent", report.Sent, "failed", len(report.Failed),
		"duration_ms", time.Since(start).Milliseconds())
	return report
}
