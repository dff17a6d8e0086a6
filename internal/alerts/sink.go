// Package alerts delivers alert payloads to notification sinks.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"orgline/internal/domain"
	"orgline/internal/isolation"
)

type Sink interface {
	Name() string
	Notify(ctx context.Context, a domain.Alert) error
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Notify(ctx context.Context, a domain.Alert) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if a.Severity == domain.PriorityCritical {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "alert",
		"alert_id", a.ID,
		"alert_type", a.AlertType,
		"severity", string(a.Severity),
		"subject", a.Subject,
		"message", a.Message,
	)
	return nil
}

// Fanout delivers to every sink. Each sink sits behind its own breaker keyed
// "sink:<name>"; while that breaker is open the sink is skipped.
type Fanout struct {
	Sinks    []Sink
	Breakers *isolation.Breakers
	Logger   *slog.Logger
}

// Result records what happened per sink.
type Result struct {
	Delivered []string `json:"delivered"`
	Skipped   []string `json:"skipped,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

func BreakerKey(sink string) string { return "sink:" + sink }

func (f Fanout) Notify(ctx context.Context, a domain.Alert) (Result, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var res Result
	var errs []error
	for _, s := range f.Sinks {
		key := BreakerKey(s.Name())
		if f.Breakers != nil && !f.Breakers.Allow(key) {
			res.Skipped = append(res.Skipped, s.Name())
			logger.Debug("alert sink skipped", "resource", key, "alert_id", a.ID)
			continue
		}
		if err := s.Notify(ctx, a); err != nil {
			if f.Breakers != nil {
				f.Breakers.RecordFailure(key)
			}
			res.Failed = append(res.Failed, s.Name())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			logger.Warn("alert delivery failed", "resource", key, "alert_id", a.ID, "err", err)
			continue
		}
		if f.Breakers != nil {
			f.Breakers.RecordSuccess(key)
		}
		res.Delivered = append(res.Delivered, s.Name())
	}
	return res, errors.Join(errs...)
}
