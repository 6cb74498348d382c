package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
)

// OutcomeRecorder validates a published forecast against ground truth.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o domain.Outcome) (tracker.Result, error)
}

// FeedbackLoop consumes outcome messages and hands them to the tracker.
// Outcomes are processed in arrival order; rejected outcomes are logged
// and committed so they are not redelivered.
type FeedbackLoop struct {
	extractor BatchExtractor
	recorder  OutcomeRecorder
	logger    *slog.Logger
	batchSize int
}

// NewFeedbackLoop creates a FeedbackLoop.
func NewFeedbackLoop(e BatchExtractor, r OutcomeRecorder, logger *slog.Logger, batchSize int) *FeedbackLoop {
	return &FeedbackLoop{extractor: e, recorder: r, logger: logger, batchSize: batchSize}
}

// Run consumes outcomes until the context is cancelled.
func (l *FeedbackLoop) Run(ctx context.Context) error {
	l.logger.Info("feedback loop started")
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for ctx.Err() == nil {
		batch, err := l.extractor.ExtractBatch(ctx, l.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Error("extract outcomes failed", "error", err)
			if !backoffOrStop(ctx, &backoff, maxBackoff) {
				break
			}
			continue
		}
		backoff = 200 * time.Millisecond

		for _, raw := range batch {
			l.handle(ctx, raw)
		}
	}
	l.logger.Info("feedback loop stopping", "reason", ctx.Err())
	return nil
}

func (l *FeedbackLoop) handle(ctx context.Context, raw domain.RawEvent) {
	defer commitOffset(ctx, l.logger, raw)

	o, err := domain.ParseOutcome(raw)
	if err != nil {
		l.logger.Warn("invalid outcome, skipping message", "error", err, "offset", raw.Offset)
		return
	}
	res, err := l.recorder.RecordOutcome(ctx, o)
	if err != nil {
		l.logger.Warn("outcome rejected", "forecast_id", o.ForecastID, "error", err)
		return
	}
	for _, a := range res.Alerts {
		l.logger.Warn("drift alert",
			"source", a.Source,
			"rolling_error_hours", a.RollingErrorHours,
			"consecutive", a.Consecutive,
		)
	}
}
