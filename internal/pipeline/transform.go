package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/space-weather-forecast/internal/domain"
)

// History looks up the latest forecast published for an event.
type History interface {
	Latest(eventID string) (domain.Forecast, bool)
}

// ForecastTransformer implements Transformer by parsing raw event messages
// and running them through the Engine. An event that was already forecast
// produces a revision of its latest forecast.
type ForecastTransformer struct {
	engine  *Engine
	history History
	logger  *slog.Logger
}

// NewTransformer creates a ForecastTransformer. Pass a nil history to
// always produce first versions.
func NewTransformer(engine *Engine, history History, logger *slog.Logger) *ForecastTransformer {
	return &ForecastTransformer{
		engine:  engine,
		history: history,
		logger:  logger,
	}
}

func (t *ForecastTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.Forecast, error) {
	event, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.Forecast{}, err
	}

	if t.history != nil {
		if prior, ok := t.history.Latest(event.ID); ok {
			t.logger.Debug("revising forecast", "event_id", event.ID, "prior_id", prior.ID, "prior_version", prior.Version)
			return t.engine.Revise(ctx, event, prior)
		}
	}
	return t.engine.Forecast(ctx, event)
}
