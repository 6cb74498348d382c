// Command backtest replays an archive of solar events and their observed
// outcomes through the forecast engine and the tracker, then reports the
// accuracy and calibrated trust of every source.
//
// Usage:
//
//	go run ./cmd/backtest \
//	  -events internal/pipeline/testdata/events.json \
//	  -outcomes cmd/backtest/testdata/outcomes.json \
//	  -predictors predictors
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/config"
	"github.com/couchcryptid/space-weather-forecast/internal/domain"
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/geoeffect"
	"github.com/couchcryptid/space-weather-forecast/internal/observability"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
	"github.com/couchcryptid/space-weather-forecast/internal/pipeline"
	"github.com/couchcryptid/space-weather-forecast/internal/predictor"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	"github.com/jonboulle/clockwork"
)

// archivedOutcome is an observed arrival keyed by event rather than by
// forecast, since forecast IDs are not known until replay.
type archivedOutcome struct {
	EventID       string    `json:"event_id"`
	ActualArrival time.Time `json:"actual_arrival"`
	MinDst        *float64  `json:"min_dst_nt,omitempty"`
}

type options struct {
	eventsPath      string
	outcomesPath    string
	predictorDir    string
	calibrationPath string
	verbose         bool
}

func main() {
	var opts options
	flag.StringVar(&opts.eventsPath, "events", "", "path to a JSON array of raw solar events")
	flag.StringVar(&opts.outcomesPath, "outcomes", "", "path to a JSON array of observed outcomes")
	flag.StringVar(&opts.predictorDir, "predictors", "", "directory of learned predictor artifacts")
	flag.StringVar(&opts.calibrationPath, "calibration", "", "optional calibration file")
	flag.BoolVar(&opts.verbose, "v", false, "log every forecast")
	flag.Parse()

	if opts.eventsPath == "" || opts.outcomesPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cal, err := config.LoadCalibration(opts.calibrationPath)
	if err != nil {
		return err
	}
	events, err := loadJSON[json.RawMessage](opts.eventsPath)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	outcomes, err := loadJSON[archivedOutcome](opts.outcomesPath)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}

	predictors := predictor.NewRegistry()
	if opts.predictorDir != "" {
		predictors = predictor.LoadDir(opts.predictorDir, logger)
	}

	defer domain.SetClock(nil)

	trust := ensemble.NewRegistry(cal.InitialTrust)
	tr := tracker.New(trust, cal.Tracker, logger)
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Physics:    physics.NewModel(cal.Physics),
		Classifier: geoeffect.New(cal.Geoeffect),
		Predictors: predictors,
		Combiner:   ensemble.NewCombiner(cal.Ensemble, cal.Geoeffect.Scale),
		Trust:      trust,
		Impacts:    cal.Impacts,
	}, logger, observability.NewMetricsForTesting())
	transformer := pipeline.NewTransformer(engine, tr, logger)

	fmt.Fprintln(out, "=== Forecast Backtest ===")
	fmt.Fprintln(out)

	rejected := 0
	for i, ev := range events {
		raw := domain.RawEvent{Key: []byte(strconv.Itoa(i)), Value: ev}
		rec, err := domain.ParseRawEvent(raw)
		if err != nil {
			fmt.Fprintf(out, "  skip event %d: %v\n", i, err)
			rejected++
			continue
		}
		// Forecast creation times follow the replayed event onsets.
		domain.SetClock(clockwork.NewFakeClockAt(rec.Onset))

		f, err := transformer.Transform(ctx, raw)
		if err != nil {
			fmt.Fprintf(out, "  skip %s: %v\n", rec.ID, err)
			rejected++
			continue
		}
		if err := tr.Publish(f); err != nil {
			return fmt.Errorf("publish %s: %w", f.ID, err)
		}
		fmt.Fprintf(out, "  %-18s %-9s transit %7.2fh  severity %-8s  p=%.2f  confidence %.2f\n",
			f.EventID, f.EventKind, f.TransitHours, f.Severity, f.ImpactProbability, f.Confidence)
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].ActualArrival.Before(outcomes[j].ActualArrival)
	})
	validated := 0
	for _, o := range outcomes {
		f, ok := tr.Latest(o.EventID)
		if !ok {
			fmt.Fprintf(out, "  no forecast for outcome %s\n", o.EventID)
			continue
		}
		domain.SetClock(clockwork.NewFakeClockAt(o.ActualArrival))
		res, err := tr.RecordOutcome(ctx, domain.Outcome{ForecastID: f.ID, ActualArrival: o.ActualArrival, MinDst: o.MinDst})
		if err != nil {
			fmt.Fprintf(out, "  outcome %s rejected: %v\n", o.EventID, err)
			continue
		}
		validated++
		for _, a := range res.Alerts {
			fmt.Fprintf(out, "  drift alert: %s rolling error %.1fh\n", a.Source, a.RollingErrorHours)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Events: %d forecast, %d rejected; outcomes: %d validated of %d\n",
		len(events)-rejected, rejected, validated, len(outcomes))
	fmt.Fprintln(out)
	printStats(out, tr.Stats(), trust.Snapshot())
	return nil
}

func printStats(out io.Writer, stats []tracker.SourceStats, snap *ensemble.Snapshot) {
	fmt.Fprintf(out, "  %-16s %8s %10s %10s %9s %7s\n", "source", "outcomes", "mae (h)", "bias (h)", "severity", "trust")
	for _, s := range stats {
		sev := "-"
		if s.SeverityEvaluated > 0 {
			sev = fmt.Sprintf("%.0f%%", 100*s.SeverityAccuracy())
		}
		w := snap.Weight(s.Source)
		trust := fmt.Sprintf("%.3f", w.Weight)
		if s.Source == domain.SourceEnsemble {
			trust = "-"
		} else if w.Degraded {
			trust += "!"
		}
		fmt.Fprintf(out, "  %-16s %8d %10.2f %10.2f %9s %7s\n",
			s.Source, s.Outcomes, s.MeanAbsErrorHours, s.MeanBiasHours, sev, trust)
	}
	fmt.Fprintf(out, "\nTrust version %d\n", snap.Version)
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
