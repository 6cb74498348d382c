package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/space-weather-forecast/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/space-weather-forecast/internal/adapter/redis"
	"github.com/couchcryptid/space-weather-forecast/internal/config"
	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/geoeffect"
	"github.com/couchcryptid/space-weather-forecast/internal/observability"
	"github.com/couchcryptid/space-weather-forecast/internal/physics"
	"github.com/couchcryptid/space-weather-forecast/internal/pipeline"
	"github.com/couchcryptid/space-weather-forecast/internal/predictor"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	cal, err := config.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		logger.Error("failed to load calibration", "error", err)
		os.Exit(1)
	}

	var phys physics.Predictor = physics.NewModel(cal.Physics)
	if cfg.PhysicsCacheSize > 0 {
		phys = physics.NewCachedModel(phys, cfg.PhysicsCacheSize, metrics.ObservePhysicsCache)
	}

	predictors := predictor.LoadDir(cfg.PredictorDir, logger)
	metrics.PredictorsLoaded.Set(float64(len(predictors.Predictors())))
	metrics.PredictorFailures.Set(float64(len(predictors.Failures())))
	logger.Info("predictors loaded", "names", predictors.Names(), "failures", len(predictors.Failures()))

	trust := ensemble.NewRegistry(cal.InitialTrust)
	trackerOpts := []tracker.Option{tracker.WithObserver(metrics)}
	ready := readiness{}

	// Trust persistence is feature-flagged via REDIS_ENABLED / REDIS_ADDR.
	var store *redisadapter.TrustStore
	if cfg.RedisEnabled {
		store = redisadapter.NewTrustStore(cfg.RedisAddr, cfg.RedisKey, logger)
		restoreTrust(store, trust, logger)
		trackerOpts = append(trackerOpts, tracker.WithSnapshotSink(store))
		ready = append(ready, store)
		logger.Info("trust persistence enabled", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
	} else {
		logger.Info("trust persistence disabled")
	}
	metrics.TrustUpdated(trust.Snapshot())

	tr := tracker.New(trust, cal.Tracker, logger, trackerOpts...)

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Physics:       phys,
		Classifier:    geoeffect.New(cal.Geoeffect),
		Predictors:    predictors,
		Combiner:      ensemble.NewCombiner(cal.Ensemble, cal.Geoeffect.Scale),
		Trust:         trust,
		Impacts:       cal.Impacts,
		BranchTimeout: cfg.BranchTimeout,
	}, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	outcomes := kafkaadapter.NewOutcomeReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(engine, tr, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize, pipeline.WithPublisher(tr))
	feedback := pipeline.NewFeedbackLoop(outcomes, tr, logger, cfg.BatchSize)
	ready = append(readiness{p}, ready...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, tr, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the forecast pipeline and the outcome feedback loop.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return feedback.Run(gctx) })

	<-ctx.Done()
	logger.Info("shutting down")
	if err := g.Wait(); err != nil {
		logger.Error("pipeline error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := outcomes.Close(); err != nil {
		logger.Error("kafka outcome reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if store != nil {
		if err := store.SaveTrust(shutdownCtx, trust.Snapshot()); err != nil {
			logger.Error("final trust save failed", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// restoreTrust seeds the registry from the last persisted snapshot. A
// missing or unreachable store leaves the default weights in place.
func restoreTrust(store *redisadapter.TrustStore, trust *ensemble.Registry, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, found, err := store.Load(ctx)
	switch {
	case err != nil:
		logger.Warn("trust restore failed, starting from defaults", "error", err)
	case !found:
		logger.Info("no persisted trust snapshot")
	default:
		restored := trust.Restore(*snap)
		logger.Info("trust restored", "stored_version", snap.Version, "trust_version", restored.Version, "sources", len(restored.Weights))
	}
}

// readiness is ready when every component is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
