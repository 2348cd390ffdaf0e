// Package main is the entry point for the strategy advisor service. It
// wires the personalization core (profile store, signal normalizer, scoring
// and selection pipeline, incremental recompute engine) to its external
// collaborators and exposes a thin HTTP surface over the engine's
// in-process operations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/strategy-advisor/internal/attest"
	"github.com/yourorg/strategy-advisor/internal/catalog"
	"github.com/yourorg/strategy-advisor/internal/config"
	"github.com/yourorg/strategy-advisor/internal/engine"
	"github.com/yourorg/strategy-advisor/internal/export"
	"github.com/yourorg/strategy-advisor/internal/guard"
	"github.com/yourorg/strategy-advisor/internal/model"
	"github.com/yourorg/strategy-advisor/internal/profile"
	"github.com/yourorg/strategy-advisor/internal/signal"
	"github.com/yourorg/strategy-advisor/internal/source"
	"github.com/yourorg/strategy-advisor/internal/store"
	"github.com/yourorg/strategy-advisor/internal/telemetry"
)

// startTime records when the service was initialized for uptime reporting.
var startTime = time.Now()

// Server bundles the wired components behind the HTTP surface.
type Server struct {
	cfg        config.Config
	backend    store.Store
	profiles   *profile.Store
	catalog    *catalog.Catalog
	normalizer *signal.Normalizer
	breaker    *guard.Breaker
	engine     *engine.Engine
	server     *http.Server
}

func main() {
	setupLogging()
	cfg := config.Load()

	shutdownTracing := telemetry.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracing()

	backend, err := openStore(cfg)
	if err != nil {
		logrus.Fatalf("opening store: %v", err)
	}
	defer backend.Close()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logrus.Fatalf("loading strategy catalog: %v", err)
	}

	specs, err := signal.LoadSpecs(cfg.FeaturesPath)
	if err != nil {
		logrus.Fatalf("loading feature specs: %v", err)
	}
	normalizer, err := signal.NewNormalizer(specs)
	if err != nil {
		logrus.Fatalf("building normalizer: %v", err)
	}

	breaker := guard.New(guard.Thresholds{
		MaxAbsValue:  cfg.GuardMaxAbsValue,
		MaxJumpRatio: cfg.GuardMaxJumpRatio,
		MinFeatures:  cfg.GuardMinFeatures,
	}).WithResetDelay(cfg.GuardResetDelay)

	profiles := profile.NewStore(backend)
	eng := engine.New(engine.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	}, profiles, cat, backend, prometheus.DefaultRegisterer)

	if err := registerPublishHooks(cfg, eng); err != nil {
		logrus.Fatalf("configuring publish hooks: %v", err)
	}

	ctx, stop := notifyContext()
	defer stop()

	eng.Start(ctx)
	defer eng.Stop()

	srv := &Server{
		cfg:        cfg,
		backend:    backend,
		profiles:   profiles,
		catalog:    cat,
		normalizer: normalizer,
		breaker:    breaker,
		engine:     eng,
	}

	srv.watchProfiles(ctx)
	srv.startSources(ctx)
	srv.startCron(ctx)
	srv.serve(ctx)
}

// setupLogging configures logrus from LOG_FORMAT and LOG_LEVEL.
func setupLogging() {
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// openStore selects the SQLite backend when a path is configured, the
// in-memory backend otherwise.
func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StorePath != "" {
		return store.NewSQLite(cfg.StorePath)
	}
	logrus.Info("no STORE_PATH configured, using in-memory store")
	return store.NewMemory(), nil
}

// registerPublishHooks wires signing and export of published sets.
func registerPublishHooks(cfg config.Config, eng *engine.Engine) error {
	var signer *attest.Signer
	if cfg.AttestEnabled {
		s, err := attest.NewSigner()
		if err != nil {
			return err
		}
		signer = s
	}

	var exporter *export.Exporter
	if cfg.ExportWebhookURL != "" {
		e, err := export.New(export.Config{
			WebhookURL:    cfg.ExportWebhookURL,
			WebhookAPIKey: cfg.ExportAPIKey,
			BatchSize:     cfg.ExportBatchSize,
			FlushInterval: cfg.ExportInterval,
		})
		if err != nil {
			return err
		}
		exporter = e
		exporter.Start(context.Background())
	}

	if signer == nil && exporter == nil {
		return nil
	}

	eng.AddPublishHook(func(set model.RecommendationSet, skipped []model.SkipRecord) {
		if exporter == nil {
			return
		}
		if signer != nil {
			signed, err := signer.Sign(set)
			if err != nil {
				logrus.WithError(err).Warn("failed to sign recommendation set")
				return
			}
			exporter.Add(signed)
			return
		}
		exporter.Add(set)
	})
	return nil
}

// ingest is the single entry path for raw signal batches from any source:
// circuit breaker check, normalization, persistence, engine trigger.
func (s *Server) ingest(ctx context.Context, batch model.RawBatch) error {
	if err := s.breaker.Check(batch); err != nil {
		return err
	}

	vector, err := s.normalizer.Normalize(batch)
	if err != nil {
		// Incomplete batches defer the affected recomputes; the next
		// arrival retries.
		return err
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	if _, err := s.backend.Put(ctx, "signal_vectors", vector.Instrument, data, store.AnyRevision); err != nil {
		logrus.WithError(err).WithField("instrument", vector.Instrument).Warn("failed to persist signal vector")
	}

	s.engine.PublishVector(vector)
	return nil
}

// watchProfiles feeds the profile change stream into the engine.
func (s *Server) watchProfiles(ctx context.Context) {
	events, err := s.profiles.Watch(ctx, 0)
	if err != nil {
		logrus.Fatalf("watching profiles: %v", err)
	}
	go func() {
		for ev := range events {
			if ev.Deleted {
				s.engine.OnProfileDeleted(ev.UserID)
			} else {
				s.engine.OnProfileUpdated(ev.UserID)
			}
		}
	}()
}

// startSources launches the configured pull and push signal sources.
func (s *Server) startSources(ctx context.Context) {
	if s.cfg.SignalSourceURL != "" && len(s.cfg.Instruments) > 0 {
		pull := source.NewHTTPSource(s.cfg.SignalSourceName, s.cfg.SignalSourceURL,
			s.cfg.SignalSourceKey, s.cfg.SignalSourceRPS)
		go pull.Poll(ctx, s.cfg.Instruments, s.cfg.PollInterval, s.ingest)
		logrus.WithFields(logrus.Fields{
			"source":      s.cfg.SignalSourceName,
			"instruments": len(s.cfg.Instruments),
		}).Info("pull signal source started")
	}

	if s.cfg.NATSEnabled {
		push, err := source.NewNATSSource(source.NATSConfig{
			URL:           s.cfg.NATSURL,
			Subject:       s.cfg.NATSSubject,
			RetryAttempts: 10,
			RetryDelay:    time.Second,
		})
		if err != nil {
			logrus.Fatalf("connecting push signal source: %v", err)
		}
		if err := push.Start(ctx, s.ingest); err != nil {
			logrus.Fatalf("starting push signal source: %v", err)
		}
		go func() {
			<-ctx.Done()
			push.Close()
		}()
	}
}

// startCron registers the periodic catalog reload and stale sweep.
func (s *Server) startCron(ctx context.Context) {
	c := cron.New()

	if _, err := c.AddFunc(s.cfg.CatalogReloadSpec, func() {
		changed, err := s.catalog.Reload()
		if err != nil {
			logrus.WithError(err).Warn("catalog reload failed, keeping previous snapshot")
			return
		}
		if changed {
			s.engine.OnCatalogChanged()
		}
	}); err != nil {
		logrus.Fatalf("registering catalog reload: %v", err)
	}

	if _, err := c.AddFunc(s.cfg.StaleSweepSpec, func() {
		if n := s.engine.SweepStale(); n > 0 {
			logrus.WithField("users", n).Debug("re-enqueued stale users")
		}
	}); err != nil {
		logrus.Fatalf("registering stale sweep: %v", err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

// serve runs the HTTP server until the context is cancelled.
func (s *Server) serve(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("PUT /profiles/{id}", s.handlePutProfile)
	mux.HandleFunc("GET /profiles/{id}", s.handleGetProfile)
	mux.HandleFunc("DELETE /profiles/{id}", s.handleDeleteProfile)
	mux.HandleFunc("GET /recommendations/{id}", s.handleGetRecommendations)
	mux.HandleFunc("GET /recommendations/{id}/audit", s.handleGetAudit)
	mux.HandleFunc("POST /signals", s.handlePostSignals)

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server shutdown failed: %v", err)
	}
	logrus.Info("server stopped")
}

// notifyContext cancels on SIGINT or SIGTERM.
func notifyContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	return ctx, cancel
}
