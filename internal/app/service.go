package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"alertdesk/internal/clock"
	"alertdesk/internal/config"
	"alertdesk/internal/domain"
	"alertdesk/internal/evaluator"
	"alertdesk/internal/events"
	"alertdesk/internal/executor"
	"alertdesk/internal/ingest"
	"alertdesk/internal/logging"
	"alertdesk/internal/metrics"
	"alertdesk/internal/queue"
	"alertdesk/internal/source"
	"alertdesk/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alertdesk service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     store.Store
	sqlPool   *source.SQLPool
	scheduler *queue.Scheduler
	host      *Host
	registry  *prometheus.Registry
	publisher *events.NATSPublisher
	natsSub   interface{ Close() error }
	httpSrv   *http.Server
	readyFlag atomic.Bool
	clock     clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(src config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(src)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return newService(cfg, logger, closeLog, clk)
}

func newService(cfg config.Config, logger *slog.Logger, closeLog func(), clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	repo, err := buildStore(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.store = repo

	seed, err := cfg.Seed()
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := store.Seed(context.Background(), repo, seed); err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	if err := service.buildScheduler(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildPublisher(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	logger.Info("service initialized",
		"name", cfg.Service.Name,
		"store", cfg.Store.Backend,
		"rules", len(seed.Rules),
		"stats", len(seed.Stats),
		"connections", len(seed.Connections),
	)
	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if err := s.start(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.shutdown()
	}
}

// start runs the scheduler and host without binding the HTTP listener.
func (s *Service) start(ctx context.Context) error {
	s.scheduler.Start()
	if err := s.host.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	s.readyFlag.Store(true)
	return nil
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", "error", err.Error())
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if s.host != nil {
		s.host.Close()
	}
	if s.scheduler != nil {
		s.scheduler.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("completion publisher close failed", "error", err.Error())
			markErr(fmt.Errorf("completion publisher close: %w", err))
		}
	}
	if s.sqlPool != nil {
		if err := s.sqlPool.Close(); err != nil {
			s.logger.Error("source pool close failed", "error", err.Error())
			markErr(fmt.Errorf("source pool close: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close failed", "error", err.Error())
			markErr(fmt.Errorf("store close: %w", err))
		}
	}
	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.scheduler != nil {
		s.scheduler.Close()
		s.scheduler = nil
	}
	if s.sqlPool != nil {
		_ = s.sqlPool.Close()
		s.sqlPool = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildScheduler wires sources, evaluators, executors, metrics, and host.
// Params: none.
// Returns: metrics registration error.
func (s *Service) buildScheduler() error {
	s.sqlPool = source.NewSQLPool(source.SQLPoolOptions{})
	fetcher := source.NewHTTPClient(nil)

	evaluators := map[domain.SourceType]evaluator.Evaluator{
		domain.SourceSQL: evaluator.NewSQLEvaluator(s.store, s.sqlPool),
		domain.SourceAPI: evaluator.NewAPIEvaluator(fetcher),
	}
	cache := executor.NewSnapshotCache(executor.SnapshotCacheOptions{
		MaxConfigs: s.cfg.StatCache.MaxConfigs,
		MaxRows:    s.cfg.StatCache.MaxRows,
		TTL:        config.Seconds(s.cfg.StatCache.TTLSec),
	}, s.clock)

	s.scheduler = queue.New(schedulerOptions(s.cfg.Queue), s.logger, s.clock,
		executor.NewAlertCheckExecutor(s.store, evaluators, s.store, s.store, s.clock, s.logger),
		executor.NewAlertListRefreshExecutor(s.store, s.store, s.clock, s.logger),
		executor.NewStatRefreshExecutor(s.store, s.sqlPool, fetcher, cache, s.clock, s.logger),
	)

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewSchedulerMetrics(s.registry)
	if err != nil {
		return fmt.Errorf("register scheduler metrics: %w", err)
	}
	s.scheduler.SetObserver(observer)

	s.host = NewHost(s.scheduler, s.store, HostOptions{
		StartupBatch:      s.cfg.Service.StartupBatchEnabled(),
		AlertListInterval: config.Seconds(s.cfg.Service.AlertListRefreshSec),
		TimerPriority:     s.cfg.Queue.TimerPriority,
	}, s.clock, s.logger)
	return nil
}

func schedulerOptions(q config.QueueConfig) queue.Options {
	return queue.Options{
		MaxConcurrency:      q.MaxConcurrency,
		MinDispatchInterval: config.Millis(q.MinDispatchIntervalMS),
		PollInterval:        config.Millis(q.PollIntervalMS),
		BatchSpacingMin:     config.Millis(q.BatchSpacingMinMS),
		BatchSpacingMax:     config.Millis(q.BatchSpacingMaxMS),
		TaskTimeout:         config.Seconds(q.TaskTimeoutSec),
		DedupEnabled:        q.DedupOn(),
		DedupWindow:         config.Seconds(q.DedupWindowSec),
		TimerPriority:       q.TimerPriority,
	}
}

// buildPublisher subscribes the completion publisher when NATS events are enabled.
func (s *Service) buildPublisher() error {
	if !s.cfg.Events.NATS.Enabled {
		return nil
	}
	publisher, err := events.NewNATSPublisher(events.NATSOptions{
		URL:     s.cfg.Events.NATS.URL,
		Subject: s.cfg.Events.NATS.CompletionSubject,
	}, s.logger)
	if err != nil {
		return err
	}
	s.publisher = publisher
	s.scheduler.Subscribe(publisher.Listener())
	return nil
}

// buildHTTPServer wires router with submit, alert, metrics, and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(s.cfg.HTTP.MetricsPath, metrics.Handler(s.registry))
	mux.Handle(s.cfg.HTTP.AlertsPath, s.host.AlertsHandler())

	handler := ingest.NewHTTPHandler(s.scheduler, s.cfg.HTTP.MaxBodyBytes, s.logger)
	mux.Handle(s.cfg.HTTP.TasksPath, handler)
	batchPath := strings.TrimSuffix(s.cfg.HTTP.TasksPath, "/") + "/batch"
	if batchPath != s.cfg.HTTP.TasksPath {
		mux.Handle(batchPath, handler)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS run-now ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Events.NATS.Enabled || s.cfg.Events.NATS.RequestSubject == "" {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(ingest.NATSOptions{
		URL:        s.cfg.Events.NATS.URL,
		Subject:    s.cfg.Events.NATS.RequestSubject,
		QueueGroup: s.cfg.Events.NATS.QueueGroup,
	}, s.scheduler, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore creates repository backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendSQL:
		sqlStore, err := store.OpenSQLStore(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return sqlStore, nil
	case config.StoreBackendNATS:
		catalog, err := store.OpenSQLStore(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		kv, err := store.NewNATSAlertStore(store.NATSOptions{
			URL:                cfg.Store.NATS.URL,
			AlertBucket:        cfg.Store.NATS.AlertBucket,
			IgnoreBucket:       cfg.Store.NATS.IgnoreBucket,
			AllowCreateBuckets: cfg.Store.NATS.AllowCreateBuckets,
		})
		if err != nil {
			_ = catalog.Close()
			return nil, err
		}
		return store.NewComposite(catalog, kv, kv, kv.Close, catalog.Close), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
