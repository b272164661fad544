package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/admission"
	"github.com/xraph/popgate/ext"
	"github.com/xraph/popgate/job"
	mw "github.com/xraph/popgate/middleware"
	"github.com/xraph/popgate/observability"
	"github.com/xraph/popgate/producer"
	"github.com/xraph/popgate/respond"
	"github.com/xraph/popgate/stream"
	"github.com/xraph/popgate/worker"
)

const instrumentationName = "github.com/xraph/popgate"

// Gateway wires the job registry, extensions, admission, worker pool,
// and stream broker behind one http.Handler.
type Gateway struct {
	cfg    popgate.Config
	logger *slog.Logger

	producer    producer.Producer
	exts        []ext.Extension
	mws         []mw.Middleware
	respondOpts []respond.Option

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	jobs       *job.Registry
	extensions *ext.Registry
	admission  *admission.Controller
	pool       *worker.Pool
	broker     *stream.Broker
}

// New builds a Gateway from cfg. Zero-valued numeric fields in cfg fall
// back to DefaultConfig.
func New(cfg popgate.Config, opts ...Option) (*Gateway, error) {
	cfg = withDefaults(cfg)
	if _, err := os.Stat(cfg.Root); err != nil {
		return nil, fmt.Errorf("gateway: static root: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   slog.Default(),
		producer: producer.Echo(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	g.respondOpts = append([]respond.Option{respond.WithChunkSize(cfg.ChunkSize)}, g.respondOpts...)
	g.jobs = job.NewRegistry(
		job.WithResponderOptions(g.respondOpts...),
		job.WithMaxPending(cfg.MaxPending),
	)

	// Observability and streaming come first so user extensions see the
	// same ordering on every event.
	g.extensions = ext.NewRegistry(g.logger)
	if g.meterProvider != nil {
		g.extensions.Register(observability.NewMetricsExtensionWithMeter(
			g.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		g.extensions.Register(observability.NewMetricsExtension())
	}
	g.broker = stream.NewBroker(g.logger)
	g.extensions.Register(g.broker)
	for _, e := range g.exts {
		g.extensions.Register(e)
	}
	g.extensions.Observe(g.jobs)

	g.admission = admission.New(admission.Config{
		Rate:        cfg.CreateRate,
		Burst:       cfg.CreateBurst,
		ClientRate:  cfg.ClientRate,
		ClientBurst: cfg.ClientBurst,
	})

	executor := worker.NewExecutor(g.producer, g.logger, g.middleware()...)
	g.pool = worker.NewPool(g.jobs, executor, g.logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPendingTTL(cfg.PendingTTL),
		worker.WithReapInterval(cfg.ReapInterval),
		worker.WithPruner(g.admission),
	)

	return g, nil
}

// middleware builds recover → tracing → metrics → logging → timeout →
// user middleware.
func (g *Gateway) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if g.tracerProvider != nil {
		tracing = mw.TracingWithTracer(g.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if g.meterProvider != nil {
		metrics = mw.MetricsWithMeter(g.meterProvider.Meter(instrumentationName))
	}

	chain := []mw.Middleware{
		mw.Recover(g.logger),
		tracing,
		metrics,
		mw.Logging(g.logger),
		mw.Timeout(g.logger, g.cfg.ProducerTimeout),
	}
	return append(chain, g.mws...)
}

func withDefaults(cfg popgate.Config) popgate.Config {
	def := popgate.DefaultConfig()
	if cfg.Root == "" {
		cfg.Root = def.Root
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return cfg
}

// Start launches background work: the pending-job reaper.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info("gateway starting",
		slog.String("root", g.cfg.Root),
		slog.Duration("pending_ttl", g.cfg.PendingTTL),
	)
	return g.pool.Start(ctx)
}

// shutdownGrace bounds extension shutdown when Stop's context has already
// ended while waiting for active runs.
const shutdownGrace = 5 * time.Second

// Stop refuses new runs, waits for active ones until ctx ends, then
// notifies extensions of the shutdown.
func (g *Gateway) Stop(ctx context.Context) error {
	if err := g.pool.Stop(ctx); err != nil {
		return fmt.Errorf("gateway: stop: %w", err)
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
	}
	g.extensions.EmitShutdown(ctx)
	g.logger.Info("gateway stopped", slog.Int("live_jobs", g.jobs.Len()))
	return nil
}

// Config returns the effective configuration.
func (g *Gateway) Config() popgate.Config { return g.cfg }

// Jobs returns the job registry.
func (g *Gateway) Jobs() *job.Registry { return g.jobs }

// Extensions returns the extension registry.
func (g *Gateway) Extensions() *ext.Registry { return g.extensions }

// Pool returns the worker pool.
func (g *Gateway) Pool() *worker.Pool { return g.pool }

// Broker returns the stream broker.
func (g *Gateway) Broker() *stream.Broker { return g.broker }

// Logger returns the gateway logger.
func (g *Gateway) Logger() *slog.Logger { return g.logger }
