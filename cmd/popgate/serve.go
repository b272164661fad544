package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/api"
	audithook "github.com/xraph/popgate/audit_hook"
	"github.com/xraph/popgate/dwp"
	"github.com/xraph/popgate/gateway"
	"github.com/xraph/popgate/producer"
	relayhook "github.com/xraph/popgate/relay_hook"
)

type serveOptions struct {
	cfg popgate.Config

	logFormat string
	logLevel  string

	producerCmd      string
	producerArgs     []string
	producerValidate string

	redisAddr   string
	redisPrefix string
	natsURL     string
	natsPrefix  string

	dwpToken string
	audit    bool
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{cfg: popgate.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.cfg.Addr, "addr", o.cfg.Addr, "public gateway listen address")
	f.StringVar(&o.cfg.AdminAddr, "admin-addr", o.cfg.AdminAddr, "admin API listen address (empty disables)")
	f.StringVar(&o.cfg.Root, "root", o.cfg.Root, "directory served to GET requests")
	f.StringVar(&o.cfg.DefaultFile, "default-file", o.cfg.DefaultFile, "file served for directory requests")
	f.IntVar(&o.cfg.ChunkSize, "chunk-size", o.cfg.ChunkSize, "read size when streaming responses")
	f.Int64Var(&o.cfg.MaxPayloadBytes, "max-payload", o.cfg.MaxPayloadBytes, "maximum continuation body size in bytes")
	f.DurationVar(&o.cfg.PendingTTL, "pending-ttl", o.cfg.PendingTTL, "evict jobs not continued within this time (0 disables)")
	f.DurationVar(&o.cfg.ReapInterval, "reap-interval", o.cfg.ReapInterval, "how often pending jobs are checked for expiry")
	f.IntVar(&o.cfg.Concurrency, "concurrency", o.cfg.Concurrency, "maximum concurrent producer runs")
	f.IntVar(&o.cfg.MaxPending, "max-pending", o.cfg.MaxPending, "maximum pending jobs (0 = unlimited)")
	f.Float64Var(&o.cfg.CreateRate, "create-rate", o.cfg.CreateRate, "job creations per second across clients (0 = unlimited)")
	f.IntVar(&o.cfg.CreateBurst, "create-burst", o.cfg.CreateBurst, "burst for --create-rate")
	f.Float64Var(&o.cfg.ClientRate, "client-rate", o.cfg.ClientRate, "job creations per second per client host (0 = unlimited)")
	f.IntVar(&o.cfg.ClientBurst, "client-burst", o.cfg.ClientBurst, "burst for --client-rate")
	f.DurationVar(&o.cfg.ProducerTimeout, "producer-timeout", o.cfg.ProducerTimeout, "maximum duration of one producer run (0 = none)")
	f.DurationVar(&o.cfg.ShutdownTimeout, "shutdown-timeout", o.cfg.ShutdownTimeout, "graceful shutdown limit")

	f.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	f.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	f.StringVar(&o.producerCmd, "producer", "", "program run for each job (default: echo the payload)")
	f.StringArrayVar(&o.producerArgs, "producer-arg", nil, "argument passed to --producer (repeatable)")
	f.StringVar(&o.producerValidate, "producer-validate", "", "regular expression every output line must match")

	f.StringVar(&o.redisAddr, "redis-addr", "", "relay lifecycle events to this Redis server")
	f.StringVar(&o.redisPrefix, "redis-prefix", "popgate", "Redis channel prefix")
	f.StringVar(&o.natsURL, "nats-url", "", "relay lifecycle events to this NATS server")
	f.StringVar(&o.natsPrefix, "nats-prefix", "popgate", "NATS subject prefix")

	f.StringVar(&o.dwpToken, "dwp-token", "", "bearer token required by DWP clients (empty accepts all)")
	f.BoolVar(&o.audit, "audit", false, "write audit records to the log")
	return cmd
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func (o *serveOptions) producer() (producer.Producer, error) {
	var p producer.Producer = producer.Echo()
	if o.producerCmd != "" {
		p = producer.NewCommand(o.producerCmd, o.producerArgs...)
	}
	if o.producerValidate != "" {
		re, err := regexp.Compile(o.producerValidate)
		if err != nil {
			return nil, fmt.Errorf("producer-validate: %w", err)
		}
		p = producer.Validate(p, re)
	}
	return p, nil
}

// relays builds the optional broker relays. The returned cleanup closes
// their connections.
func (o *serveOptions) relays(logger *slog.Logger) ([]gateway.Option, func(), error) {
	var (
		opts    []gateway.Option
		closers []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if o.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		closers = append(closers, func() { _ = rdb.Close() })
		opts = append(opts, gateway.WithExtension(
			relayhook.New(relayhook.NewRedisPublisher(rdb, o.redisPrefix), logger.With("relay", "redis"))))
	}
	if o.natsURL != "" {
		nc, err := relayhook.DialNATS(o.natsURL, "popgate")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, nc.Close)
		opts = append(opts, gateway.WithExtension(
			relayhook.New(relayhook.NewNATSPublisher(nc, o.natsPrefix), logger.With("relay", "nats"))))
	}
	return opts, cleanup, nil
}

func (o *serveOptions) run(ctx context.Context) error {
	logger, err := newLogger(o.logFormat, o.logLevel)
	if err != nil {
		return err
	}
	p, err := o.producer()
	if err != nil {
		return err
	}

	opts := []gateway.Option{gateway.WithLogger(logger), gateway.WithProducer(p)}
	if o.audit {
		opts = append(opts, gateway.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))))
	}
	relayOpts, closeRelays, err := o.relays(logger)
	if err != nil {
		return err
	}
	defer closeRelays()
	opts = append(opts, relayOpts...)

	gw, err := gateway.New(o.cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return err
	}

	var auth dwp.Authenticator = &dwp.NoopAuthenticator{}
	if o.dwpToken != "" {
		auth = dwp.NewTokenAuthenticator(o.dwpToken)
	}
	dwpSrv := dwp.NewServer(gw.Broker(), dwp.NewHandler(gw, logger),
		dwp.WithAuth(auth),
		dwp.WithLogger(logger),
	)

	servers := []*http.Server{{
		Addr:              o.cfg.Addr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if o.cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              o.cfg.AdminAddr,
			Handler:           api.New(gw, dwpSrv, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		if err := gw.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		dwpSrv.Close()
		return errors.Join(errs...)
	})

	return g.Wait()
}
