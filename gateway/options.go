package gateway

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/popgate/ext"
	"github.com/xraph/popgate/middleware"
	"github.com/xraph/popgate/producer"
	"github.com/xraph/popgate/respond"
)

// Option configures a Gateway.
type Option func(*Gateway) error

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) error {
		if l == nil {
			return errors.New("gateway: nil logger")
		}
		g.logger = l
		return nil
	}
}

// WithProducer sets the producer run for every job.
func WithProducer(p producer.Producer) Option {
	return func(g *Gateway) error {
		if p == nil {
			return errors.New("gateway: nil producer")
		}
		g.producer = p
		return nil
	}
}

// WithExtension registers a lifecycle extension. Extensions are notified
// in registration order, after the built-in metrics and stream extensions.
func WithExtension(e ext.Extension) Option {
	return func(g *Gateway) error {
		g.exts = append(g.exts, e)
		return nil
	}
}

// WithMiddleware appends middleware to the run chain. They run inside the
// built-in recover, tracing, metrics, logging, and timeout middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(g *Gateway) error {
		g.mws = append(g.mws, mws...)
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used by the
// tracing middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) error {
		g.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used by the
// metrics middleware and extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(g *Gateway) error {
		g.meterProvider = mp
		return nil
	}
}

// WithResponderOptions adds options applied to every response the gateway
// writes, after the configured chunk size.
func WithResponderOptions(opts ...respond.Option) Option {
	return func(g *Gateway) error {
		g.respondOpts = append(g.respondOpts, opts...)
		return nil
	}
}
