package coordinator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/retry"
)

const DefaultFinishedCacheSize = 10000

type options struct {
	log               src.Logger
	validateReadSet   bool
	retryPolicy       retry.Policy
	finishedCacheSize int64
	meterProvider     metric.MeterProvider
	tracerProvider    trace.TracerProvider
}

func defaultOptions() options {
	return options{
		log:               zap.NewNop().Sugar(),
		retryPolicy:       retry.DefaultPolicy(),
		finishedCacheSize: DefaultFinishedCacheSize,
		meterProvider:     otel.GetMeterProvider(),
		tracerProvider:    otel.GetTracerProvider(),
	}
}

type Option func(*options)

func WithLogger(log src.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithReadSetValidation makes optimistic commits also fail when a key that was
// only read has changed since.
func WithReadSetValidation(enabled bool) Option {
	return func(o *options) {
		o.validateReadSet = enabled
	}
}

// WithRetryPolicy sets the policy used by Run.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.retryPolicy = p
	}
}

// WithFinishedCacheSize bounds how many ended transactions are remembered.
func WithFinishedCacheSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.finishedCacheSize = n
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
