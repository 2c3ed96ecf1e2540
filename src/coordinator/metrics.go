package coordinator

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Blackdeer1524/TxnCoord/src/coordinator"

type metrics struct {
	begins       metric.Int64Counter
	commits      metric.Int64Counter
	aborts       metric.Int64Counter
	lockWaits    metric.Int64Counter
	waitDuration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	if m.begins, err = meter.Int64Counter("txcoord.txn.begins",
		metric.WithDescription("Transactions started")); err != nil {
		return nil, errors.Wrap(err, "begins counter")
	}
	if m.commits, err = meter.Int64Counter("txcoord.txn.commits",
		metric.WithDescription("Transactions committed")); err != nil {
		return nil, errors.Wrap(err, "commits counter")
	}
	if m.aborts, err = meter.Int64Counter("txcoord.txn.aborts",
		metric.WithDescription("Transactions aborted, by reason")); err != nil {
		return nil, errors.Wrap(err, "aborts counter")
	}
	if m.lockWaits, err = meter.Int64Counter("txcoord.lock.waits",
		metric.WithDescription("Lock requests not granted immediately")); err != nil {
		return nil, errors.Wrap(err, "lock waits counter")
	}
	if m.waitDuration, err = meter.Float64Histogram("txcoord.lock.wait_duration",
		metric.WithDescription("Time spent waiting for a lock"),
		metric.WithUnit("ms")); err != nil {
		return nil, errors.Wrap(err, "wait duration histogram")
	}
	return &m, nil
}

func strategyAttr(s Strategy) attribute.KeyValue {
	return attribute.String("strategy", s.String())
}

func (m *metrics) begin(ctx context.Context, s Strategy) {
	m.begins.Add(ctx, 1, metric.WithAttributes(strategyAttr(s)))
}

func (m *metrics) commit(ctx context.Context, s Strategy) {
	m.commits.Add(ctx, 1, metric.WithAttributes(strategyAttr(s)))
}

func (m *metrics) abort(ctx context.Context, s Strategy, reason string) {
	m.aborts.Add(ctx, 1, metric.WithAttributes(strategyAttr(s), attribute.String("reason", reason)))
}

func (m *metrics) lockWait(ctx context.Context, waited time.Duration) {
	m.lockWaits.Add(ctx, 1)
	m.waitDuration.Record(ctx, float64(waited)/float64(time.Millisecond))
}
