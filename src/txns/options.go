package txns

import (
	"time"

	"github.com/Blackdeer1524/TxnCoord/src"
	"github.com/Blackdeer1524/TxnCoord/src/deadlock"
)

const (
	DefaultLockTimeout       = 5 * time.Second
	DefaultDetectionInterval = 50 * time.Millisecond
)

type Option func(*Manager)

// WithDefaultTimeout bounds every wait that does not carry its own timeout.
// A negative value disables the bound.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.defaultTimeout = d
	}
}

func WithLogger(log src.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithDetectionMode selects synchronous (on every new wait edge) or periodic
// deadlock detection. interval is used by the periodic sweeper only.
func WithDetectionMode(mode deadlock.Mode, interval time.Duration) Option {
	return func(m *Manager) {
		m.mode = mode
		if interval > 0 {
			m.interval = interval
		}
	}
}

type acquireOptions struct {
	timeout time.Duration
}

type AcquireOption func(*acquireOptions)

// WithTimeout overrides the manager's default wait bound for one request.
// A negative value waits until grant, deadlock or context cancellation.
func WithTimeout(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.timeout = d
	}
}
