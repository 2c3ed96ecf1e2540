package deadlock

import (
	"github.com/go-faster/errors"
)

// Mode selects when the wait-for graph is checked for cycles.
type Mode string

const (
	// ModeSynchronous checks for a cycle every time a wait edge is added.
	ModeSynchronous Mode = "sync"
	// ModePeriodic sweeps the whole graph on a timer.
	ModePeriodic Mode = "periodic"
)

func (m Mode) Validate() error {
	switch m {
	case ModeSynchronous, ModePeriodic:
		return nil
	}
	return errors.Errorf("unknown deadlock detection mode %q", string(m))
}
