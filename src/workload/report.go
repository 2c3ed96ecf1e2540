package workload

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/Blackdeer1524/TxnCoord/src/coordinator"
)

// Report summarizes one workload run.
type Report struct {
	RunID    uuid.UUID
	Workload string
	Strategy coordinator.Strategy
	Clients  int
	Duration time.Duration

	Attempts  int64
	Commits   int64
	Exhausted int64
	Aborts    map[string]int64
}

// WriteJSON appends the report to e as a JSON object.
func (r Report) WriteJSON(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("run_id")
	e.Str(r.RunID.String())
	e.FieldStart("workload")
	e.Str(r.Workload)
	e.FieldStart("strategy")
	e.Str(r.Strategy.String())
	e.FieldStart("clients")
	e.Int(r.Clients)
	e.FieldStart("duration_ms")
	e.Int64(r.Duration.Milliseconds())
	e.FieldStart("attempts")
	e.Int64(r.Attempts)
	e.FieldStart("commits")
	e.Int64(r.Commits)
	e.FieldStart("exhausted")
	e.Int64(r.Exhausted)
	e.FieldStart("aborts")
	e.ObjStart()
	for _, reason := range slices.Sorted(maps.Keys(r.Aborts)) {
		e.FieldStart(reason)
		e.Int64(r.Aborts[reason])
	}
	e.ObjEnd()
	e.ObjEnd()
}

func (r Report) JSON() []byte {
	var e jx.Encoder
	e.SetIdent(2)
	r.WriteJSON(&e)
	return e.Bytes()
}

// tally collects attempt outcomes from concurrent clients.
type tally struct {
	attempts  atomic.Int64
	commits   atomic.Int64
	exhausted atomic.Int64

	mu     sync.Mutex
	aborts map[string]int64
}

func newTally() *tally {
	return &tally{aborts: map[string]int64{}}
}

func (t *tally) abort(reason string) {
	t.mu.Lock()
	t.aborts[reason]++
	t.mu.Unlock()
}

func (t *tally) report(r Report) Report {
	r.Attempts = t.attempts.Load()
	r.Commits = t.commits.Load()
	r.Exhausted = t.exhausted.Load()

	t.mu.Lock()
	r.Aborts = maps.Clone(t.aborts)
	t.mu.Unlock()
	return r
}
