package deadlock

import (
	"slices"
	"sync"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
	"github.com/Blackdeer1524/TxnCoord/src/pkg/optional"
)

// Weigher reports how much work a transaction has done so far.
// A deadlock victim is the cycle member with the smallest weight.
type Weigher func(common.TxnID) int

// Detector maintains the wait-for graph. An edge waiter -> holder exists only
// while waiter has a pending lock request that holder blocks.
//
// The lock manager is the only mutator of the graph.
type Detector struct {
	mu    sync.Mutex
	edges map[common.TxnID]map[common.TxnID]struct{}
}

func New() *Detector {
	return &Detector{
		edges: map[common.TxnID]map[common.TxnID]struct{}{},
	}
}

// SetWaits replaces the outgoing edges of waiter with blockers and reports
// whether at least one edge was not present before.
func (d *Detector) SetWaits(waiter common.TxnID, blockers []common.TxnID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.edges[waiter]
	next := make(map[common.TxnID]struct{}, len(blockers))
	added := false
	for _, b := range blockers {
		if b == waiter {
			continue
		}
		next[b] = struct{}{}
		if _, ok := old[b]; !ok {
			added = true
		}
	}

	if len(next) == 0 {
		delete(d.edges, waiter)
		return false
	}
	d.edges[waiter] = next
	return added
}

// RemoveWaiter drops every outgoing edge of waiter.
func (d *Detector) RemoveWaiter(waiter common.TxnID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.edges, waiter)
}

// RemoveTxn drops every edge touching txn.
func (d *Detector) RemoveTxn(txn common.TxnID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.edges, txn)
	for waiter, holders := range d.edges {
		delete(holders, txn)
		if len(holders) == 0 {
			delete(d.edges, waiter)
		}
	}
}

// CheckForCycle looks for a cycle passing through from. It is meant to be run
// right after edges of from were added. Returns the victim if a cycle exists.
func (d *Detector) CheckForCycle(from common.TxnID, weigh Weigher) optional.Optional[common.TxnID] {
	d.mu.Lock()
	defer d.mu.Unlock()

	cycle := d.cycleThrough(from)
	if cycle == nil {
		return optional.None[common.TxnID]()
	}
	return optional.Some(selectVictim(cycle, weigh))
}

// FindVictim scans the whole graph and returns a victim of the first cycle it
// finds. Used by the periodic sweeper.
func (d *Detector) FindVictim(weigh Weigher) optional.Optional[common.TxnID] {
	d.mu.Lock()
	defer d.mu.Unlock()

	const (
		white = iota
		grey
		black
	)
	color := make(map[common.TxnID]int, len(d.edges))
	var stack []common.TxnID

	var visit func(n common.TxnID) []common.TxnID
	visit = func(n common.TxnID) []common.TxnID {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range d.sortedTargets(n) {
			switch color[next] {
			case grey:
				i := slices.Index(stack, next)
				return slices.Clone(stack[i:])
			case white:
				if c := visit(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for _, n := range d.sortedWaiters() {
		if color[n] != white {
			continue
		}
		if c := visit(n); c != nil {
			return optional.Some(selectVictim(c, weigh))
		}
	}
	return optional.None[common.TxnID]()
}

// cycleThrough returns the members of a cycle containing from, or nil.
func (d *Detector) cycleThrough(from common.TxnID) []common.TxnID {
	visited := map[common.TxnID]struct{}{}
	path := []common.TxnID{from}

	var dfs func(n common.TxnID) bool
	dfs = func(n common.TxnID) bool {
		for _, next := range d.sortedTargets(n) {
			if next == from {
				return true
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			path = append(path, next)
			if dfs(next) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if dfs(from) {
		return path
	}
	return nil
}

func (d *Detector) sortedTargets(n common.TxnID) []common.TxnID {
	targets := make([]common.TxnID, 0, len(d.edges[n]))
	for t := range d.edges[n] {
		targets = append(targets, t)
	}
	slices.Sort(targets)
	return targets
}

func (d *Detector) sortedWaiters() []common.TxnID {
	waiters := make([]common.TxnID, 0, len(d.edges))
	for w := range d.edges {
		waiters = append(waiters, w)
	}
	slices.Sort(waiters)
	return waiters
}

// selectVictim picks the member with the least work, preferring the most
// recently started one on ties.
func selectVictim(cycle []common.TxnID, weigh Weigher) common.TxnID {
	victim := cycle[0]
	victimWeight := weigh(victim)
	for _, c := range cycle[1:] {
		w := weigh(c)
		if w < victimWeight || (w == victimWeight && c > victim) {
			victim, victimWeight = c, w
		}
	}
	return victim
}

// Edges returns a copy of the graph.
func (d *Detector) Edges() map[common.TxnID][]common.TxnID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[common.TxnID][]common.TxnID, len(d.edges))
	for w := range d.edges {
		out[w] = d.sortedTargets(w)
	}
	return out
}

// Len returns the number of waiting transactions.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.edges)
}
