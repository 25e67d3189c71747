// Package sync reconciles the locally cached task set with the remote
// authoritative set and delivers queued local mutations to it.
package sync

import (
	"sync"
	"time"

	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
)

// PendingGuard is the in-flight set: task ids under local mutation are
// opaque to the merge engine until released. Release happens on confirmed
// remote acknowledgement, or after a bounded window when no confirmation
// can arrive (offline).
type PendingGuard struct {
	mu   sync.Mutex
	held map[model.TaskID]int
}

func NewPendingGuard() *PendingGuard {
	return &PendingGuard{held: map[model.TaskID]int{}}
}

// Acquire marks id as in-flight. Acquisitions nest: the id stays held
// until every acquisition has been released.
func (g *PendingGuard) Acquire(id model.TaskID) {
	g.mu.Lock()
	g.held[id]++
	g.mu.Unlock()
}

func (g *PendingGuard) Release(id model.TaskID) {
	g.mu.Lock()
	if n := g.held[id]; n > 1 {
		g.held[id] = n - 1
	} else {
		delete(g.held, id)
	}
	g.mu.Unlock()
}

// ReleaseAfter releases one acquisition of id once d elapses. It is the
// fallback protection window for mutations whose acknowledgement cannot
// arrive yet.
func (g *PendingGuard) ReleaseAfter(id model.TaskID, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() { g.Release(id) })
}

func (g *PendingGuard) IsHeld(id model.TaskID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[id] > 0
}

func (g *PendingGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
