package quicbind

import (
	"container/list"
	"sync"
	"time"
)

// StatelessContext is the per-in-flight-stateless-response bookkeeping
// record. The table drops its reference when the eviction walk expires it
// (setting isExpired) or when Release unlinks it after processing
// (setting isProcessed); Go's garbage collector performs the actual free.
type StatelessContext struct {
	Remote      ConnectionPeer
	CreatedAt   time.Time
	Datagram    *Datagram
	Worker      any
	HasBindingRef bool

	mu         sync.Mutex
	isProcessed bool
	isExpired   bool

	elem *list.Element // position in the eviction FIFO, nil once removed
}

// StatelessOpTable is the Stateless Operation Table: per remote-address
// dedup with FIFO-ordered TTL eviction, bounding the binding's per-remote
// amplification surface to at most one in-flight stateless response.
type StatelessOpTable struct {
	mu         sync.Mutex
	byRemote   map[Addr]*StatelessContext
	fifo       *list.List // front = oldest
	expiration time.Duration
	max        int
}

func NewStatelessOpTable() *StatelessOpTable {
	return &StatelessOpTable{
		byRemote:   make(map[Addr]*StatelessContext),
		fifo:       list.New(),
		expiration: StatelessOpExpiration,
		max:        MaxBindingStatelessOperations,
	}
}

// evictExpiredLocked walks the FIFO from the head, stopping at the first
// entry that is not yet expired (the list is creation-ordered, so
// nothing past it can be expired either). Caller must hold t.mu.
func (t *StatelessOpTable) evictExpiredLocked(now time.Time) {
	for t.fifo.Len() > 0 {
		front := t.fifo.Front()
		ctx := front.Value.(*StatelessContext)
		if now.Sub(ctx.CreatedAt) < t.expiration {
			break
		}
		t.fifo.Remove(front)
		ctx.elem = nil
		delete(t.byRemote, ctx.Remote.Key())

		ctx.mu.Lock()
		ctx.isExpired = true
		processed := ctx.isProcessed
		ctx.mu.Unlock()
		_ = processed // both flags true just means safe to drop; GC handles the free
	}
}

// TryAdmit attempts to admit a new stateless operation for remote:
// evict-expired, then capacity check, then dedup lookup, in that exact
// order.
func (t *StatelessOpTable) TryAdmit(remote ConnectionPeer, dg *Datagram, worker any) (*StatelessContext, dropReason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.evictExpiredLocked(now)

	if t.fifo.Len() >= t.max {
		return nil, dropMaxStatelessOps, false
	}

	key := remote.Key()
	if _, exists := t.byRemote[key]; exists {
		return nil, dropDuplicateStatelessOp, false
	}

	ctx := &StatelessContext{
		Remote:    remote,
		CreatedAt: now,
		Datagram:  dg,
		Worker:    worker,
	}
	ctx.elem = t.fifo.PushBack(ctx)
	t.byRemote[key] = ctx
	return ctx, "", true
}

// Release marks ctx processed. If expiration already happened while it was
// in flight, the eviction walk has unlinked it and nothing is left to do;
// otherwise Release unlinks it from the table now, freeing its slot and
// letting the same remote be admitted again.
func (t *StatelessOpTable) Release(ctx *StatelessContext, returnDatagram bool) {
	ctx.mu.Lock()
	ctx.isProcessed = true
	expired := ctx.isExpired
	ctx.mu.Unlock()

	if expired {
		// Already removed from the tracking structures by the eviction
		// walk; nothing left to unlink.
		return
	}

	t.mu.Lock()
	if ctx.elem != nil {
		t.fifo.Remove(ctx.elem)
		ctx.elem = nil
		delete(t.byRemote, ctx.Remote.Key())
	}
	t.mu.Unlock()
}

// Len reports the current table size.
func (t *StatelessOpTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fifo.Len()
}

// Drain unconditionally frees every tracked context.
func (t *StatelessOpTable) Drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fifo.Init()
	t.byRemote = make(map[Addr]*StatelessContext)
}
