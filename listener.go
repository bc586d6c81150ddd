package quicbind

import (
	"bytes"
	"runtime"
	"sync"

	"github.com/google/btree"
)

// addressFamily orders listeners family DESC: AF_INET6 > AF_INET >
// AF_UNSPEC.
type addressFamily int

const (
	familyUnspec addressFamily = iota
	familyINET
	familyINET6
)

// Listener is a registered acceptor of new connections on a Binding.
type Listener struct {
	LocalAddr *Addr // nil means AF_UNSPEC / any address
	ALPN      []byte
	Owner     any

	rundownMu sync.Mutex
	rundownWG sync.WaitGroup
	closed    bool
}

func (l *Listener) family() addressFamily {
	if l.LocalAddr == nil || l.LocalAddr.IsUnspecified() {
		return familyUnspec
	}
	if l.LocalAddr.IsV4() {
		return familyINET
	}
	return familyINET6
}

func (l *Listener) wildcard() bool {
	return l.LocalAddr == nil || l.LocalAddr.IsUnspecified()
}

func (l *Listener) addrBytes() [16]byte {
	if l.LocalAddr == nil {
		return [16]byte{}
	}
	return l.LocalAddr.Bytes()
}

// AcquireRundown prevents the listener from being considered freed while
// in use. Returns false if the listener is already being torn down.
func (l *Listener) AcquireRundown() bool {
	l.rundownMu.Lock()
	defer l.rundownMu.Unlock()
	if l.closed {
		return false
	}
	l.rundownWG.Add(1)
	return true
}

func (l *Listener) ReleaseRundown() { l.rundownWG.Done() }

// Rundown marks the listener closed to new acquisitions, then blocks until
// every outstanding AcquireRundown has been released.
func (l *Listener) Rundown() {
	l.rundownMu.Lock()
	l.closed = true
	l.rundownMu.Unlock()
	l.rundownWG.Wait()
}

// listenerLess implements the registry sort order: family desc,
// wildcard-last, address bytes, ALPN. New listeners within an
// equivalence group are inserted at the end, which a strict-less B-tree
// naturally achieves by additionally ordering on an insertion sequence
// number when every other field ties.
func listenerLess(a, b *listenerEntry) bool {
	if a.listener.family() != b.listener.family() {
		return a.listener.family() > b.listener.family() // DESC
	}
	aw, bw := a.listener.wildcard(), b.listener.wildcard()
	if aw != bw {
		return !aw // specific before wildcard
	}
	aAddr, bAddr := a.listener.addrBytes(), b.listener.addrBytes()
	if c := bytes.Compare(aAddr[:], bAddr[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(a.listener.ALPN, b.listener.ALPN); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

type listenerEntry struct {
	listener *Listener
	seq      uint64
}

// ListenerRegistry is the ordered set of listeners bound to one Binding,
// backed by github.com/google/btree for cheap insert/iterate over a
// strict total order.
type ListenerRegistry struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[*listenerEntry]
	nextSeq uint64
	cids    *CIDTable // partitioning is maximized on first registration
}

func NewListenerRegistry(cids *CIDTable) *ListenerRegistry {
	return &ListenerRegistry{
		tree: btree.NewG[*listenerEntry](32, listenerLess),
		cids: cids,
	}
}

// duplicateOf reports whether an equivalent listener (same family,
// wildcard-ness, address bits, ALPN) is already registered. Equivalent
// listeners are adjacent under listenerLess (they differ only by seq), so
// this only has to check the immediate neighborhood of where l would land
// rather than the whole tree.
func (r *ListenerRegistry) duplicateOf(l *Listener) bool {
	dup := false
	probe := &listenerEntry{listener: l, seq: 0}
	r.tree.AscendGreaterOrEqual(probe, func(e *listenerEntry) bool {
		if !sameGroup(e.listener, l) {
			return false
		}
		dup = true
		return false
	})
	return dup
}

func sameGroup(a, b *Listener) bool {
	aAddr, bAddr := a.addrBytes(), b.addrBytes()
	return a.family() == b.family() && a.wildcard() == b.wildcard() &&
		aAddr == bAddr && bytes.Equal(a.ALPN, b.ALPN)
}

// Register inserts listener in sorted order. A duplicate
// (family+wildcard+address+ALPN already present) is rejected with false
// and the registry is left unchanged. The first successful registration
// triggers CIDTable.MaximizePartitioning; a rolled-back duplicate does
// not.
func (r *ListenerRegistry) Register(l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.duplicateOf(l) {
		return false
	}

	wasEmpty := r.tree.Len() == 0
	entry := &listenerEntry{listener: l, seq: r.nextSeq}
	r.nextSeq++
	r.tree.ReplaceOrInsert(entry)

	if wasEmpty && r.cids != nil {
		r.cids.MaximizePartitioning(runtime.NumCPU())
	}
	return true
}

// Unregister removes listener from the registry.
func (r *ListenerRegistry) Unregister(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var toDelete *listenerEntry
	r.tree.Ascend(func(e *listenerEntry) bool {
		if e.listener == l {
			toDelete = e
			return false
		}
		return true
	})
	if toDelete != nil {
		r.tree.Delete(toDelete)
	}
}

func (r *ListenerRegistry) HasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len() > 0
}

// Select scans, for each ALPN in client preference order, the registry in
// stored order for a family- and address-compatible match; the first hit
// wins and its rundown guard is acquired on the caller's behalf.
func (r *ListenerRegistry) Select(localAddr Addr, alpnList [][]byte) *Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, alpn := range alpnList {
		var found *Listener
		r.tree.Ascend(func(e *listenerEntry) bool {
			l := e.listener
			if !familyCompatible(l, localAddr) {
				return true
			}
			if !bytes.Equal(l.ALPN, alpn) {
				return true
			}
			if l.AcquireRundown() {
				found = l
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func familyCompatible(l *Listener, localAddr Addr) bool {
	if l.wildcard() {
		return true
	}
	return *l.LocalAddr == localAddr
}

// Rundown enumerates every registered listener for tracing.
func (r *ListenerRegistry) Rundown(visit func(*Listener)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.tree.Ascend(func(e *listenerEntry) bool {
		visit(e.listener)
		return true
	})
}
