package quicbind

import (
	"sync"
	"unsafe"

	"github.com/protolambda/zrnt/eth2/util/math"
)

// InsertOutcome is the result of CIDTable.Insert.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	Collided
	// OutOfMemory is never produced by Insert: Go maps grow until the
	// allocator panics rather than returning an error. Kept for parity
	// with the three-way outcome this table's lookup semantics model.
	OutOfMemory
)

type cidPartition struct {
	mu  sync.Mutex
	byC map[string]Connection
}

// CIDTable is the Connection ID Lookup Table: a hashed index over CID
// bytes split across N independent mutex-protected partitions, plus a
// secondary remote-address index used only by pinned (exclusive)
// bindings for ICMP-unreachable delivery.
//
// It's built as an array of mutex-guarded maps rather than one shared map
// so a lookup only ever contends with inserts/removes landing in the same
// partition.
type CIDTable struct {
	// growMu serializes the one-time partition-count growth against
	// concurrent finds/inserts; steady-state lookups take only its read
	// side.
	growMu     sync.RWMutex
	partitions []*cidPartition

	// connCIDs tracks which CIDs belong to which connection so
	// RemoveAll/MoveAll don't need to scan every partition. Keyed by a
	// caller-stable identity; Connection implementations are expected to
	// be usable as map keys (pointer types).
	connMu   sync.Mutex
	connCIDs map[Connection]map[string]CID

	remoteMu sync.RWMutex
	byRemote map[Addr]Connection

	maximized bool
}

// NewCIDTable builds a table that starts with exactly one partition.
func NewCIDTable() *CIDTable {
	return &CIDTable{
		partitions: []*cidPartition{{byC: make(map[string]Connection)}},
		connCIDs:   make(map[Connection]map[string]CID),
		byRemote:   make(map[Addr]Connection),
	}
}

func (t *CIDTable) partitionFor(cid CID, partitions []*cidPartition) *cidPartition {
	idx := cid.partitionHash() % uint32(len(partitions))
	return partitions[idx]
}

// MaximizePartitioning grows the table once, monotonically, to the CPU
// count (typically triggered when a binding first gains a listener),
// rounded up to a power of two so the partition array sizes cleanly for
// callers that want to route with a mask instead of a modulo (the lookup
// below still uses a modulo for clarity). Returns false if already
// maximized.
func (t *CIDTable) MaximizePartitioning(cpuCount int) bool {
	t.growMu.Lock()
	defer t.growMu.Unlock()
	if t.maximized {
		return false
	}
	t.maximized = true
	if cpuCount <= 1 {
		return true
	}
	n := int(math.NextPowerOfTwo(uint64(cpuCount)))
	newPartitions := make([]*cidPartition, n)
	for i := range newPartitions {
		newPartitions[i] = &cidPartition{byC: make(map[string]Connection)}
	}
	for _, old := range t.partitions {
		old.mu.Lock()
		for key, conn := range old.byC {
			cid := CID{bytes: []byte(key)}
			dst := t.partitionFor(cid, newPartitions)
			dst.byC[key] = conn
		}
		old.mu.Unlock()
	}
	t.partitions = newPartitions
	return true
}

// Insert adds cid -> conn. A collision leaves state untouched and returns
// the already-present connection.
func (t *CIDTable) Insert(cid CID, conn Connection) (InsertOutcome, Connection) {
	t.growMu.RLock()
	part := t.partitionFor(cid, t.partitions)
	t.growMu.RUnlock()

	part.mu.Lock()
	if existing, ok := part.byC[cid.key()]; ok {
		part.mu.Unlock()
		return Collided, existing
	}
	part.byC[cid.key()] = conn
	part.mu.Unlock()

	t.connMu.Lock()
	if t.connCIDs[conn] == nil {
		t.connCIDs[conn] = make(map[string]CID)
	}
	t.connCIDs[conn][cid.key()] = cid
	t.connMu.Unlock()
	return Inserted, nil
}

// Remove deletes a single CID mapping.
func (t *CIDTable) Remove(cid CID) {
	t.growMu.RLock()
	part := t.partitionFor(cid, t.partitions)
	t.growMu.RUnlock()

	part.mu.Lock()
	conn, ok := part.byC[cid.key()]
	if ok {
		delete(part.byC, cid.key())
	}
	part.mu.Unlock()

	if !ok {
		return
	}
	t.connMu.Lock()
	if cids := t.connCIDs[conn]; cids != nil {
		delete(cids, cid.key())
		if len(cids) == 0 {
			delete(t.connCIDs, conn)
		}
	}
	t.connMu.Unlock()
}

// RemoveAll deletes every CID registered for conn.
func (t *CIDTable) RemoveAll(conn Connection) {
	t.connMu.Lock()
	cids := t.connCIDs[conn]
	delete(t.connCIDs, conn)
	t.connMu.Unlock()

	for _, cid := range cids {
		t.growMu.RLock()
		part := t.partitionFor(cid, t.partitions)
		t.growMu.RUnlock()
		part.mu.Lock()
		delete(part.byC, cid.key())
		part.mu.Unlock()
	}
}

// MoveAll atomically (from the caller's viewpoint) relocates every CID
// registered for conn from src to dst, holding both tables' growMu in a
// fixed address-ordered sequence so two concurrent MoveAll calls between
// the same pair of tables in opposite directions can never deadlock.
func MoveAll(src, dst *CIDTable, conn Connection) {
	first, second := src, dst
	if tableLess(dst, src) {
		first, second = dst, src
	}
	first.growMu.RLock()
	defer first.growMu.RUnlock()
	if second != first {
		second.growMu.RLock()
		defer second.growMu.RUnlock()
	}

	src.connMu.Lock()
	cids := src.connCIDs[conn]
	delete(src.connCIDs, conn)
	src.connMu.Unlock()

	for _, cid := range cids {
		srcPart := src.partitionFor(cid, src.partitions)
		srcPart.mu.Lock()
		delete(srcPart.byC, cid.key())
		srcPart.mu.Unlock()

		dstPart := dst.partitionFor(cid, dst.partitions)
		dstPart.mu.Lock()
		dstPart.byC[cid.key()] = conn
		dstPart.mu.Unlock()
	}

	dst.connMu.Lock()
	if dst.connCIDs[conn] == nil {
		dst.connCIDs[conn] = make(map[string]CID)
	}
	for k, v := range cids {
		dst.connCIDs[conn][k] = v
	}
	dst.connMu.Unlock()
}

// tableLess imposes the fixed ordering MoveAll needs to avoid lock-order
// inversion; any total order over the two pointers works.
func tableLess(a, b *CIDTable) bool {
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}

// HasAny reports whether any connection is still registered under a
// Source CID.
func (t *CIDTable) HasAny() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return len(t.connCIDs) > 0
}

// FindByCID returns a refcounted guard on the connection owning cid, or nil
// if absent. Released by calling Release on the returned *ConnRef.
func (t *CIDTable) FindByCID(cid CID) *ConnRef {
	t.growMu.RLock()
	part := t.partitionFor(cid, t.partitions)
	t.growMu.RUnlock()

	part.mu.Lock()
	conn, ok := part.byC[cid.key()]
	part.mu.Unlock()
	if !ok {
		return nil
	}
	return newConnRef(conn)
}

// SetRemote registers conn under addr in the secondary index. Only
// meaningful for exclusive (pinned-remote) bindings.
func (t *CIDTable) SetRemote(addr Addr, conn Connection) {
	t.remoteMu.Lock()
	t.byRemote[addr] = conn
	t.remoteMu.Unlock()
}

// FindByRemote looks up the secondary remote-address index (used by the
// ICMP/unreachable notification path).
func (t *CIDTable) FindByRemote(addr Addr) *ConnRef {
	t.remoteMu.RLock()
	conn, ok := t.byRemote[addr]
	t.remoteMu.RUnlock()
	if !ok {
		return nil
	}
	return newConnRef(conn)
}
