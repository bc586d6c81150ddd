package quicbind

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// Binding is the UDP binding demultiplexer: the 1:1 companion of one UDP
// socket, owning the listener registry, the CID lookup table, the
// stateless operation table, and the keys stateless responses are
// derived from.
//
// It demultiplexes arbitrary-length QUIC CIDs through a partitioned
// lookup table and, on a miss, decides whether the datagram should mint
// a connection, trigger a stateless reply, or be dropped.
type Binding struct {
	config *BindingConfig
	pc     *ProcessContext

	listeners      *ListenerRegistry
	cidTable       *CIDTable
	statelessTable *StatelessOpTable
	datapath       Conn
	worker         Worker

	resetHasher     *resetTokenHasher
	reservedVersion uint32

	// ConnectionFactory mints a new Connection for an admitted Initial
	// packet bound for listener. It is the seam between this package and
	// the per-connection state machine, which lives outside it.
	ConnectionFactory func(listener *Listener, head *ReceivedPacket) (Connection, error)

	// ALPNExtractor pulls the client's ordered ALPN preference list out of
	// an Initial packet's handshake payload. Real extraction requires
	// parsing the TLS ClientHello carried in the CRYPTO frame, which this
	// package does not do; callers that terminate TLS supply it here.
	ALPNExtractor func(head *ReceivedPacket) [][]byte

	refcount int64
	wg       sync.WaitGroup // outstanding in-flight receive callbacks

	// closedMu gates acquireRef against Uninitialize: acquireRef takes
	// the read side to check closed and register with wg atomically with
	// respect to Uninitialize's write side, so a receive callback can
	// never join wg after Uninitialize has already observed it empty.
	closedMu sync.RWMutex
	closed   bool

	logger log.Logger
}

// NewBinding initializes a Binding. Exclusive bindings (pinned to a single
// remote 2-tuple) disable stateless reset: a reset on a connected socket
// would otherwise have nowhere correct to go but the one peer it's bound to.
func NewBinding(config *BindingConfig, pc *ProcessContext, worker Worker) (*Binding, error) {
	if config.Datapath == nil {
		return nil, fmt.Errorf("quicbind: binding requires a datapath")
	}
	if config.Exclusive && config.RemoteAddr == nil {
		return nil, fmt.Errorf("quicbind: exclusive binding requires a pinned remote address")
	}

	var saltKey [32]byte
	if err := randomBytes(saltKey[:]); err != nil {
		return nil, fmt.Errorf("quicbind: generating reset-token salt: %w", err)
	}

	cidTable := NewCIDTable()
	b := &Binding{
		config:          config,
		pc:              pc,
		listeners:       NewListenerRegistry(cidTable),
		cidTable:        cidTable,
		statelessTable:  NewStatelessOpTable(),
		datapath:        config.Datapath,
		worker:          worker,
		resetHasher:     newResetTokenHasher(saltKey[:]),
		reservedVersion: randomReservedVersion(),
		logger:          log.New("module", "quicbind-binding"),
	}
	return b, nil
}

// Uninitialize tears a Binding down: blocks for in-flight receive
// callbacks to drain, then unconditionally drains the stateless table
// (safe because no new work can arrive once callbacks have drained),
// then asserts the fatal invariants that must hold at teardown.
func (b *Binding) Uninitialize() error {
	b.closedMu.Lock()
	b.closed = true
	b.closedMu.Unlock()

	if err := b.datapath.Close(); err != nil {
		b.logger.Debug("datapath close error during teardown", "err", err)
	}
	b.wg.Wait() // datapath_delete semantics: block until up-calls complete

	b.statelessTable.Drain()

	if atomic.LoadInt64(&b.refcount) != 0 {
		return fmt.Errorf("%w: refcount %d at teardown", ErrInvariantViolated, b.refcount)
	}
	if b.listeners.HasAny() {
		return fmt.Errorf("%w: listeners still registered at teardown", ErrInvariantViolated)
	}
	if b.cidTable.HasAny() {
		return fmt.Errorf("%w: live handshake connections at teardown", ErrInvariantViolated)
	}
	return nil
}

// RegisterListener adds l to the binding's listener registry.
func (b *Binding) RegisterListener(l *Listener) bool {
	return b.listeners.Register(l)
}

// UnregisterListener removes l from the binding's listener registry.
func (b *Binding) UnregisterListener(l *Listener) {
	b.listeners.Unregister(l)
	l.Rundown()
}

// AddSourceCID inserts cid -> conn into the lookup table, surfacing
// collision as a boolean rather than an error.
func (b *Binding) AddSourceCID(cid CID, conn Connection) bool {
	outcome, _ := b.cidTable.Insert(cid, conn)
	return outcome == Inserted
}

// RemoveSourceCID removes cid from the lookup table.
func (b *Binding) RemoveSourceCID(cid CID) {
	b.cidTable.Remove(cid)
}

// RemoveConnection removes every CID registered to conn.
func (b *Binding) RemoveConnection(conn Connection) {
	b.cidTable.RemoveAll(conn)
}

// MoveSourceCIDs transfers every CID conn owns in src to dst, e.g. when a
// connection migrates between bindings.
func MoveSourceCIDs(src, dst *Binding, conn Connection) {
	MoveAll(src.cidTable, dst.cidTable, conn)
}

// acquireRef / releaseRef implement a binding-lifetime refcount guard
// against teardown races with in-flight packets. acquireRef checks closed
// and joins wg under the same read lock, so Uninitialize's exclusive lock
// orders every successful acquireRef strictly before the closed transition
// it would otherwise race: either wg.Add happens before Uninitialize sets
// closed (and wg.Wait correctly accounts for it), or acquireRef observes
// closed already set and never calls wg.Add at all.
func (b *Binding) acquireRef() bool {
	b.closedMu.RLock()
	defer b.closedMu.RUnlock()
	if b.closed {
		return false
	}
	atomic.AddInt64(&b.refcount, 1)
	b.wg.Add(1)
	return true
}

func (b *Binding) releaseRef() {
	atomic.AddInt64(&b.refcount, -1)
	b.wg.Done()
}
