package quicbind

import (
	"net"
	"sync"
)

// fakeConnection is a minimal Connection fixture: a small hand-built
// struct rather than a generated mock.
type fakeConnection struct {
	mu          sync.Mutex
	refcount    int
	datagrams   []*Datagram
	shutdowns   int
	unreachable int
}

func (c *fakeConnection) QueueDatagrams(datagrams []*Datagram) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datagrams = append(c.datagrams, datagrams...)
}

func (c *fakeConnection) QueueSilentShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdowns++
}

func (c *fakeConnection) Acquire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refcount++
}

func (c *fakeConnection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refcount--
}

func (c *fakeConnection) NotifyUnreachable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreachable++
}

// fakeConn is an in-memory Conn fixture capturing every outbound
// datagram, used in place of a real UDP socket in tests.
type fakeConn struct {
	mu   sync.Mutex
	sent []sentDatagram
	loc  Addr
}

type sentDatagram struct {
	payload []byte
	dst     ConnectionPeer
}

func newFakeConn() *fakeConn {
	return &fakeConn{loc: Addr{Port: 4433}}
}

func (c *fakeConn) ReadFrom(b []byte) (int, ConnectionPeer, error) { return 0, nil, nil }

func (c *fakeConn) WriteTo(b []byte, dst ConnectionPeer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.sent = append(c.sent, sentDatagram{payload: cp, dst: dst})
	return len(b), nil
}

func (c *fakeConn) WriteFromTo(b []byte, local *Addr, dst ConnectionPeer) (int, error) {
	return c.WriteTo(b, dst)
}

func (c *fakeConn) LocalAddr() *Addr { return &c.loc }

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) lastSent() (sentDatagram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return sentDatagram{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// syncWorker runs jobs synchronously on the caller's goroutine so tests
// can assert on their effects without needing to wait for a background
// goroutine.
type syncWorker struct {
	overloaded bool
}

func (w *syncWorker) IsOverloaded() bool { return w.overloaded }

func (w *syncWorker) Submit(job StatelessJob) { processStatelessJob(job) }

func testPeer(port int) *UDPPeer {
	return NewUDPPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
}

func testProcessContext() *ProcessContext {
	pc, _ := NewProcessContext([]uint32{0x00000001}, 16<<30, 70)
	return pc
}

func newTestBinding(exclusive bool) (*Binding, *fakeConn) {
	conn := newFakeConn()
	pc := testProcessContext()
	cfg := &BindingConfig{
		LocalAddr: &Addr{Port: 4433},
		Exclusive: exclusive,
		Datapath:  conn,
	}
	b, err := NewBinding(cfg, pc, &syncWorker{})
	if err != nil {
		panic(err)
	}
	return b, conn
}
