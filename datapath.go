package quicbind

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/netutil"
)

// Conn is the datapath abstraction this package consumes: raw UDP I/O,
// generalized beyond a single-peer WriteTo to the from/to addressing a
// multi-listener QUIC binding needs.
type Conn interface {
	ReadFrom(b []byte) (int, ConnectionPeer, error)
	WriteTo(b []byte, dst ConnectionPeer) (int, error)
	WriteFromTo(b []byte, local *Addr, dst ConnectionPeer) (int, error)
	LocalAddr() *Addr
	Close() error
}

type udpConn struct {
	base *net.UDPConn
}

// BindUDP opens a UDP socket and wraps it in the richer Conn interface a
// binding needs.
func BindUDP(network string, addr *net.UDPAddr) (Conn, error) {
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	return &udpConn{base: conn}, nil
}

func (c *udpConn) ReadFrom(b []byte) (int, ConnectionPeer, error) {
	n, addr, err := c.base.ReadFrom(b)
	if err != nil {
		return 0, nil, err
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, nil, errors.New("quicbind: non-UDP source address")
	}
	return n, NewUDPPeer(udpAddr), nil
}

func (c *udpConn) WriteTo(b []byte, dst ConnectionPeer) (int, error) {
	p, ok := dst.(*UDPPeer)
	if !ok {
		return 0, errors.New("quicbind: destination is not a UDP peer")
	}
	return c.base.WriteToUDP(b, p.UDPAddr())
}

func (c *udpConn) WriteFromTo(b []byte, local *Addr, dst ConnectionPeer) (int, error) {
	// net.UDPConn offers no per-packet source-address override on a
	// connected or wildcard-bound socket without platform-specific
	// PKTINFO plumbing. A real datapath implementation (e.g. one built on
	// golang.org/x/net/ipv4's ControlMessage) would honor local; this
	// default one documents the limitation and falls back to the
	// socket's bound address.
	return c.WriteTo(b, dst)
}

func (c *udpConn) LocalAddr() *Addr {
	a := AddrFromUDP(c.base.LocalAddr().(*net.UDPAddr))
	return &a
}

func (c *udpConn) Close() error { return c.base.Close() }

// ReadLoop pumps datagrams from conn into the binding's receive path
// until a permanent read error or Close: temporary errors (via
// go-ethereum's netutil.IsTemporaryError) are logged and skipped,
// anything else stops the loop.
func ReadLoop(conn Conn, logger log.Logger, onReceive func(*Datagram)) {
	buf := make([]byte, MAX_UDP_PAYLOAD_SIZE)
	local := conn.LocalAddr()
	for {
		n, from, err := conn.ReadFrom(buf)
		if netutil.IsTemporaryError(err) {
			logger.Debug("temporary UDP read error", "err", err)
			continue
		} else if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("UDP read error, stopping read loop", "err", err)
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		onReceive(&Datagram{
			Remote:  from,
			Local:   local,
			Payload: payload,
		})
	}
}

const MAX_UDP_PAYLOAD_SIZE = 65535

// SendContext models the datapath's allocate/fill/send/free contract. It
// is exclusively owned between allocation and either a successful Send
// or an explicit Free — on any error path the caller MUST call Free.
type SendContext struct {
	binding *Binding
	buf     []byte
	freed   bool
}

var sendBufPool = sync.Pool{New: func() any { return make([]byte, 0, MAX_UDP_PAYLOAD_SIZE) }}

// AllocSendContext implements alloc_send_context.
func (b *Binding) AllocSendContext() *SendContext {
	return &SendContext{binding: b, buf: sendBufPool.Get().([]byte)[:0]}
}

// AllocDatagram implements alloc_datagram: grows the context's backing
// buffer to len and returns the slice the caller fills in.
func (c *SendContext) AllocDatagram(length int) []byte {
	if cap(c.buf) < length {
		c.buf = make([]byte, length)
	} else {
		c.buf = c.buf[:length]
	}
	return c.buf
}

// SendTo implements send_to: sends to dst using the binding's bound local
// address.
func (c *SendContext) SendTo(dst ConnectionPeer) error {
	_, err := c.binding.datapath.WriteTo(c.buf, dst)
	c.Free()
	return err
}

// SendFromTo implements send_from_to: sends from a specific local address
// (relevant on wildcard-bound sockets serving multiple local addresses).
func (c *SendContext) SendFromTo(local *Addr, dst ConnectionPeer) error {
	_, err := c.binding.datapath.WriteFromTo(c.buf, local, dst)
	c.Free()
	return err
}

// Free implements free_send_context. Safe to call more than once and
// mandatory on every error path that doesn't reach SendTo/SendFromTo.
func (c *SendContext) Free() {
	if c.freed {
		return
	}
	c.freed = true
	sendBufPool.Put(c.buf[:0]) //nolint:staticcheck // buf reused at next AllocSendContext
}
