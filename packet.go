package quicbind

import "time"

// Datagram is one received UDP payload plus its provenance. It is owned
// by the binding for the duration of OnReceive; a datagram delivered to a
// connection passes to that connection, and a stateless context keeps a
// reference to the datagram that triggered it.
type Datagram struct {
	Remote    ConnectionPeer
	Local     *Addr
	Payload   []byte
	ReceiveAt time.Time

	// next is not set by this package: the demultiplexer builds
	// same-Dest-CID sub-chains as slices.
	next *Datagram
}

// HeaderKind classifies a parsed packet by long/short header form.
type HeaderKind int

const (
	HeaderShort HeaderKind = iota
	HeaderLong
)

// LongPacketType is the long-header packet type (version-specific values
// are looked up once the version is known to be supported; the invariant
// parse only needs to distinguish Initial from everything else for the
// connection-creation gate).
type LongPacketType int

const (
	LongTypeUnknown LongPacketType = iota
	LongTypeInitial
	LongType0RTT
	LongTypeHandshake
	LongTypeRetry
)

// ReceivedPacket is the transient, version-independent parse of one
// Datagram's invariant header. It never outlives the Datagram it points
// into.
type ReceivedPacket struct {
	Datagram *Datagram

	Kind       HeaderKind
	DestCID    CID
	SourceCID  CID // long header only
	Version    uint32
	LongType   LongPacketType
	KeyPhase   bool // short header only
	Valid      bool
	TokenBytes []byte // Initial packets only, may be empty
}

// IsHandshake reports whether this packet belongs to the handshake-priority
// class that must be ordered ahead of data/1-RTT packets within a
// sub-chain: any long-header packet (Initial, 0-RTT is grouped with
// handshake traffic here since it too arrives before 1-RTT keys, Retry,
// Handshake).
func (p *ReceivedPacket) IsHandshake() bool {
	return p.Kind == HeaderLong
}
