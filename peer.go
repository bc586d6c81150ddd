package quicbind

import "net"

// ConnectionPeer names a remote endpoint, with the family-aware
// comparisons the Listener Registry and Stateless Operation Table need.
type ConnectionPeer interface {
	Clone() ConnectionPeer
	Equals(other ConnectionPeer) bool
	// Key returns a value usable as a map key that collapses to the same
	// value for equal addresses.
	Key() Addr
}

// Addr is a comparable 2-tuple usable directly as a map key, unlike
// net.UDPAddr. IP is normalized to its 16-byte form so an IPv4-mapped
// IPv6 address and its IPv4 form compare equal.
type Addr struct {
	ip   [16]byte
	zone string
	Port int
}

// IsV4 reports whether the address is (or maps to) an IPv4 address.
func (a Addr) IsV4() bool {
	return net.IP(a.ip[:]).To4() != nil
}

// IsUnspecified reports whether the address is the zero/wildcard address.
func (a Addr) IsUnspecified() bool {
	return net.IP(a.ip[:]).IsUnspecified()
}

// Bytes returns the normalized 16-byte IP representation.
func (a Addr) Bytes() [16]byte { return a.ip }

func AddrFromUDP(u *net.UDPAddr) Addr {
	var a Addr
	ip := u.IP.To16()
	copy(a.ip[:], ip)
	a.zone = u.Zone
	a.Port = u.Port
	return a
}

func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: append([]byte(nil), a.ip[:]...), Port: a.Port, Zone: a.zone}
}

// UDPPeer is the concrete ConnectionPeer backing real sockets.
type UDPPeer struct {
	addr Addr
}

func NewUDPPeer(u *net.UDPAddr) *UDPPeer {
	return &UDPPeer{addr: AddrFromUDP(u)}
}

func (p *UDPPeer) Clone() ConnectionPeer { cp := *p; return &cp }

func (p *UDPPeer) Equals(other ConnectionPeer) bool {
	o, ok := other.(*UDPPeer)
	return ok && o.addr == p.addr
}

func (p *UDPPeer) Key() Addr { return p.addr }

func (p *UDPPeer) UDPAddr() *net.UDPAddr { return p.addr.UDPAddr() }
