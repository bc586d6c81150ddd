package quicbind

// CID is a QUIC connection id: 0-20 opaque bytes (RFC 9000 §17.2). It
// carries no send/recv direction split at the binding layer — each CID
// independently maps to one connection in the lookup table.
type CID struct {
	bytes []byte
}

const maxCIDLength = 20

func NewCID(b []byte) CID {
	cp := make([]byte, len(b))
	copy(cp, b)
	return CID{bytes: cp}
}

func (c CID) Len() int      { return len(c.bytes) }
func (c CID) Bytes() []byte { return c.bytes }

// key returns a value usable as a Go map key.
func (c CID) key() string { return string(c.bytes) }

func (c CID) Equal(o CID) bool {
	if len(c.bytes) != len(o.bytes) {
		return false
	}
	for i := range c.bytes {
		if c.bytes[i] != o.bytes[i] {
			return false
		}
	}
	return true
}

// partitionHash derives the partition hint: a hash over the full CID,
// taken modulo the table's current partition
// count at lookup time. Routing by a live hash (rather than an index
// literally embedded in the CID's bytes at mint time) means a one-time
// partition-count growth can simply rehash and redistribute existing
// entries without needing to agree in advance on the eventual count.
func (c CID) partitionHash() uint32 {
	var h uint32 = 2166136261
	for _, b := range c.bytes {
		h ^= uint32(b)
		h *= 16777619
	}
	return h
}

// NewServerCID mints a fresh server-chosen CID of length n.
func NewServerCID(n int) (CID, error) {
	b := make([]byte, n)
	if err := randomBytes(b); err != nil {
		return CID{}, err
	}
	return NewCID(b), nil
}
