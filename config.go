package quicbind

import "time"

// Wire-format and resource-policy constants. They are compile-time
// package constants; ProcessContext carries no fields that override them.
const (
	StatelessOpExpiration           = 3000 * time.Millisecond
	MaxBindingStatelessOperations   = 16
	MinStatelessResetPacketLength   = 39
	RecommendedStatelessResetLength = 42
	StatelessResetTokenLength       = 16
	MinInitialConnectionIDLength    = 8
	ServerChosenCIDLength           = 8
	retryIVLength                   = 12 // chacha20poly1305 nonce size
)

// ProcessContext is the immutable, process-wide state threaded through
// binding initialization instead of being read from ambient globals. One
// ProcessContext is shared by every Binding in the process: the Retry
// AEAD key, the supported-version list, and the total-memory estimate
// used for the Retry backpressure gate.
type ProcessContext struct {
	RetryKey          [32]byte
	SupportedVersions []uint32
	TotalMemoryBytes  uint64

	// RetryMemoryLimitPercent is the fraction (0-100) of TotalMemoryBytes
	// that aggregate handshake memory must reach before new Initials are
	// required to carry a valid Retry token.
	RetryMemoryLimitPercent uint8
}

// NewProcessContext builds the process-wide context once at startup. It
// never mutates after construction; callers share the pointer.
func NewProcessContext(supportedVersions []uint32, totalMemoryBytes uint64, retryMemoryLimitPercent uint8) (*ProcessContext, error) {
	var key [32]byte
	if err := randomBytes(key[:]); err != nil {
		return nil, err
	}
	versions := make([]uint32, len(supportedVersions))
	copy(versions, supportedVersions)
	return &ProcessContext{
		RetryKey:                key,
		SupportedVersions:       versions,
		TotalMemoryBytes:        totalMemoryBytes,
		RetryMemoryLimitPercent: retryMemoryLimitPercent,
	}, nil
}

// BindingConfig configures a single Binding: its local address, whether
// it's pinned to one remote peer, and the datapath it sends and receives
// through.
type BindingConfig struct {
	LocalAddr  *Addr
	RemoteAddr *Addr // nil unless the binding is pinned (exclusive)
	Exclusive  bool
	Datapath   Conn
}
