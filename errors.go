package quicbind

import "errors"

// Sentinel errors surfaced across the package's boundary APIs. Internal
// receive-path failures are never propagated this way; they degrade to a
// logged drop (see dropReason) and the implicated datagram is released.
// Collisions on RegisterListener/AddSourceCID and a closed binding are
// likewise reported as plain booleans rather than distinct sentinels,
// since every caller just branches on success.
var (
	ErrInvariantViolated   = errors.New("quicbind: fatal invariant violated")
	ErrRetryTokenMalformed = errors.New("quicbind: retry token malformed")
	ErrRetryTokenAuth      = errors.New("quicbind: retry token authentication failed")
)

// dropReason is a policy-drop classification. It is logged with a stable
// reason string and never surfaced to a caller.
type dropReason string

const (
	dropExclusiveCIDLength   dropReason = "exclusive binding requires zero-length dest cid"
	dropSharedCIDTooShort    dropReason = "shared binding requires dest cid >= minimum length"
	dropUnknownVersionNoListener dropReason = "unknown version and no registered listener"
	dropHeaderMalformed      dropReason = "invariant header malformed"
	dropNoListenerForInitial dropReason = "no listener available to create connection"
	dropRetryTokenInvalid    dropReason = "retry token failed validation"
	dropWorkerOverloaded     dropReason = "worker overloaded"
	dropMaxStatelessOps      dropReason = "max binding stateless operations reached"
	dropDuplicateStatelessOp dropReason = "already in stateless oper table"
)
