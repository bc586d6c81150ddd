package quicbind

import (
	"crypto/rand"

	"github.com/valyala/fastrand"
)

// randomBytes fills b with cryptographically secure random bytes. Every
// caller mints security-relevant material from it: the Retry AEAD key, the
// stateless-reset salt, and server-chosen connection IDs, all of which an
// adversary must not be able to predict or recover from observed output.
func randomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

// randomReservedVersion produces a QUIC "greased" version: 32 bits matching
// the 0x?a?a?a?a reserved pattern, fresh per binding so clients cannot key
// off a fixed GREASE value. Not security-sensitive, so fastrand is fine here.
func randomReservedVersion() uint32 {
	v := fastrand.Uint32()
	return (v & 0xf0f0f0f0) | 0x0a0a0a0a
}
