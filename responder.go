package quicbind

import (
	"fmt"

	"github.com/valyala/fastrand"
)

// maxVersionNegotiationLen keeps the packet at or under MTU − 48 bytes;
// with a conservative 1200-byte minimum MTU assumption this bounds the
// supported-version list length.
const maxVersionNegotiationLen = 1200 - 48

// buildVersionNegotiation builds a Version Negotiation packet: swapped
// CIDs, version list starting with the binding's reserved version
// followed by the process-wide supported versions.
func (b *Binding) buildVersionNegotiation(pkt *ReceivedPacket) ([]byte, error) {
	out := make([]byte, 0, 7+pkt.DestCID.Len()+pkt.SourceCID.Len()+4*(1+len(b.pc.SupportedVersions)))
	out = append(out, headerFormBit|headerFixedBit)
	out = append(out, 0, 0, 0, 0) // version = 0x00000000

	newSourceCID := pkt.DestCID  // server echoes client Dest as new Source
	newDestCID := pkt.SourceCID  // and client Source as new Dest
	out = append(out, byte(newDestCID.Len()))
	out = append(out, newDestCID.Bytes()...)
	out = append(out, byte(newSourceCID.Len()))
	out = append(out, newSourceCID.Bytes()...)

	out = appendVersion(out, b.reservedVersion)
	for _, v := range b.pc.SupportedVersions {
		out = appendVersion(out, v)
	}

	if len(out) > maxVersionNegotiationLen {
		out = out[:maxVersionNegotiationLen]
	}
	return out, nil
}

func appendVersion(out []byte, v uint32) []byte {
	return append(out, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// buildRetry builds a Retry packet: a fresh server-chosen Dest-CID, an
// AEAD-sealed token binding the client's remote address and original
// Dest-CID, and the wire layout that stays bit-exact for the targeted
// draft (the original client Dest-CID echoed in the payload ahead of the
// token, per draft-23's Retry pseudo-packet convention).
func (b *Binding) buildRetry(pkt *ReceivedPacket) ([]byte, error) {
	newCID, err := NewServerCID(ServerChosenCIDLength)
	if err != nil {
		return nil, fmt.Errorf("generating retry cid: %w", err)
	}

	token := &RetryToken{
		RemoteAddr: pkt.Datagram.Remote.Key(),
		OrigCID:    pkt.DestCID,
	}
	encToken, err := EncryptRetryToken(b.pc, newCID, token)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 7+newCID.Len()+pkt.SourceCID.Len()+1+pkt.DestCID.Len()+len(encToken))
	out = append(out, headerFormBit|headerFixedBit|(0x3<<longTypeShift))
	out = appendVersion(out, pkt.Version)
	out = append(out, byte(newCID.Len()))
	out = append(out, newCID.Bytes()...)
	out = append(out, byte(pkt.SourceCID.Len()))
	out = append(out, pkt.SourceCID.Bytes()...)
	out = append(out, byte(pkt.DestCID.Len()))
	out = append(out, pkt.DestCID.Bytes()...)
	out = append(out, encToken...)
	return out, nil
}

// buildStatelessReset builds a Stateless Reset packet: random padding
// whose length is the recommended minimum plus 3 bits of entropy, clamped
// strictly below the triggering datagram's length and never below the
// protocol minimum, with the trailing StatelessResetTokenLength bytes
// overwritten by the derived token, the fixed bit set, and the key-phase
// bit copied from the original to resist fingerprinting. Never emitted for exclusive
// bindings (no CID to derive a token from) or long-header triggers (the
// peer has no token to recognize yet).
func (b *Binding) buildStatelessReset(pkt *ReceivedPacket) ([]byte, error) {
	if b.config.Exclusive {
		return nil, nil
	}
	if pkt.Kind == HeaderLong {
		return nil, nil
	}

	receivedLen := len(pkt.Datagram.Payload)
	length := RecommendedStatelessResetLength + int(fastrand.Uint32n(8))
	if length >= receivedLen {
		length = receivedLen - 1
	}
	if length < MinStatelessResetPacketLength {
		// Not enough room under the received packet's length to emit a
		// well-formed reset; skip rather than send an undersized
		// (fingerprintable) packet.
		return nil, nil
	}

	out := make([]byte, length)
	if err := randomBytes(out); err != nil {
		return nil, err
	}
	out[0] &^= headerFormBit // short header
	out[0] |= headerFixedBit
	if pkt.KeyPhase {
		out[0] |= headerKeyPhase
	} else {
		out[0] &^= headerKeyPhase
	}

	token := b.resetHasher.token(pkt.DestCID)
	copy(out[length-StatelessResetTokenLength:], token[:])
	return out, nil
}
