package quicbind

// Invariant long-header layout (RFC 8999): 1 header byte, 4-byte version,
// 1-byte Dest-CID length + Dest-CID, 1-byte Source-CID length + Source-CID.
const (
	headerFormBit  = 0x80
	headerFixedBit = 0x40
	headerKeyPhase = 0x04
	longTypeMask   = 0x30
	longTypeShift  = 4
)

// parseInvariantHeader performs a version-independent parse: enough of
// the header to classify short vs long, pull out the CIDs, and (for long
// headers) the version and coarse packet type. It never validates
// anything version-specific — that happens once a version is known to
// be supported.
//
// shortHeaderCIDLen is the Dest-CID length this binding assumes for
// short-header packets (the wire format carries no length there; a QUIC
// endpoint is expected to already know it from having issued the CID). It
// is 0 for exclusive bindings and ServerChosenCIDLength for shared ones
// (see Binding.shortHeaderCIDLen).
func parseInvariantHeader(dg *Datagram, shortHeaderCIDLen int) *ReceivedPacket {
	buf := dg.Payload
	pkt := &ReceivedPacket{Datagram: dg}

	if len(buf) < 1 {
		return pkt
	}

	if buf[0]&headerFormBit == 0 {
		pkt.Kind = HeaderShort
		if shortHeaderCIDLen < 0 || 1+shortHeaderCIDLen > len(buf) {
			return pkt
		}
		pkt.DestCID = NewCID(buf[1 : 1+shortHeaderCIDLen])
		pkt.KeyPhase = buf[0]&headerKeyPhase != 0
		pkt.Valid = true
		return pkt
	}

	pkt.Kind = HeaderLong
	if len(buf) < 6 {
		return pkt
	}
	pkt.Version = uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])

	off := 5
	dcil := int(buf[off])
	off++
	if dcil > maxCIDLength || off+dcil > len(buf) {
		return pkt
	}
	pkt.DestCID = NewCID(buf[off : off+dcil])
	off += dcil

	if off >= len(buf) {
		return pkt
	}
	scil := int(buf[off])
	off++
	if scil > maxCIDLength || off+scil > len(buf) {
		return pkt
	}
	pkt.SourceCID = NewCID(buf[off : off+scil])
	off += scil

	if pkt.Version != 0 {
		switch (buf[0] & longTypeMask) >> longTypeShift {
		case 0x0:
			pkt.LongType = LongTypeInitial
		case 0x1:
			pkt.LongType = LongType0RTT
		case 0x2:
			pkt.LongType = LongTypeHandshake
		case 0x3:
			pkt.LongType = LongTypeRetry
		}
	}

	// Initial packets carry a token field ahead of the length/packet-number
	// fields this invariant-level parse otherwise never looks at; the
	// Retry gate needs it, so it's pulled out here even though it's
	// version-specific rather than truly invariant.
	if pkt.LongType == LongTypeInitial {
		tokenLen, n, ok := decodeVarint(buf[off:])
		if ok && off+n+int(tokenLen) <= len(buf) {
			off += n
			if tokenLen > 0 {
				pkt.TokenBytes = buf[off : off+int(tokenLen)]
			}
		}
	}

	pkt.Valid = true
	return pkt
}

// decodeVarint decodes a QUIC variable-length integer (RFC 9000 §16): the
// two high bits of the first byte select a 1/2/4/8-byte encoding.
func decodeVarint(buf []byte) (value uint64, consumed int, ok bool) {
	if len(buf) < 1 {
		return 0, 0, false
	}
	length := 1 << (buf[0] >> 6)
	if len(buf) < length {
		return 0, 0, false
	}
	value = uint64(buf[0] & 0x3f)
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(buf[i])
	}
	return value, length, true
}
