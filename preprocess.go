package quicbind

// PreprocessResult is the outcome of Binding.Preprocess.
type PreprocessResult int

const (
	PreprocessAccept PreprocessResult = iota
	PreprocessDrop
	PreprocessEnqueued
)

// shortHeaderCIDLen is the Dest-CID length this binding assumes for
// short-header packets, since the wire format itself carries none: 0 for
// exclusive bindings, the fixed server-chosen length otherwise.
func (b *Binding) shortHeaderCIDLen() int {
	if b.config.Exclusive {
		return 0
	}
	return ServerChosenCIDLength
}

// Preprocess parses the invariant header, applies the CID-length policy,
// and for a long header with an unsupported version admits a Version
// Negotiation stateless op when any listener is registered.
func (b *Binding) Preprocess(dg *Datagram) (PreprocessResult, *ReceivedPacket, StatelessOpKind) {
	if b.config.Exclusive && b.config.RemoteAddr != nil && dg.Remote.Key() != *b.config.RemoteAddr {
		b.logger.Debug("dropping packet", "reason", "does not match pinned remote")
		return PreprocessDrop, &ReceivedPacket{Datagram: dg}, 0
	}

	pkt := parseInvariantHeader(dg, b.shortHeaderCIDLen())
	if !pkt.Valid {
		b.logger.Debug("dropping malformed packet", "reason", dropHeaderMalformed)
		return PreprocessDrop, pkt, 0
	}

	if b.config.Exclusive && pkt.DestCID.Len() != 0 {
		b.logger.Debug("dropping packet", "reason", dropExclusiveCIDLength)
		return PreprocessDrop, pkt, 0
	}
	if !b.config.Exclusive && pkt.Kind == HeaderLong && pkt.DestCID.Len() < MinInitialConnectionIDLength {
		b.logger.Debug("dropping packet", "reason", dropSharedCIDTooShort)
		return PreprocessDrop, pkt, 0
	}

	if pkt.Kind == HeaderLong && !b.versionSupported(pkt.Version) && pkt.Version != 0 {
		if !b.listeners.HasAny() {
			b.logger.Debug("dropping packet", "reason", dropUnknownVersionNoListener)
			return PreprocessDrop, pkt, 0
		}
		return PreprocessEnqueued, pkt, OpVersionNegotiation
	}

	return PreprocessAccept, pkt, 0
}

func (b *Binding) versionSupported(v uint32) bool {
	for _, sv := range b.pc.SupportedVersions {
		if sv == v {
			return true
		}
	}
	return false
}

// ShouldCreateConnection reports whether pkt is eligible to mint a new
// connection: long header, Initial packet type, a version this process
// supports, and at least one registered listener.
func (b *Binding) ShouldCreateConnection(pkt *ReceivedPacket) bool {
	return pkt.Kind == HeaderLong &&
		pkt.LongType == LongTypeInitial &&
		b.versionSupported(pkt.Version) &&
		b.listeners.HasAny()
}

// ShouldRetry implements the Retry gate: under the configured
// memory-pressure threshold, Initials are accepted unconditionally; over
// it, an absent token requests a Retry, a present token must decrypt and
// validate or the packet is dropped, and a valid token lets the packet
// proceed without another Retry round trip.
func (b *Binding) ShouldRetry(pkt *ReceivedPacket, currentHandshakeMemory uint64) (retry bool, drop bool) {
	limit := (uint64(b.pc.RetryMemoryLimitPercent) * b.pc.TotalMemoryBytes) / 100
	if currentHandshakeMemory < limit {
		return false, false
	}

	if len(pkt.TokenBytes) == 0 {
		return true, false
	}

	if !b.ValidateRetryToken(pkt, pkt.TokenBytes) {
		return false, true
	}
	return false, false
}

// ValidateRetryToken decrypts tokenBytes under the process Retry key with
// IV = current Dest-CID, rejecting on length mismatch, AEAD failure,
// inconsistent original-CID length, or remote-address mismatch with the
// current datagram.
func (b *Binding) ValidateRetryToken(pkt *ReceivedPacket, tokenBytes []byte) bool {
	token, err := DecryptRetryToken(b.pc, pkt.DestCID, tokenBytes)
	if err != nil {
		b.logger.Debug("dropping packet", "reason", dropRetryTokenInvalid, "err", err)
		return false
	}
	if token.RemoteAddr != pkt.Datagram.Remote.Key() {
		b.logger.Debug("dropping packet", "reason", dropRetryTokenInvalid, "err", "remote address mismatch")
		return false
	}
	return true
}
