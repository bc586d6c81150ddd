package quicbind

import "sort"

type received struct {
	dg  *Datagram
	pkt *ReceivedPacket
}

// OnReceive is the datapath's receive callback entry point. Ownership of
// chain transfers in; every datagram in it is either delivered to a
// connection, turned into a stateless-op job handed to worker, or
// dropped. OnReceive never blocks.
//
// currentHandshakeMemory is sampled by the caller (owner of the
// process-wide handshake-memory accounting, which lives outside this
// package) and passed in rather than read from ambient state, since it
// genuinely varies per call.
func (b *Binding) OnReceive(chain []*Datagram, currentHandshakeMemory uint64) {
	if !b.acquireRef() {
		return
	}
	defer b.releaseRef()

	var subchain []received
	flush := func() {
		if len(subchain) == 0 {
			return
		}
		b.deliverSubchain(subchain, currentHandshakeMemory)
		subchain = nil
	}

	for _, dg := range chain {
		result, pkt, kind := b.Preprocess(dg)
		switch result {
		case PreprocessDrop:
			continue
		case PreprocessEnqueued:
			b.queueStateless(kind, pkt)
			continue
		}

		if b.config.Exclusive {
			subchain = append(subchain, received{dg, pkt})
			continue
		}

		if len(subchain) > 0 && !subchain[0].pkt.DestCID.Equal(pkt.DestCID) {
			flush()
		}
		subchain = append(subchain, received{dg, pkt})
	}
	flush()
}

// OnUnreachable implements the datapath's "unreachable" callback:
// ICMP/port-unreachable notifications are only meaningful to a
// client-style pinned binding, so this resolves through the secondary
// remote-address index rather than a CID.
func (b *Binding) OnUnreachable(remote ConnectionPeer) {
	if !b.acquireRef() {
		return
	}
	defer b.releaseRef()

	ref := b.cidTable.FindByRemote(remote.Key())
	if ref == nil {
		return
	}
	defer ref.Release()
	ref.Conn().NotifyUnreachable()
}

// deliverSubchain stable-sorts a sub-chain so handshake-type packets
// precede data/1-RTT ones without reordering within either class, then
// delivers the whole sub-chain to a connection, a stateless op, or a
// drop.
func (b *Binding) deliverSubchain(sub []received, currentHandshakeMemory uint64) {
	sort.SliceStable(sub, func(i, j int) bool {
		return sub[i].pkt.IsHandshake() && !sub[j].pkt.IsHandshake()
	})

	head := sub[0].pkt
	datagrams := make([]*Datagram, len(sub))
	for i, r := range sub {
		datagrams[i] = r.dg
	}

	var ref *ConnRef
	if b.config.Exclusive {
		ref = b.cidTable.FindByRemote(head.Datagram.Remote.Key())
	} else {
		ref = b.cidTable.FindByCID(head.DestCID)
	}

	if ref != nil {
		defer ref.Release()
		ref.Conn().QueueDatagrams(datagrams)
		return
	}

	if !b.ShouldCreateConnection(head) {
		b.queueStateless(OpReset, head)
		return
	}

	retry, drop := b.ShouldRetry(head, currentHandshakeMemory)
	if retry {
		b.queueStateless(OpRetry, head)
		return
	}
	if drop {
		return
	}

	b.createConnection(head, datagrams)
}

// queueStateless admits pkt into the Stateless Operation Table and hands
// a build job to the worker, gated by an overload check that runs before
// any allocation.
func (b *Binding) queueStateless(kind StatelessOpKind, pkt *ReceivedPacket) {
	if kind == OpReset && b.config.Exclusive {
		// Stateless reset is always a no-op on an exclusive binding.
		// Short-circuit before consuming a stateless table slot for a
		// build that will always produce nothing.
		return
	}
	if b.worker == nil || b.worker.IsOverloaded() {
		b.logger.Debug("dropping stateless op", "reason", dropWorkerOverloaded, "kind", kind)
		return
	}

	ctx, reason, ok := b.statelessTable.TryAdmit(pkt.Datagram.Remote, pkt.Datagram, b.worker)
	if !ok {
		b.logger.Debug("dropping stateless op", "reason", reason)
		return
	}

	b.worker.Submit(StatelessJob{Kind: kind, Ctx: ctx, Packet: pkt, Binding: b})
}

// createConnection mints a connection via the caller-supplied factory,
// inserts its initial Source CID (the client's Dest-CID, which later
// datagrams of the connection carry), and lets a collision mean the
// existing connection wins: the newly minted connection is then
// reclaimed via its single-use QueueSilentShutdown. A factory error
// leaves no connection behind and the datagrams are dropped.
func (b *Binding) createConnection(head *ReceivedPacket, datagrams []*Datagram) {
	if b.worker != nil && b.worker.IsOverloaded() {
		b.logger.Debug("dropping packet", "reason", dropWorkerOverloaded)
		return
	}
	if b.ConnectionFactory == nil {
		b.logger.Debug("dropping packet", "reason", dropNoListenerForInitial)
		return
	}

	listener := b.listeners.Select(*head.Datagram.Local, b.extractALPN(head))
	if listener == nil {
		b.logger.Debug("dropping packet", "reason", dropNoListenerForInitial)
		return
	}
	defer listener.ReleaseRundown()

	conn, err := b.ConnectionFactory(listener, head)
	if err != nil {
		b.logger.Debug("connection factory failed", "err", err)
		return
	}

	outcome, existing := b.cidTable.Insert(head.DestCID, conn)
	if outcome == Collided {
		conn.QueueSilentShutdown()
		existing.QueueDatagrams(datagrams)
		return
	}

	if b.config.Exclusive {
		b.cidTable.SetRemote(head.Datagram.Remote.Key(), conn)
	}

	conn.QueueDatagrams(datagrams)
}

// extractALPN delegates to the caller-supplied ALPNExtractor (see
// Binding.ALPNExtractor); with none configured a single empty ALPN is
// offered, so only listeners registered with an empty ALPN can match.
func (b *Binding) extractALPN(pkt *ReceivedPacket) [][]byte {
	if b.ALPNExtractor == nil {
		return [][]byte{nil}
	}
	return b.ALPNExtractor(pkt)
}
