package quicbind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func longInitialPayload(version uint32, destCID, srcCID, token []byte) []byte {
	out := []byte{0x80 | 0x40}
	out = appendVersion(out, version)
	out = append(out, byte(len(destCID)))
	out = append(out, destCID...)
	out = append(out, byte(len(srcCID)))
	out = append(out, srcCID...)
	out = append(out, byte(len(token)))
	out = append(out, token...)
	return out
}

func TestPreprocessAcceptsSupportedVersion(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{
		Remote:  testPeer(1),
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(1, make([]byte, 8), []byte{1}, nil),
	}

	result, pkt, _ := b.Preprocess(dg)
	require.Equal(t, PreprocessAccept, result)
	require.True(t, pkt.Valid)
}

func TestPreprocessEnqueuesVersionNegotiationWhenListenerPresent(t *testing.T) {
	b, _ := newTestBinding(false)
	b.RegisterListener(&Listener{ALPN: []byte("h3")})

	dg := &Datagram{
		Remote:  testPeer(1),
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(0xdeadbeef, make([]byte, 8), []byte{1}, nil),
	}

	result, _, kind := b.Preprocess(dg)
	require.Equal(t, PreprocessEnqueued, result)
	require.Equal(t, OpVersionNegotiation, kind)
}

func TestPreprocessDropsUnknownVersionWithNoListener(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{
		Remote:  testPeer(1),
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(0xdeadbeef, make([]byte, 8), []byte{1}, nil),
	}

	result, _, _ := b.Preprocess(dg)
	require.Equal(t, PreprocessDrop, result)
}

func TestPreprocessDropsSharedBindingShortCID(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{
		Remote:  testPeer(1),
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(1, []byte{1, 2, 3}, []byte{1}, nil),
	}

	result, _, _ := b.Preprocess(dg)
	require.Equal(t, PreprocessDrop, result)
}

func TestPreprocessDropsExclusiveBindingNonZeroCID(t *testing.T) {
	remote := testPeer(1)
	pinned := remote.Key()
	cfg := &BindingConfig{
		LocalAddr:  &Addr{Port: 443},
		RemoteAddr: &pinned,
		Exclusive:  true,
		Datapath:   newFakeConn(),
	}
	b, err := NewBinding(cfg, testProcessContext(), &syncWorker{})
	require.NoError(t, err)

	dg := &Datagram{
		Remote:  remote,
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(1, make([]byte, 8), []byte{1}, nil),
	}
	result, _, _ := b.Preprocess(dg)
	require.Equal(t, PreprocessDrop, result)
}

func TestShouldCreateConnectionRequiresInitialAndListener(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{Payload: longInitialPayload(1, make([]byte, 8), []byte{1}, nil)}
	_, pkt, _ := b.Preprocess(dg)

	require.False(t, b.ShouldCreateConnection(pkt))
	b.RegisterListener(&Listener{ALPN: []byte("h3")})
	require.True(t, b.ShouldCreateConnection(pkt))
}

func TestShouldRetryBelowMemoryLimit(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{Payload: longInitialPayload(1, make([]byte, 8), []byte{1}, nil)}
	_, pkt, _ := b.Preprocess(dg)

	retry, drop := b.ShouldRetry(pkt, 0)
	require.False(t, retry)
	require.False(t, drop)
}

func TestShouldRetryOverMemoryLimitWithoutToken(t *testing.T) {
	b, _ := newTestBinding(false)
	dg := &Datagram{Payload: longInitialPayload(1, make([]byte, 8), []byte{1}, nil)}
	_, pkt, _ := b.Preprocess(dg)

	retry, drop := b.ShouldRetry(pkt, b.pc.TotalMemoryBytes)
	require.True(t, retry)
	require.False(t, drop)
}

func TestPreprocessParsesTokenFieldOnInitial(t *testing.T) {
	b, _ := newTestBinding(false)
	destCID := make([]byte, 8)
	newCID := NewCID(destCID)

	tok := &RetryToken{RemoteAddr: testPeer(1).Key(), OrigCID: NewCID([]byte{1, 2, 3})}
	enc, err := EncryptRetryToken(b.pc, newCID, tok)
	require.NoError(t, err)

	dg := &Datagram{
		Remote:  testPeer(1),
		Local:   &Addr{Port: 443},
		Payload: longInitialPayload(1, destCID, []byte{9}, enc),
	}
	_, pkt, _ := b.Preprocess(dg)
	require.Equal(t, enc, pkt.TokenBytes)
	require.True(t, b.ValidateRetryToken(pkt, pkt.TokenBytes))
}

func TestValidateRetryTokenRoundTrip(t *testing.T) {
	b, _ := newTestBinding(false)
	remote := testPeer(7)

	origCID := NewCID(make([]byte, 8))
	newCID, err := NewServerCID(ServerChosenCIDLength)
	require.NoError(t, err)

	tok := &RetryToken{RemoteAddr: remote.Key(), OrigCID: origCID}
	enc, err := EncryptRetryToken(b.pc, newCID, tok)
	require.NoError(t, err)

	pkt := &ReceivedPacket{
		Datagram:   &Datagram{Remote: remote},
		DestCID:    newCID,
		TokenBytes: enc,
	}
	require.True(t, b.ValidateRetryToken(pkt, enc))
}

func TestValidateRetryTokenRejectsWrongRemote(t *testing.T) {
	b, _ := newTestBinding(false)
	origCID := NewCID(make([]byte, 8))
	newCID, _ := NewServerCID(ServerChosenCIDLength)

	tok := &RetryToken{RemoteAddr: testPeer(7).Key(), OrigCID: origCID}
	enc, _ := EncryptRetryToken(b.pc, newCID, tok)

	pkt := &ReceivedPacket{
		Datagram: &Datagram{Remote: testPeer(8)},
		DestCID:  newCID,
	}
	require.False(t, b.ValidateRetryToken(pkt, enc))
}
