package quicbind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInvariantHeaderShort(t *testing.T) {
	payload := append([]byte{0x00}, []byte{1, 2, 3, 4, 5, 6, 7, 8}...)
	dg := &Datagram{Payload: payload}

	pkt := parseInvariantHeader(dg, ServerChosenCIDLength)
	require.True(t, pkt.Valid)
	require.Equal(t, HeaderShort, pkt.Kind)
	require.Equal(t, ServerChosenCIDLength, pkt.DestCID.Len())
}

func TestParseInvariantHeaderShortTooShort(t *testing.T) {
	dg := &Datagram{Payload: []byte{0x00, 1, 2}}
	pkt := parseInvariantHeader(dg, ServerChosenCIDLength)
	require.False(t, pkt.Valid)
}

func TestParseInvariantHeaderLong(t *testing.T) {
	destCID := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	srcCID := []byte{9, 9}

	payload := []byte{0x80 | 0x40}
	payload = append(payload, 0x00, 0x00, 0x00, 0x01) // version
	payload = append(payload, byte(len(destCID)))
	payload = append(payload, destCID...)
	payload = append(payload, byte(len(srcCID)))
	payload = append(payload, srcCID...)

	dg := &Datagram{Payload: payload}
	pkt := parseInvariantHeader(dg, 0)

	require.True(t, pkt.Valid)
	require.Equal(t, HeaderLong, pkt.Kind)
	require.Equal(t, uint32(1), pkt.Version)
	require.True(t, pkt.DestCID.Equal(NewCID(destCID)))
	require.True(t, pkt.SourceCID.Equal(NewCID(srcCID)))
	require.Equal(t, LongTypeInitial, pkt.LongType)
}

func TestParseInvariantHeaderLongOversizedCIDRejected(t *testing.T) {
	payload := []byte{0x80 | 0x40, 0, 0, 0, 1, 21}
	dg := &Datagram{Payload: payload}
	pkt := parseInvariantHeader(dg, 0)
	require.False(t, pkt.Valid)
}

func TestParseInvariantHeaderLongRetryType(t *testing.T) {
	payload := []byte{0x80 | 0x40 | (0x3 << 4), 0, 0, 0, 1, 0, 0}
	dg := &Datagram{Payload: payload}
	pkt := parseInvariantHeader(dg, 0)
	require.True(t, pkt.Valid)
	require.Equal(t, LongTypeRetry, pkt.LongType)
}
