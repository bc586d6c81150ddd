package quicbind

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// retryTokenPlaintextLen is the bit-exact layout: remote_address (16-byte
// IP + 2-byte port), orig_cid_bytes (fixed 20-byte slot), orig_cid_length
// (1 byte).
const (
	retryAddrLen             = 18
	retryCIDSlotLen          = maxCIDLength
	retryTokenPlaintextLen   = retryAddrLen + retryCIDSlotLen + 1
	RetryTokenLen            = retryTokenPlaintextLen + chacha20poly1305.Overhead
)

// RetryToken is the decoded plaintext of a Retry token.
type RetryToken struct {
	RemoteAddr Addr
	OrigCID    CID
}

func (t *RetryToken) marshal() []byte {
	buf := make([]byte, retryTokenPlaintextLen)
	ip := t.RemoteAddr.Bytes()
	copy(buf[0:16], ip[:])
	binary.BigEndian.PutUint16(buf[16:18], uint16(t.RemoteAddr.Port))
	n := copy(buf[retryAddrLen:retryAddrLen+retryCIDSlotLen], t.OrigCID.Bytes())
	buf[retryAddrLen+retryCIDSlotLen] = byte(n)
	return buf
}

func unmarshalRetryToken(buf []byte) (*RetryToken, error) {
	if len(buf) != retryTokenPlaintextLen {
		return nil, ErrRetryTokenMalformed
	}
	var ipBytes [16]byte
	copy(ipBytes[:], buf[0:16])
	port := binary.BigEndian.Uint16(buf[16:18])
	cidLen := int(buf[retryAddrLen+retryCIDSlotLen])
	if cidLen > retryCIDSlotLen {
		return nil, ErrRetryTokenMalformed
	}
	return &RetryToken{
		RemoteAddr: Addr{ip: ipBytes, Port: int(port)},
		OrigCID:    NewCID(buf[retryAddrLen : retryAddrLen+cidLen]),
	}, nil
}

// retryIV zero-extends newCID's bytes to the AEAD nonce length: the IV
// copies the first CID_LENGTH bytes of the new CID and zero-pads to IV
// length, which ties IV uniqueness to CID randomness.
func retryIV(newCID CID) [retryIVLength]byte {
	var iv [retryIVLength]byte
	n := copy(iv[:], newCID.Bytes())
	_ = n // remaining bytes stay zero
	return iv
}

// EncryptRetryToken seals a RetryToken under pc's process-wide Retry key,
// IV = the newly generated server-chosen Dest-CID zero-padded.
func EncryptRetryToken(pc *ProcessContext, newCID CID, token *RetryToken) ([]byte, error) {
	aead, err := chacha20poly1305.New(pc.RetryKey[:])
	if err != nil {
		return nil, fmt.Errorf("quicbind: retry aead init: %w", err)
	}
	iv := retryIV(newCID)
	plaintext := token.marshal()
	return aead.Seal(nil, iv[:], plaintext, nil), nil
}

// DecryptRetryToken reverses EncryptRetryToken, validating that the AEAD
// tag, length, and embedded original-CID length are all consistent.
func DecryptRetryToken(pc *ProcessContext, currentDestCID CID, tokenBytes []byte) (*RetryToken, error) {
	if len(tokenBytes) != RetryTokenLen {
		return nil, ErrRetryTokenMalformed
	}
	aead, err := chacha20poly1305.New(pc.RetryKey[:])
	if err != nil {
		return nil, fmt.Errorf("quicbind: retry aead init: %w", err)
	}
	iv := retryIV(currentDestCID)
	plaintext, err := aead.Open(nil, iv[:], tokenBytes, nil)
	if err != nil {
		return nil, ErrRetryTokenAuth
	}
	return unmarshalRetryToken(plaintext)
}
