package quicbind

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"sync"
)

// resetTokenHasher wraps a keyed SHA-256 behind a dispatch-level mutex.
// crypto/hmac's hash.Hash is not safe for concurrent use, so the lock
// stays even though the key itself never changes after init.
type resetTokenHasher struct {
	mu sync.Mutex
	h  hash.Hash
}

func newResetTokenHasher(key []byte) *resetTokenHasher {
	return &resetTokenHasher{h: hmac.New(sha256.New, key)}
}

// token derives the 16-byte Stateless Reset Token for cid: the leading
// StatelessResetTokenLength bytes of keyed_sha256(key, cid).
func (r *resetTokenHasher) token(cid CID) [StatelessResetTokenLength]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.h.Reset()
	r.h.Write(cid.Bytes())
	sum := r.h.Sum(nil)
	var tok [StatelessResetTokenLength]byte
	copy(tok[:], sum[:StatelessResetTokenLength])
	return tok
}
