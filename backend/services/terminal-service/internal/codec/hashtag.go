package codec

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/sha3"
)

// DefaultTagSize is the tag length in hex characters.
const DefaultTagSize = 16

// HashTag authenticates text frames with a truncated hash of payload+secret rendered as
// lowercase hex.
type HashTag struct {
	newHash func() hash.Hash
	secret  []byte
	size    int
}

// NewHashTag returns nil when secret is empty, which disables tagging.
func NewHashTag(newHash func() hash.Hash, secret string, size int) *HashTag {
	if secret == "" {
		return nil
	}
	if size <= 0 || size > newHash().Size()*2 {
		size = DefaultTagSize
	}
	return &HashTag{newHash: newHash, secret: []byte(secret), size: size}
}

// SHA256Tag is the tag used by most text protocols.
func SHA256Tag(secret string) *HashTag { return NewHashTag(sha256.New, secret, DefaultTagSize) }

// SHA3Tag tags with SHA3-256.
func SHA3Tag(secret string) *HashTag { return NewHashTag(sha3.New256, secret, DefaultTagSize) }

// Sum computes the tag for payload.
func (t *HashTag) Sum(payload []byte) string {
	h := t.newHash()
	h.Write(payload)
	h.Write(t.secret)
	return hex.EncodeToString(h.Sum(nil))[:t.size]
}

// Verify compares tag against the expected value in constant time.
func (t *HashTag) Verify(payload []byte, tag string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Sum(payload)), []byte(tag)) == 1
}
