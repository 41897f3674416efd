// Package crypto holds the ed25519 keys that identify parties and feeds and sign credentials and blocks.
package crypto

import (
	"crypto/subtle"
	"errors"
)

// ErrMalformedKey is returned for key material of the wrong size or encoding
var ErrMalformedKey = errors.New("malformed key")

type Key interface {
	Equals(Key) bool
	// Raw is the key material as stored in party metadata
	Raw() ([]byte, error)
}

// PrivKey is held only by the writer of a feed or the creator of a party
type PrivKey interface {
	Key
	Sign(msg []byte) ([]byte, error)
	GetPublic() PubKey
}

// PubKey is known to every member, its String form is the feed or party key on the wire
type PubKey interface {
	Key
	Verify(data []byte, sig []byte) (bool, error)
	Bytes() []byte
	String() string
}

// SameKey compares raw key material in constant time
func SameKey(a, b Key) bool {
	ra, err := a.Raw()
	if err != nil {
		return false
	}
	rb, err := b.Raw()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(ra, rb) == 1
}
