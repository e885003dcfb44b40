package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Key identifies a load request: the source, a cache-busting signature, the
// target dimensions, and the identity of every processing stage.  Two keys
// are equal iff every component is equal; Key is a value type usable as a
// map key.
type Key struct {
	SourceID  string
	Signature string
	Width     int
	Height    int

	DecoderID    string
	EncoderID    string
	TransformID  string
	TranscoderID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%dx%d|%s/%s/%s/%s",
		k.SourceID, k.Signature, k.Width, k.Height,
		k.DecoderID, k.EncoderID, k.TransformID, k.TranscoderID)
}

// Digest returns a stable hex digest of the full key, used as the persistent
// cache name for the transformed result.
func (k Key) Digest() string {
	h := blake3.New()
	writeField(h, k.SourceID)
	writeField(h, k.Signature)
	writeInt(h, k.Width)
	writeInt(h, k.Height)
	writeField(h, k.DecoderID)
	writeField(h, k.EncoderID)
	writeField(h, k.TransformID)
	writeField(h, k.TranscoderID)
	return hex.EncodeToString(h.Sum(nil))
}

// SourceDigest returns the digest of the source identity alone (id plus
// signature).  Raw source data is cached under this name so that requests
// for different dimensions or transforms of the same source share one copy.
func (k Key) SourceDigest() string {
	h := blake3.New()
	writeField(h, k.SourceID)
	writeField(h, k.Signature)
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes each component so adjacent fields can never
// collide ("ab"+"c" vs "a"+"bc").
func writeField(h *blake3.Hasher, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

func writeInt(h *blake3.Hasher, v int) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(v))
	h.Write(n[:])
}
