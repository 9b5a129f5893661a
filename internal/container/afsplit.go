package container

import (
	"crypto/sha256"
	"encoding/binary"
)

// afDiffuse and afMerge implement LUKS's anti-forensic splitter (AFsplit):
// no pack library implements this cryptsetup-specific construction, so it
// is hand-rolled directly from the published algorithm (diffuse every
// stripe except the last through a counter-prefixed hash chain, then XOR
// them together) rather than derived from any example in the corpus.

// afDiffuse rehashes buf into a same-length output by hashing each
// consecutive hash-sized chunk of buf, prefixed with its big-endian block
// counter, on its own (a final partial chunk takes a prefix of its hash), so
// a change inside one chunk of buf changes only the matching chunk of the
// result.
func afDiffuse(buf []byte) []byte {
	const hashSize = sha256.Size
	out := make([]byte, len(buf))
	full := len(buf) / hashSize
	var counter uint32
	pos := 0
	for i := 0; i < full; i++ {
		h := sha256.New()
		var be [4]byte
		binary.BigEndian.PutUint32(be[:], counter)
		h.Write(be[:])
		h.Write(buf[pos : pos+hashSize])
		copy(out[pos:pos+hashSize], h.Sum(nil))
		pos += hashSize
		counter++
	}
	if rem := len(buf) - pos; rem > 0 {
		h := sha256.New()
		var be [4]byte
		binary.BigEndian.PutUint32(be[:], counter)
		h.Write(be[:])
		h.Write(buf[pos:])
		sum := h.Sum(nil)
		copy(out[pos:], sum[:rem])
	}
	return out
}

// afMerge recovers the original keySize-byte key from stripes*keySize bytes
// of AF-split material: XOR-accumulate stripes from first to last,
// re-diffusing the accumulator between every stripe but the last.
func afMerge(split []byte, stripes int, keySize int) []byte {
	acc := make([]byte, keySize)
	for i := 0; i < stripes; i++ {
		stripe := split[i*keySize : (i+1)*keySize]
		for j := range acc {
			acc[j] ^= stripe[j]
		}
		if i != stripes-1 {
			acc = afDiffuse(acc)
		}
	}
	return acc
}
