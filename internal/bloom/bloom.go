// Package bloom implements the per-table probabilistic membership filter
// described by the sstable format: an FNV-1a hash with a derived second
// probe, num_hash_funcs/num_bits/bit_bytes on the wire, and a false-negative
// free may_contain query.
package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// maxBits caps a single filter's size. The original implementation this
// core is grounded on asserts a 1 MiB bit budget per filter; we return the
// same bound as an error from Build rather than panicking mid-build.
const maxBits = 8 * 1024 * 1024

// Filter is an immutable bloom filter, either freshly built or decoded from
// a table's bloom block.
type Filter struct {
	numHashFuncs uint32
	numBits      uint64
	bits         []byte
}

// Builder accumulates keys and produces a Filter sized for the number of
// keys actually added.
type Builder struct {
	bitsPerKey uint
	keys       [][]byte
}

// NewBuilder returns a Builder that will size its filter using bitsPerKey
// bits of budget per inserted key.
func NewBuilder(bitsPerKey uint) *Builder {
	return &Builder{bitsPerKey: bitsPerKey}
}

// Add records a key to be inserted once Build is called.
func (b *Builder) Add(key []byte) {
	// Copy: the caller's backing array may be reused (e.g. a reused block
	// builder buffer) before Build runs.
	k := make([]byte, len(key))
	copy(k, key)
	b.keys = append(b.keys, k)
}

// Reset clears the builder for reuse with the next table.
func (b *Builder) Reset() {
	b.keys = b.keys[:0]
}

// Build constructs the filter from every key added so far.
func (b *Builder) Build() (*Filter, error) {
	numBits := uint64(len(b.keys)) * uint64(b.bitsPerKey)
	if numBits < 64 {
		numBits = 64
	}
	if numBits > maxBits {
		return nil, fmt.Errorf("bloom: filter would require %d bits, exceeds %d bit budget", numBits, maxBits)
	}

	numHashFuncs := clamp(uint32(float64(b.bitsPerKey)*0.69+0.5), 1, 30)

	f := &Filter{
		numHashFuncs: numHashFuncs,
		numBits:      numBits,
		bits:         make([]byte, (numBits+7)/8),
	}
	for _, k := range b.keys {
		f.insert(k)
	}
	return f, nil
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hash64(key []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(key)
	return h.Sum64()
}

func probe(h uint64, i uint32, numBits uint64) uint64 {
	delta := (h >> 17) | (h << 15)
	return (h + uint64(i)*delta) % numBits
}

func (f *Filter) insert(key []byte) {
	h := hash64(key)
	for i := uint32(0); i < f.numHashFuncs; i++ {
		f.setBit(probe(h, i, f.numBits))
	}
}

// MayContain answers the membership query. A false answer is authoritative:
// the key is definitely absent. A true answer only means the key might be
// present; the caller must still consult the index and data block.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || f.numBits == 0 {
		return true
	}
	h := hash64(key)
	for i := uint32(0); i < f.numHashFuncs; i++ {
		if !f.getBit(probe(h, i, f.numBits)) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/8] |= 1 << (pos % 8)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.bits[pos/8]&(1<<(pos%8)) != 0
}

// Encode serializes the filter using the table format's bloom_block layout:
// num_hash_funcs(u32 LE) | num_bits(u64 LE) | bit_bytes.
func (f *Filter) Encode() []byte {
	buf := make([]byte, 4+8+len(f.bits))
	binary.LittleEndian.PutUint32(buf[0:4], f.numHashFuncs)
	binary.LittleEndian.PutUint64(buf[4:12], f.numBits)
	copy(buf[12:], f.bits)
	return buf
}

// Decode parses a bloom_block as written by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("bloom: block too short (%d bytes)", len(data))
	}
	numHashFuncs := binary.LittleEndian.Uint32(data[0:4])
	numBits := binary.LittleEndian.Uint64(data[4:12])
	bits := data[12:]
	if uint64(len(bits)) < (numBits+7)/8 {
		return nil, fmt.Errorf("bloom: bit_bytes shorter than num_bits implies")
	}
	return &Filter{numHashFuncs: numHashFuncs, numBits: numBits, bits: bits}, nil
}
