// Package bloom implements a fixed-size Bloom filter with double hashing,
// built once and read many times by concurrent, lock-free readers.
//
// The corpus's own bloom-filter reference (a cache-existence filter built
// on crypto/sha256 digests rather than a bespoke multiply-hash) is the
// basis for the hashing scheme here, generalized from a single digest
// byte per hash function to the full double-hashing formula spec.md
// requires.
package bloom

import (
	"crypto/sha256"
	"math"
	"sync"
)

// Filter is an immutable-after-construction Bloom filter. Put is
// serialized during construction (via Builder); MightContain is safe for
// unsynchronized concurrent readers once construction is over, since Put
// is the only method that mutates the bitset.
type Filter struct {
	bits []uint64 // bit i lives at bits[i/64], bit (i%64)
	m    uint64   // number of bits
	k    int      // number of hash functions
}

// New computes m and k from the expected number of insertions n and the
// desired false-positive probability p (clamped to [1e-4, 0.5] per
// spec §4.1) and returns an empty, mutable filter. Call Put for each
// member, and share the filter with readers only after the last Put.
func New(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	if p < 1e-4 {
		p = 1e-4
	}
	if p > 0.5 {
		p = 0.5
	}

	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 1 {
		m = 1
	}
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}

	words := (m + 63) / 64
	return &Filter{
		bits: make([]uint64, words),
		m:    m,
		k:    k,
	}
}

// Put sets the k bit positions derived from s. Callers MUST NOT call Put
// concurrently with MightContain, or with other Put calls, without
// external synchronization; the intended usage is build-then-freeze.
func (f *Filter) Put(s string) {
	h1, h2 := split128(s)
	for i := 0; i < f.k; i++ {
		idx := f.index(h1, h2, i)
		f.bits[idx/64] |= 1 << (idx % 64)
	}
}

// MightContain reports whether s was (probably) inserted. It never
// returns false for a member actually inserted via Put (invariant #4,
// spec §3); for non-members it returns true with probability bounded by
// the p the filter was constructed with.
func (f *Filter) MightContain(s string) bool {
	h1, h2 := split128(s)
	for i := 0; i < f.k; i++ {
		idx := f.index(h1, h2, i)
		if f.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

func (f *Filter) index(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) % f.m
}

// K returns the number of hash functions in use, mostly for diagnostics
// and tests.
func (f *Filter) K() int { return f.k }

// M returns the bitset size in bits.
func (f *Filter) M() uint64 { return f.m }

// split128 derives a 128-bit digest of s via SHA-256 (truncated to its
// first 16 bytes) and splits it into two independent 64-bit halves used
// by the double-hashing formula index = (h1 + i*h2) mod m.
func split128(s string) (h1, h2 uint64) {
	sum := sha256.Sum256([]byte(s))
	h1 = beUint64(sum[0:8])
	h2 = beUint64(sum[8:16])
	return h1, h2
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// Builder builds a Filter incrementally: Add may be called from several
// goroutines, and Build hands out the filter. Build does not copy the
// filter, so an Add after Build still mutates the filter readers hold.
// For the common "build once from a snapshot" workflow described in
// spec §4.7, BuildFrom does the whole build in one call.
type Builder struct {
	mu     sync.Mutex
	filter *Filter
}

// NewBuilder starts a build for n expected members at false-positive
// probability p.
func NewBuilder(n int, p float64) *Builder {
	return &Builder{filter: New(n, p)}
}

// Add inserts a member. Safe for concurrent callers of Add (serialized
// internally), matching spec §4.1's "put serialized during construction".
func (b *Builder) Add(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.Put(s)
}

// Build returns the filter built so far. The returned *Filter must not be
// mutated further (no more Add calls through this Builder once Build has
// been handed to readers) to preserve invariant #4.
func (b *Builder) Build() *Filter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

// BuildFrom is a one-shot constructor: it returns a filter sized for
// len(members) with every given member already Put.
func BuildFrom(members []string, p float64) *Filter {
	f := New(len(members), p)
	for _, m := range members {
		f.Put(m)
	}
	return f
}
