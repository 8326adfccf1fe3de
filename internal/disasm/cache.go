package disasm

import (
	"fmt"

	lru "github.com/elastic/go-freelru"
)

// DefaultCacheSize bounds the per-worker decode cache.
const DefaultCacheSize = 4096

// CachedDecoder memoizes decodes by address. Overlapping gadget candidates
// re-decode the same addresses many times; the cache absorbs that.
//
// Entries are keyed by address alone, so a CachedDecoder must only ever see
// bytes from one region. It is not safe for concurrent use.
type CachedDecoder struct {
	dec   Decoder
	cache *lru.LRU[uint64, Instruction]

	hits, misses uint64
}

// NewCachedDecoder wraps dec with an LRU of the given capacity
// (DefaultCacheSize when size is 0).
func NewCachedDecoder(dec Decoder, size uint32) (*CachedDecoder, error) {
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uint64, Instruction](size, hashAddr)
	if err != nil {
		return nil, fmt.Errorf("disasm: decode cache: %w", err)
	}
	return &CachedDecoder{dec: dec, cache: cache}, nil
}

func (c *CachedDecoder) Decode(code []byte, addr uint64) Instruction {
	if inst, ok := c.cache.Get(addr); ok {
		c.hits++
		return inst
	}
	c.misses++
	inst := c.dec.Decode(code, addr)
	c.cache.Add(addr, inst)
	return inst
}

// Stats returns cache hit and miss counts.
func (c *CachedDecoder) Stats() (hits, misses uint64) { return c.hits, c.misses }

// hashAddr is a 64-bit finalizer (splitmix64) folded to 32 bits.
func hashAddr(a uint64) uint32 {
	a ^= a >> 30
	a *= 0xbf58476d1ce4e5b9
	a ^= a >> 27
	a *= 0x94d049bb133111eb
	a ^= a >> 31
	return uint32(a)
}
