package gadget

import (
	"cmp"
	"slices"
	"sync"
)

// Set maps canonical keys to gadgets. All methods are safe for concurrent
// use. Gadgets handed out by Get, Gadgets and Filter must not be modified,
// and are only stable to read once concurrent inserts have finished.
type Set struct {
	mu sync.Mutex
	m  map[Key]*Gadget
}

func NewSet() *Set {
	return &Set{m: make(map[Key]*Gadget)}
}

// Insert adds g's occurrences. A gadget whose key is already present is
// merged into the existing entry; re-inserting a known address is a no-op.
// The set keeps its own copy of g.
func (s *Set) Insert(g *Gadget) {
	if g == nil || len(g.Instructions) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(g)
}

func (s *Set) insertLocked(g *Gadget) {
	if cur, ok := s.m[g.key]; ok {
		cur.absorb(g)
		return
	}
	s.m[g.key] = g.clone()
}

// Merge inserts every gadget of other.
func (s *Set) Merge(other *Set) {
	if other == nil || other == s {
		return
	}
	gs := other.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range gs {
		s.insertLocked(g)
	}
}

// Get looks up a gadget by key.
func (s *Set) Get(k Key) (*Gadget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.m[k]
	return g, ok
}

func (s *Set) Has(k Key) bool {
	_, ok := s.Get(k)
	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Keys returns all keys in sorted order.
func (s *Set) Keys() []Key {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Gadgets returns all gadgets ordered by key. Render order is the caller's
// business; this order only makes iteration deterministic.
func (s *Set) Gadgets() []*Gadget {
	gs := s.snapshot()
	slices.SortFunc(gs, func(a, b *Gadget) int { return cmp.Compare(a.key, b.key) })
	return gs
}

// Filter returns a new set holding copies of the gadgets keep accepts.
func (s *Set) Filter(keep func(*Gadget) bool) *Set {
	out := NewSet()
	for _, g := range s.snapshot() {
		if keep(g) {
			out.m[g.key] = g.clone()
		}
	}
	return out
}

func (s *Set) snapshot() []*Gadget {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs := make([]*Gadget, 0, len(s.m))
	for _, g := range s.m {
		gs = append(gs, g)
	}
	return gs
}
