// Package lflowcache implements the compilation cache from spec.md
// sections 4.3 and 5: a three-state CacheEntry per logical flow,
// memoizing either an intermediate expression tree or a fully
// normalized match set, under a soft byte budget enforced by eviction.
package lflowcache

import (
	"sort"

	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/exprlang"
)

// State names which of the three CacheEntry states an entry occupies.
type State int

const (
	// None holds nothing memoized; the flow must be recompiled from
	// scratch.
	None State = iota
	// Expr holds a parsed-and-annotated expression tree, short of
	// match normalization.
	Expr
	// Matches holds fully normalized matches, ready to encode.
	Matches
)

// Match is one normalized OpenFlow match ready for encoding, tagged
// with the conjunction descriptors and address-set provenance spec.md
// section 4.3 steps 6-8 describe.
type Match struct {
	Expr exprlang.Expr
	// ConjDescriptors, if non-empty, marks this match as needing
	// conjunction ids; entries are renumbered to absolute ids once the
	// allocator has assigned a base (step 8).
	ConjDescriptors []ConjDescriptor
	// ASName/ASIP/ASMask tag a match that originated from an ==
	// comparison against an address set member, enabling the
	// incremental per-address maintenance path (spec.md section 4.7).
	ASName string
	ASIP   string
	ASMask string
}

// ConjDescriptor is one (clause, of n) descriptor attached to a match.
// Clause/NumClauses are fixed at build time; ID starts zero and is
// filled in with the allocated conjunction id once bindConjIDs runs.
// Join marks the descriptor's match as the real-action flow gated on
// conj_id==ID, rather than one of the conjunction(...) clause flows.
type ConjDescriptor struct {
	Clause     int
	NumClauses int
	ID         uint32
	Join       bool
}

// Entry is one logical flow's cached compilation state.
type Entry struct {
	FlowID string
	State  State

	// Populated when State == Expr.
	Tree exprlang.Expr

	// Populated when State == Matches.
	Matches       []Match
	ConjIDOffset  uint32
	NumConjs      uint32
	DatapathID    string

	sizeBytes int
	touch     uint64 // monotonic recency counter, for oldest-first eviction
}

// approxSize estimates an entry's heap footprint for the byte budget.
// It does not need to be exact -- spec.md section 5 calls the budget "a
// soft target" -- only monotonic in the entry's actual size.
func approxSize(e *Entry) int {
	switch e.State {
	case Expr:
		return 128 + exprSize(e.Tree)
	case Matches:
		n := 64
		for _, m := range e.Matches {
			n += 96 + exprSize(m.Expr) + len(m.ConjDescriptors)*16
		}
		return n
	default:
		return 32
	}
}

func exprSize(e exprlang.Expr) int {
	if e == nil {
		return 0
	}
	n := 0
	exprlang.Walk(e, func(exprlang.Expr) { n += 48 })
	return n
}

// Cache is the engine-wide compilation cache, budgeted by total
// approximate byte size across all entries.
type Cache struct {
	entries   map[string]*Entry
	budget    int
	used      int
	clock     uint64
}

// New returns a Cache with the given soft byte budget.
func New(budgetBytes int) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		budget:  budgetBytes,
	}
}

// Get returns the cached entry for flowID, or nil if none exists.
// Reading bumps the entry's recency so eviction prefers genuinely cold
// entries.
func (c *Cache) Get(flowID string) *Entry {
	e, ok := c.entries[flowID]
	if !ok {
		return nil
	}
	c.clock++
	e.touch = c.clock
	return e
}

// Put installs or replaces the cache entry for e.FlowID, then evicts
// least-valuable entries until the cache is back under budget.
func (c *Cache) Put(e *Entry) {
	if old, ok := c.entries[e.FlowID]; ok {
		c.used -= old.sizeBytes
	}
	c.clock++
	e.touch = c.clock
	e.sizeBytes = approxSize(e)
	c.entries[e.FlowID] = e
	c.used += e.sizeBytes
	c.evict()
}

// Invalidate removes any cached entry for flowID. Called on flow
// removal and whenever a recompile must start from None (spec.md
// section 3, "removal cascades to ... purge cache").
func (c *Cache) Invalidate(flowID string) {
	if e, ok := c.entries[flowID]; ok {
		c.used -= e.sizeBytes
		delete(c.entries, flowID)
	}
}

// RevalidateConjRange checks a Matches entry's recorded
// (ConjIDOffset, NumConjs) against the allocator, demoting the entry to
// None if the range is no longer the one the allocator has on file for
// this flow+datapath (spec.md section 4.3, "must be re-validated against
// the conj-id allocator before use"; also property P5 in section 8).
func (c *Cache) RevalidateConjRange(alloc *conjid.Allocator) {
	for id, e := range c.entries {
		if e.State != Matches || e.NumConjs == 0 {
			continue
		}
		st, ok := alloc.Find(conjid.Key{FlowID: e.FlowID, DatapathID: e.DatapathID})
		if !ok || st.First != e.ConjIDOffset || st.N != e.NumConjs {
			c.used -= e.sizeBytes
			delete(c.entries, id)
		}
	}
}

// evict discards least-valuable entries until used <= budget. Valuation
// policy (spec.md section 5): prefer discarding Expr over Matches,
// oldest first within a state -- an Expr entry is cheaper to
// recompute (it skips only steps 1-5) than a Matches entry (which also
// skips steps 6-8 and any conj-id rebinding).
func (c *Cache) evict() {
	if c.budget <= 0 || c.used <= c.budget {
		return
	}

	candidates := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.State != b.State {
			// Expr (1) evicts before Matches (2).
			return a.State < b.State
		}
		return a.touch < b.touch
	})

	for _, e := range candidates {
		if c.used <= c.budget {
			break
		}
		c.used -= e.sizeBytes
		delete(c.entries, e.FlowID)
	}
}

// Len reports the number of cached entries, for tests and diagnostics.
func (c *Cache) Len() int { return len(c.entries) }

// UsedBytes reports the cache's current approximate size.
func (c *Cache) UsedBytes() int { return c.used }
