package lflowcache

import (
	"testing"

	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/exprlang"
)

func TestPutGetInvalidate(t *testing.T) {
	c := New(1 << 20)

	c.Put(&Entry{FlowID: "f1", State: Expr, Tree: &exprlang.Cmp{Field: "ip4.dst", Op: exprlang.OpEq, Value: "1.2.3.4"}})
	if e := c.Get("f1"); e == nil || e.State != Expr {
		t.Fatalf("expected cached Expr entry, got %+v", e)
	}

	c.Invalidate("f1")
	if e := c.Get("f1"); e != nil {
		t.Fatalf("expected nil after invalidate, got %+v", e)
	}
}

func TestEvictPrefersExprOverMatches(t *testing.T) {
	c := New(200) // room for either entry alone, not both: the second Put forces an eviction

	c.Put(&Entry{FlowID: "matches-1", State: Matches, Matches: []Match{{}}})
	c.Put(&Entry{FlowID: "expr-1", State: Expr, Tree: &exprlang.Cmp{}})

	if c.Get("expr-1") != nil {
		t.Fatal("expected Expr entry to be evicted first")
	}
	if c.Get("matches-1") == nil {
		t.Fatal("expected Matches entry to survive eviction over Expr")
	}
}

func TestRevalidateConjRangeDemotesStaleEntry(t *testing.T) {
	c := New(1 << 20)
	alloc := conjid.New()

	key := conjid.Key{FlowID: "f1", DatapathID: "d1"}
	st, err := alloc.Alloc(key, 2)
	if err != nil {
		t.Fatal(err)
	}

	c.Put(&Entry{
		FlowID:       "f1",
		State:        Matches,
		DatapathID:   "d1",
		ConjIDOffset: st.First,
		NumConjs:     st.N,
	})

	// Allocator reassigns the range (simulating a free + realloc cycle
	// between ticks): the cache entry is now stale.
	alloc.FreeForFlow("f1")
	if _, err := alloc.Alloc(conjid.Key{FlowID: "f2", DatapathID: "d1"}, 2); err != nil {
		t.Fatal(err)
	}

	c.RevalidateConjRange(alloc)
	if c.Get("f1") != nil {
		t.Fatal("expected stale Matches entry to be demoted")
	}
}
