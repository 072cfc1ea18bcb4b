package conjid

import "testing"

func TestAllocReuseAndDisjoint(t *testing.T) {
	a := New()

	k1 := Key{FlowID: "f1", DatapathID: "d1"}
	k2 := Key{FlowID: "f2", DatapathID: "d1"}

	st1, err := a.Alloc(k1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if st1.First != 1 {
		t.Fatalf("st1.First = %d, want 1", st1.First)
	}

	st2, err := a.Alloc(k2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st2.First != 5 {
		t.Fatalf("st2.First = %d, want 5", st2.First)
	}

	if !a.Disjoint() {
		t.Fatal("expected disjoint ranges")
	}

	a.FreeForFlow("f1")
	if _, ok := a.Find(k1); ok {
		t.Fatal("k1 should be freed")
	}

	// A new 4-id allocation should reuse the freed range rather than
	// extend the high-water mark.
	k3 := Key{FlowID: "f3", DatapathID: "d1"}
	st3, err := a.Alloc(k3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if st3.First != 1 {
		t.Fatalf("st3.First = %d, want reused range starting at 1, got %d", 1, st3.First)
	}
	if !a.Disjoint() {
		t.Fatal("expected disjoint ranges after reuse")
	}
}

func TestAllocReallocFreesOldRange(t *testing.T) {
	a := New()
	k := Key{FlowID: "f1", DatapathID: "d1"}

	if _, err := a.Alloc(k, 2); err != nil {
		t.Fatal(err)
	}
	st, err := a.Alloc(k, 5)
	if err != nil {
		t.Fatal(err)
	}
	if st.N != 5 {
		t.Fatalf("got N=%d, want 5", st.N)
	}
	if !a.Disjoint() {
		t.Fatal("expected disjoint ranges")
	}
}

func TestAllocSpecifiedRejectsOverlap(t *testing.T) {
	a := New()
	k1 := Key{FlowID: "f1", DatapathID: "d1"}
	k2 := Key{FlowID: "f2", DatapathID: "d1"}

	if _, err := a.Alloc(k1, 4); err != nil {
		t.Fatal(err)
	}
	if err := a.AllocSpecified(k2, 2, 2); err == nil {
		t.Fatal("want overlap error")
	}
}

func TestAllocSpecifiedReusesExactRange(t *testing.T) {
	a := New()
	k := Key{FlowID: "f1", DatapathID: "d1"}

	st, err := a.Alloc(k, 4)
	if err != nil {
		t.Fatal(err)
	}
	a.FreeForFlow("f1")

	if err := a.AllocSpecified(k, st.First, st.N); err != nil {
		t.Fatal(err)
	}
	got, ok := a.Find(k)
	if !ok || got != st {
		t.Fatalf("Find(k) = %+v, %v; want %+v, true", got, ok, st)
	}
}
