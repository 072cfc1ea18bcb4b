package reftrack

import "testing"

func TestAddAndLookup(t *testing.T) {
	tbl := New()
	sym := Symbol{Kind: KindAddressSet, Name: "s1"}

	tbl.Add("flow-1", sym, 2)
	tbl.Add("flow-2", sym, 1)

	referrers := tbl.LookupBySymbol(sym)
	if len(referrers) != 2 {
		t.Fatalf("got %d referrers, want 2", len(referrers))
	}
	if referrers["flow-1"] != 2 {
		t.Fatalf("flow-1 ref count = %d, want 2", referrers["flow-1"])
	}

	if err := tbl.Invariant(); err != nil {
		t.Fatal(err)
	}
}

func TestAddIsIdempotentOnRecompile(t *testing.T) {
	tbl := New()
	sym := Symbol{Kind: KindAddressSet, Name: "s1"}

	// A flow bound to a datapath group gets compiled once per member
	// datapath; each pass re-adds the same parser-computed count. A
	// naive increment-on-every-call Add would inflate this to 6.
	tbl.Add("flow-1", sym, 2)
	tbl.Add("flow-1", sym, 2)
	tbl.Add("flow-1", sym, 2)

	referrers := tbl.LookupBySymbol(sym)
	if referrers["flow-1"] != 2 {
		t.Fatalf("flow-1 ref count = %d, want 2 (idempotent re-add)", referrers["flow-1"])
	}

	if err := tbl.Invariant(); err != nil {
		t.Fatal(err)
	}
}

func TestAddOverwritesOnRecount(t *testing.T) {
	tbl := New()
	sym := Symbol{Kind: KindAddressSet, Name: "s1"}

	tbl.Add("flow-1", sym, 3)
	// A later compile of the same flow against a match that now
	// references the symbol only once replaces, not accumulates.
	tbl.Add("flow-1", sym, 1)

	refs := tbl.RefsForFlow("flow-1")
	if len(refs) != 1 || refs[0].RefCount != 1 {
		t.Fatalf("got refs %+v, want a single ref with count 1", refs)
	}
}

func TestRemoveAllForFlowPurgesEmptySymbol(t *testing.T) {
	tbl := New()
	sym := Symbol{Kind: KindPortGroup, Name: "pg1"}

	tbl.Add("flow-1", sym, 1)
	tbl.RemoveAllForFlow("flow-1")

	if n := tbl.ReferrerCount(sym); n != 0 {
		t.Fatalf("got %d referrers after removal, want 0", n)
	}
	if refs := tbl.RefsForFlow("flow-1"); len(refs) != 0 {
		t.Fatalf("got %d refs for removed flow, want 0", len(refs))
	}
	if err := tbl.Invariant(); err != nil {
		t.Fatal(err)
	}
}

func TestRemoveAllForFlowLeavesOtherReferrers(t *testing.T) {
	tbl := New()
	sym := Symbol{Kind: KindAddressSet, Name: "s1"}

	tbl.Add("flow-1", sym, 1)
	tbl.Add("flow-2", sym, 1)
	tbl.RemoveAllForFlow("flow-1")

	if n := tbl.ReferrerCount(sym); n != 1 {
		t.Fatalf("got %d referrers, want 1", n)
	}
}
