package engine

import (
	"strings"
	"testing"

	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/ofswitch"
	"github.com/sdnforge/lpft/reftrack"
	"github.com/sdnforge/lpft/sbdb"
	"github.com/sdnforge/lpft/sbdb/memstore"
)

func newTestEngine() (*Engine, *memstore.Store, *ofswitch.MemSink) {
	store := memstore.New()
	sink := ofswitch.NewMemSink()
	e := New(store, sink, Config{
		Tables:           ofp.DefaultTableMap(),
		ChassisName:      "chassis-1",
		CacheBudgetBytes: 1 << 20,
		MeterCapacity:    8,
	})
	return e, store, sink
}

func seedDatapath(store *memstore.Store, id sbdb.UUID, tunnelKey int64) {
	store.PutDatapath(sbdb.Datapath{UUID: id, TunnelKey: tunnelKey, IsSwitch: true})
}

func TestRecomputeCompilesAllFlows(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID:      "f1",
		Direction: sbdb.DirectionIngress,
		Table:     2,
		Priority:  50,
		Match:     "ip4.dst==10.0.0.1",
		Actions:   "next;",
		Datapath:  "dp1",
	})

	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 1 {
		t.Fatalf("sink.Len() = %d, want 1", sink.Len())
	}
}

func TestTickRecompilesChangedLogicalFlow(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==10.0.0.1", Actions: "next;", Datapath: "dp1",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}

	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==10.0.0.2", Actions: "next;", Datapath: "dp1",
	})
	if err := e.Tick(); err != nil {
		t.Fatal(err)
	}

	if sink.Len() != 1 {
		t.Fatalf("sink.Len() = %d, want 1", sink.Len())
	}
	base, _ := ofp.DefaultTableMap().Lookup(ofp.TableLogIngressPipeline)
	got, ok := sink.ActionsFor(base+2, 50, "metadata=0x5 && ip4.dst==10.0.0.2")
	if !ok {
		t.Fatal("expected updated match to be present in sink")
	}
	if got == "" {
		t.Fatal("expected non-empty actions")
	}
}

func TestTickHandlesAddressSetSymbolChange(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutAddressSet(sbdb.AddressSet{UUID: "as1", Name: "s1", Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}})
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==$s1", Actions: "next;", Datapath: "dp1",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 3 {
		t.Fatalf("sink.Len() = %d, want 3", sink.Len())
	}

	// Small delta: add one address, keep old/new size > 1.
	store.PutAddressSet(sbdb.AddressSet{UUID: "as1", Name: "s1", Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}})
	if err := e.Tick(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 4 {
		t.Fatalf("sink.Len() after delta add = %d, want 4", sink.Len())
	}
}

// TestTickAddressSetDeltaHonorsPerFlowRefCount covers a flow that
// references the same address set from two separate clauses
// (ip4.src==$s1 || ip4.dst==$s1): each member address gets two
// independent ASIP-tagged flows in the sink, so the delta-removal path
// must ask the sink to remove two flows per deleted address, not one.
func TestTickAddressSetDeltaHonorsPerFlowRefCount(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutAddressSet(sbdb.AddressSet{UUID: "as1", Name: "s1", Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}})
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.src==$s1 || ip4.dst==$s1", Actions: "next;", Datapath: "dp1",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	// 3 members, 2 clauses each: 6 flows total.
	if sink.Len() != 6 {
		t.Fatalf("sink.Len() = %d, want 6", sink.Len())
	}

	refs := e.refs.LookupBySymbol(reftrack.Symbol{Kind: reftrack.KindAddressSet, Name: "s1"})
	if refs["f1"] != 2 {
		t.Fatalf("ref count for f1 on s1 = %d, want 2", refs["f1"])
	}

	// Small delta: drop one address, keep old/new size > 1 so the
	// incremental path is taken instead of a full recompile.
	store.PutAddressSet(sbdb.AddressSet{UUID: "as1", Name: "s1", Addresses: []string{"10.0.0.1", "10.0.0.2"}})
	if err := e.Tick(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 4 {
		t.Fatalf("sink.Len() after delta remove = %d, want 4", sink.Len())
	}
}

func TestActivateDatapathOnFirstLocalPort(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp2", 9)
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==10.0.0.1", Actions: "next;", Datapath: "dp2",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 1 {
		t.Fatalf("sink.Len() = %d, want 1 after recompute", sink.Len())
	}

	// A second engine, recomputed and then made to forget which
	// datapaths are local, now ticking a newly-local port, must activate
	// dp2 on its own.
	e2, store2, sink2 := newTestEngine()
	seedDatapath(store2, "dp2", 9)
	store2.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==10.0.0.1", Actions: "next;", Datapath: "dp2",
	})
	if err := e2.Recompute(); err != nil {
		t.Fatal(err)
	}
	// Simulate losing track of locality, then a port binding arriving.
	e2.localDatapaths = map[sbdb.UUID]bool{}
	store2.PutPortBinding(sbdb.PortBinding{UUID: "pb1", Name: "p1", Datapath: "dp2", Chassis: "chassis-1"})
	if err := e2.Tick(); err != nil {
		t.Fatal(err)
	}
	if sink2.Len() != 1 {
		t.Fatalf("sink2.Len() = %d, want 1", sink2.Len())
	}
}

func TestCompileSkipsNonLocalInOutPortOnSwitch(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutPortBinding(sbdb.PortBinding{UUID: "pb1", Name: "p1", Datapath: "dp1", Chassis: "chassis-2"})
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 2, Priority: 50, Match: "ip4.dst==10.0.0.1", Actions: "next;",
		Datapath: "dp1", InOutPort: "p1",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 0 {
		t.Fatalf("sink.Len() = %d, want 0 for a non-local inout port", sink.Len())
	}
}

func TestRecomputeEmitsHairpinFlowsForLoadBalancer(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutLoadBalancer(sbdb.LoadBalancer{
		UUID:      "lb1",
		Name:      "lb1",
		Datapaths: []sbdb.UUID{"dp1"},
		VIPs: []sbdb.LBVIP{{
			Address:  "10.0.0.1",
			Backends: []sbdb.LBBackend{{Address: "10.0.1.5"}},
		}},
	})

	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}

	hairpinTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckLBHairpin)
	_, ok := sink.ActionsFor(hairpinTable, 100, "ct_mark.natted==1 && eth_type==ip4 && ip4.src==10.0.1.5 && ip4.dst==10.0.1.5 && ct.orig_dst==10.0.0.1")
	if !ok {
		t.Fatal("expected a hairpin detection flow for the lb1 backend")
	}
}

func TestTickRemovesHairpinFlowsOnLoadBalancerDelete(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp1", 5)
	store.PutLoadBalancer(sbdb.LoadBalancer{
		UUID: "lb1", Name: "lb1",
		VIPs: []sbdb.LBVIP{{Address: "10.0.0.1", Backends: []sbdb.LBBackend{{Address: "10.0.1.5"}}}},
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() == 0 {
		t.Fatal("expected hairpin flows before deletion")
	}

	store.DeleteLoadBalancer("lb1")
	if err := e.Tick(); err != nil {
		t.Fatal(err)
	}
	if sink.Len() != 0 {
		t.Fatalf("sink.Len() = %d, want 0 after lb delete", sink.Len())
	}
}

func TestIsChassisResidentUnknownPort(t *testing.T) {
	e, _, _ := newTestEngine()
	if _, known := e.isChassisResident("ghost"); known {
		t.Fatal("expected unknown port to report known=false")
	}
}

func TestRenderedMatchUsesMetadataFromTunnelKey(t *testing.T) {
	e, store, sink := newTestEngine()
	seedDatapath(store, "dp9", 42)
	store.PutLogicalFlow(sbdb.LogicalFlow{
		UUID: "f1", Table: 0, Priority: 1, Match: "ip4.dst==1.1.1.1", Actions: "next;", Datapath: "dp9",
	})
	if err := e.Recompute(); err != nil {
		t.Fatal(err)
	}
	base, _ := ofp.DefaultTableMap().Lookup(ofp.TableLogIngressPipeline)
	_, ok := sink.ActionsFor(base, 1, "metadata=0x2a && ip4.dst==1.1.1.1")
	if !ok {
		t.Fatal("expected metadata=0x2a in the rendered match")
	}
	if !strings.Contains("metadata=0x2a", "0x2a") {
		t.Fatal("sanity check failed")
	}
}
