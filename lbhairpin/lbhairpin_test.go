package lbhairpin

import (
	"strings"
	"testing"

	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/sbdb"
)

func newGenerator() *Generator {
	return New(ofp.DefaultTableMap(), conjid.New())
}

func TestGenerateDetectionRuleMatchesBothBackendEndpoints(t *testing.T) {
	g := newGenerator()
	lb := sbdb.LoadBalancer{
		UUID: "lb1", Name: "lb1",
		VIPs: []sbdb.LBVIP{{
			Address: "10.0.0.1", Protocol: "tcp", Port: 80,
			Backends: []sbdb.LBBackend{{Address: "10.0.1.5", Port: 8080}},
		}},
	}

	out, err := g.Generate(lb, nil)
	if err != nil {
		t.Fatal(err)
	}

	hairpinTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckLBHairpin)
	var found bool
	for _, f := range out {
		if f.Table != hairpinTable {
			continue
		}
		if strings.Contains(f.Match, "ip4.src==10.0.1.5") && strings.Contains(f.Match, "ip4.dst==10.0.1.5") {
			found = true
			if !strings.Contains(f.Match, "ct.orig_dst==10.0.0.1") {
				t.Errorf("detection match missing orig-dst VIP constraint: %q", f.Match)
			}
			if !strings.Contains(f.Actions, "learn(") {
				t.Errorf("detection actions missing learn clause: %q", f.Actions)
			}
		}
	}
	if !found {
		t.Fatal("expected a detection flow matching both src and dst on the backend address")
	}
}

func TestGenerateEmitsLegacyCTLabelVariant(t *testing.T) {
	g := newGenerator()
	lb := sbdb.LoadBalancer{
		UUID: "lb2", Name: "lb2", LegacyCTLabel: true,
		VIPs: []sbdb.LBVIP{{Address: "10.0.0.1", Backends: []sbdb.LBBackend{{Address: "10.0.1.5"}}}},
	}

	out, err := g.Generate(lb, nil)
	if err != nil {
		t.Fatal(err)
	}

	var natMark, natLabel bool
	for _, f := range out {
		if strings.Contains(f.Match, "ct_mark.natted==1") {
			natMark = true
		}
		if strings.Contains(f.Match, "ct_label.natted==1") {
			natLabel = true
		}
	}
	if !natMark || !natLabel {
		t.Fatalf("expected both ct_mark and ct_label detection variants, got natMark=%v natLabel=%v", natMark, natLabel)
	}
}

func TestGenerateWithoutHairpinSNATIPUsesDirectCommitPerVIP(t *testing.T) {
	g := newGenerator()
	lb := sbdb.LoadBalancer{
		UUID: "lb3", Name: "lb3",
		VIPs: []sbdb.LBVIP{{Address: "10.0.0.1"}, {Address: "10.0.0.2"}},
	}

	out, err := g.Generate(lb, nil)
	if err != nil {
		t.Fatal(err)
	}

	snatTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCTSnatHairpin)
	var direct int
	for _, f := range out {
		if f.Table == snatTable && f.Priority == 100 {
			direct++
			if !strings.Contains(f.Actions, "nat(src=10.0.0.") {
				t.Errorf("expected direct SNAT to the VIP, got %q", f.Actions)
			}
		}
	}
	if direct != 2 {
		t.Fatalf("got %d direct snat flows, want 2", direct)
	}
}

func TestGenerateWithHairpinSNATIPUsesSharedConjunctionID(t *testing.T) {
	g := newGenerator()
	dp1 := sbdb.Datapath{UUID: "dp1", TunnelKey: 5}
	dp2 := sbdb.Datapath{UUID: "dp2", TunnelKey: 6}
	lb := sbdb.LoadBalancer{
		UUID: "lb4", Name: "lb4", HairpinSNATIP: "172.16.0.1",
		Datapaths: []sbdb.UUID{"dp1", "dp2"},
		VIPs:      []sbdb.LBVIP{{Address: "10.0.0.1"}, {Address: "10.0.0.2"}},
	}

	out, err := g.Generate(lb, map[sbdb.UUID]sbdb.Datapath{"dp1": dp1, "dp2": dp2})
	if err != nil {
		t.Fatal(err)
	}

	snatTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCTSnatHairpin)
	var clause0, clause1, join int
	for _, f := range out {
		if f.Table != snatTable {
			continue
		}
		switch {
		case strings.Contains(f.Actions, "conjunction") && strings.Contains(f.Actions, ",0/2"):
			clause0++
		case strings.Contains(f.Actions, "conjunction") && strings.Contains(f.Actions, ",1/2"):
			clause1++
		case strings.Contains(f.Match, "conj_id=="):
			join++
			if !strings.Contains(f.Actions, "nat(src=172.16.0.1)") {
				t.Errorf("join flow should snat to hairpin_snat_ip, got %q", f.Actions)
			}
		}
	}
	if clause0 != 2 || clause1 != 2 || join != 1 {
		t.Fatalf("got clause0=%d clause1=%d join=%d, want 2/2/1", clause0, clause1, join)
	}
}

func TestGenerateRejectsUnknownTable(t *testing.T) {
	g := New(ofp.TableMap{}, conjid.New())
	_, err := g.Generate(sbdb.LoadBalancer{UUID: "lb5", Name: "lb5"}, nil)
	if err == nil {
		t.Fatal("expected error for an empty table map")
	}
}
