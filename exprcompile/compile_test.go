package exprcompile

import (
	"regexp"
	"strings"
	"testing"

	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/lflowcache"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/reftrack"
	"github.com/sdnforge/lpft/sbdb"
)

func newCompiler() *Compiler {
	return New(ofp.DefaultTableMap(), reftrack.New(), conjid.New(), lflowcache.New(1<<20))
}

func baseDatapath() sbdb.Datapath {
	return sbdb.Datapath{UUID: "dp1", TunnelKey: 7, IsSwitch: true}
}

func TestCompileSimpleComparison(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f1",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     "ip4.dst==10.0.0.1",
		Actions:   "next;",
		Datapath:  "dp1",
	}

	out, err := c.Compile(flow, baseDatapath(), Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d flows, want 1", len(out))
	}
	f := out[0]
	if f.Priority != 50 {
		t.Errorf("priority = %d, want 50", f.Priority)
	}
	if !strings.Contains(f.Match, "metadata=0x7") {
		t.Errorf("match %q missing metadata", f.Match)
	}
	if !strings.Contains(f.Match, "ip4.dst==10.0.0.1") {
		t.Errorf("match %q missing field comparison", f.Match)
	}
	wantTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableLogIngressPipeline)
	if f.Table != wantTable+3 {
		t.Errorf("table = %d, want %d", f.Table, wantTable+3)
	}
}

func TestCompileAddressSetExpandsToOneMatchPerMember(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f2",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     "ip4.dst==$s1",
		Actions:   "next;",
		Datapath:  "dp1",
	}

	cb := Callbacks{
		AddressSetMembers: func(name string) ([]string, bool) {
			if name != "s1" {
				return nil, false
			}
			return []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, true
		},
	}

	out, err := c.Compile(flow, baseDatapath(), cb)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d flows, want 3", len(out))
	}
	for _, f := range out {
		if f.Actions == "" || strings.Contains(f.Actions, "conjunction") {
			t.Errorf("unexpected conjunction action for single-set expansion: %q", f.Actions)
		}
	}
}

func TestCompileCrossSetUsesConjunction(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f3",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     "ip4.src==$a && ip4.dst==$b",
		Actions:   "next;",
		Datapath:  "dp1",
	}

	cb := Callbacks{
		AddressSetMembers: func(name string) ([]string, bool) {
			switch name {
			case "a":
				return []string{"10.0.0.1", "10.0.0.2"}, true
			case "b":
				return []string{"10.0.1.1", "10.0.1.2"}, true
			}
			return nil, false
		},
	}

	out, err := c.Compile(flow, baseDatapath(), cb)
	if err != nil {
		t.Fatal(err)
	}
	// 2 members + 2 members conjunctive clause flows, plus 1 join flow.
	if len(out) != 5 {
		t.Fatalf("got %d flows, want 5", len(out))
	}

	clauseRE := regexp.MustCompile(`^conjunction\((\d+),(\d+)/(\d+)\)$`)
	var clauseFlows []DesiredFlow
	var joinFlows []DesiredFlow
	for _, f := range out {
		if clauseRE.MatchString(f.Actions) {
			clauseFlows = append(clauseFlows, f)
		} else {
			joinFlows = append(joinFlows, f)
		}
	}
	if len(clauseFlows) != 4 {
		t.Fatalf("conjunctive clause flows = %d, want 4", len(clauseFlows))
	}
	if len(joinFlows) != 1 {
		t.Fatalf("join flows = %d, want 1", len(joinFlows))
	}

	var id string
	clauseCounts := map[string]int{} // "k/n" -> count
	for _, f := range clauseFlows {
		m := clauseRE.FindStringSubmatch(f.Actions)
		if id == "" {
			id = m[1]
		} else if m[1] != id {
			t.Errorf("clause flow id = %s, want shared id %s: %q", m[1], id, f.Actions)
		}
		if m[3] != "2" {
			t.Errorf("clause flow n = %s, want 2: %q", m[3], f.Actions)
		}
		if m[2] != "0" && m[2] != "1" {
			t.Errorf("clause flow k = %s, want 0 or 1 (k must be < n): %q", m[2], f.Actions)
		}
		clauseCounts[m[2]+"/"+m[3]]++
		if !f.Conjunction {
			t.Errorf("clause flow %q should be marked Conjunction for add_or_append_flow routing", f.Actions)
		}
	}
	if clauseCounts["0/2"] != 2 || clauseCounts["1/2"] != 2 {
		t.Errorf("clause k distribution = %v, want two flows at 0/2 and two at 1/2", clauseCounts)
	}

	join := joinFlows[0]
	wantJoinMatch := "conj_id==" + id
	if !strings.Contains(join.Match, wantJoinMatch) {
		t.Errorf("join match = %q, want it to contain %q", join.Match, wantJoinMatch)
	}
	if strings.Contains(join.Actions, "conjunction") {
		t.Errorf("join actions = %q, should carry the flow's real actions, not a conjunction clause", join.Actions)
	}
	if join.Conjunction {
		t.Error("join flow should not be marked Conjunction: its match is unique (conj_id-qualified), not shared with the clause flows")
	}
}

func TestCompileChassisResidentFalseDropsFlow(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f4",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     `is_chassis_resident("p1")`,
		Actions:   "next;",
		Datapath:  "dp1",
	}

	cb := Callbacks{
		IsChassisResident: func(port string) (bool, bool) { return false, true },
	}

	out, err := c.Compile(flow, baseDatapath(), cb)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected no flows for non-resident port, got %d", len(out))
	}

	refs := c.Refs.RefsForFlow("f4")
	if len(refs) != 1 || refs[0].Symbol.Name != "p1" {
		t.Fatalf("expected a port_binding ref for p1, got %+v", refs)
	}
}

func TestCompileNonLocalInOutPortDropsFlowOnSwitch(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f6",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     "ip4.dst==10.0.0.1",
		Actions:   "next;",
		Datapath:  "dp1",
		InOutPort: "p1",
	}

	cb := Callbacks{
		LocalLport: func(dp sbdb.UUID, port string) bool { return false },
	}

	out, err := c.Compile(flow, baseDatapath(), cb)
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected no flows for non-local inout port, got %d", len(out))
	}
}

func TestCompileLocalInOutPortKeepsFlow(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:      "f7",
		Direction: sbdb.DirectionIngress,
		Table:     3,
		Priority:  50,
		Match:     "ip4.dst==10.0.0.1",
		Actions:   "next;",
		Datapath:  "dp1",
		InOutPort: "p1",
	}

	cb := Callbacks{
		LocalLport: func(dp sbdb.UUID, port string) bool { return dp == "dp1" && port == "p1" },
	}

	out, err := c.Compile(flow, baseDatapath(), cb)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d flows, want 1", len(out))
	}
}

func TestCompileMalformedMatchIsASkip(t *testing.T) {
	c := newCompiler()
	flow := sbdb.LogicalFlow{
		UUID:     "f5",
		Table:    3,
		Priority: 50,
		Match:    "not a valid expression (",
		Actions:  "next;",
		Datapath: "dp1",
	}

	_, err := c.Compile(flow, baseDatapath(), Callbacks{})
	if err == nil {
		t.Fatal("expected a compile error for malformed match")
	}
	if _, ok := err.(*CompileError); !ok {
		t.Fatalf("expected *CompileError, got %T", err)
	}
}
