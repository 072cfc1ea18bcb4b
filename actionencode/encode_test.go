package actionencode

import (
	"strconv"
	"strings"
	"testing"

	"github.com/sdnforge/lpft/actionlang"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/sbdb"
)

func baseEnv() Env {
	return Env{
		Tables: ofp.DefaultTableMap(),
		Meters: NewMeterTable(8),
	}
}

func TestEncodeNextResolvesPhysicalTable(t *testing.T) {
	buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.Next{}}}

	out, err := Encode(buf, sbdb.DirectionIngress, 3, "", "f1", baseEnv())
	if err != nil {
		t.Fatal(err)
	}
	base, _ := ofp.DefaultTableMap().Lookup(ofp.TableLogIngressPipeline)
	want := "resubmit(" + strconv.Itoa(int(base)+4) + ")"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestEncodeDropAndConjunction(t *testing.T) {
	buf := &actionlang.Buffer{Actions: []actionlang.Action{
		actionlang.Conjunction{ID: 5, Clause: 0, NumClauses: 2},
	}}
	out, err := Encode(buf, sbdb.DirectionIngress, 0, "", "f1", baseEnv())
	if err != nil {
		t.Fatal(err)
	}
	if out != "conjunction(5,0/2)" {
		t.Fatalf("got %q", out)
	}
}

func TestEncodeMeterInterning(t *testing.T) {
	env := baseEnv()
	buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.Drop{}}}

	out1, err := Encode(buf, sbdb.DirectionIngress, 0, "rate-limit-1", "f1", env)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out1, "set_meter(") {
		t.Fatalf("expected set_meter prefix, got %q", out1)
	}

	out2, err := Encode(buf, sbdb.DirectionIngress, 0, "rate-limit-1", "f1", env)
	if err != nil {
		t.Fatal(err)
	}
	if out1 != out2 {
		t.Fatalf("expected stable meter id across calls: %q != %q", out1, out2)
	}
}

func TestMeterTableExhaustionYieldsNoMeter(t *testing.T) {
	env := baseEnv()
	env.Meters = NewMeterTable(1)
	var warned string
	env.Warn = func(format string, args ...interface{}) { warned = format }

	buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.Drop{}}}

	if _, err := Encode(buf, sbdb.DirectionIngress, 0, "m1", "f1", env); err != nil {
		t.Fatal(err)
	}
	out, err := Encode(buf, sbdb.DirectionIngress, 0, "m2", "f2", env)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "set_meter") {
		t.Fatalf("expected no meter action once table is exhausted, got %q", out)
	}
	if warned == "" {
		t.Fatal("expected a warning on meter-table exhaustion")
	}
}

func TestEncodeCTNextUsesCommonZone(t *testing.T) {
	env := baseEnv()
	env.CommonNATCTZone = "17"
	buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.CTNext{}}}

	out, err := Encode(buf, sbdb.DirectionIngress, 0, "", "f1", env)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "zone=17") {
		t.Fatalf("expected common NAT zone in output, got %q", out)
	}
}

