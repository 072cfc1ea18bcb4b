package exprlang

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want Expr
	}{
		{
			name: "single comparison",
			src:  "ip4.dst==10.0.0.1",
			want: &Cmp{Field: "ip4.dst", Op: OpEq, Value: "10.0.0.1"},
		},
		{
			name: "address set reference",
			src:  "ip4.src==$s",
			want: &SetRef{Field: "ip4.src", Op: OpEq, Name: "s"},
		},
		{
			name: "conjunction",
			src:  "ip4.src==$a && ip4.dst==$b",
			want: &And{Terms: []Expr{
				&SetRef{Field: "ip4.src", Op: OpEq, Name: "a"},
				&SetRef{Field: "ip4.dst", Op: OpEq, Name: "b"},
			}},
		},
		{
			name: "port group and parens",
			src:  "@pg1 && (tcp.dst==80 || tcp.dst==443)",
			want: &And{Terms: []Expr{
				&PortGroupRef{Name: "pg1"},
				&Or{Terms: []Expr{
					&Cmp{Field: "tcp.dst", Op: OpEq, Value: "80"},
					&Cmp{Field: "tcp.dst", Op: OpEq, Value: "443"},
				}},
			}},
		},
		{
			name: "chassis resident predicate",
			src:  `is_chassis_resident("sw0-p1")`,
			want: &ChassisResident{Port: "sw0-p1"},
		},
		{
			name: "negation",
			src:  "!@pg1",
			want: &Not{Term: &PortGroupRef{Name: "pg1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.src, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tt.src, diff)
			}
		})
	}
}

func TestToDNF(t *testing.T) {
	// (a || b) && c  ->  (a && c) || (b && c)
	src := "(ip4.src==$a || ip4.src==$b) && ip4.dst==$c"
	e, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}

	dnf := ToDNF(e)
	clauses := Clauses(dnf)
	if len(clauses) != 2 {
		t.Fatalf("got %d clauses, want 2: %s", len(clauses), String(dnf))
	}
	for _, c := range clauses {
		if len(c.Terms) != 2 {
			t.Fatalf("clause %s: got %d terms, want 2", String(c), len(c.Terms))
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"ip4.dst==",
		"ip4.dst 10.0.0.1",
		"(ip4.dst==1",
		"",
	} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q): want error, got nil", src)
		}
	}
}
