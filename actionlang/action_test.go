package actionlang

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sdnforge/lpft/exprlang"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		src         string
		wantActions []Action
		wantPrereq  exprlang.Expr
	}{
		{
			name:        "next",
			src:         "next;",
			wantActions: []Action{Next{}},
		},
		{
			name:        "drop",
			src:         "drop;",
			wantActions: []Action{Drop{}},
		},
		{
			name: "conjunction clause",
			src:  "conjunction(1,2/2);",
			wantActions: []Action{
				Conjunction{ID: 1, Clause: 2, NumClauses: 2},
			},
		},
		{
			name: "load and resubmit",
			src:  "load:0x1->NXM_NX_REG0[]; resubmit(32);",
			wantActions: []Action{
				Load{Value: "0x1", Dst: "NXM_NX_REG0[]"},
				Resubmit{Table: 32},
			},
		},
		{
			name: "ct_next carries prerequisite",
			src:  "ct(next);",
			wantActions: []Action{
				CTNext{},
			},
			wantPrereq: &exprlang.Cmp{Field: "ip_proto_family", Op: exprlang.OpNeq, Value: "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, prereq, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.src, err)
			}
			if diff := cmp.Diff(tt.wantActions, buf.Actions); diff != "" {
				t.Fatalf("actions mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantPrereq, prereq); diff != "" {
				t.Fatalf("prereq mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseConjunctionCounts(t *testing.T) {
	buf, _, err := Parse("conjunction(1,0/2); conjunction(1,1/2);")
	if err != nil {
		t.Fatal(err)
	}
	if buf.ConjIDPlaceholders != 2 {
		t.Fatalf("got %d conjunction placeholders, want 2", buf.ConjIDPlaceholders)
	}
}

func TestParseError(t *testing.T) {
	if _, _, err := Parse("bogus_action(1,2;"); err == nil {
		t.Fatal("want error for malformed action")
	}
}
