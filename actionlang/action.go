// Package actionlang parses the action-string half of a logical flow
// into an action buffer plus a prerequisites expression (spec.md section
// 4.4). The statement-splitting technique -- a parenthesis-depth stack
// deciding where one action ends and the next begins -- follows the
// teacher's ovs/actionparser.go, adapted to split on ';' (LPFT's action
// statement separator) instead of ','.
package actionlang

import "fmt"

// Action is one parsed action-language statement.
type Action interface {
	isAction()
}

// Next advances to the next logical pipeline table (the "next;"
// statement).
type Next struct{}

// Drop terminates the pipeline without forwarding the packet.
type Drop struct{}

// Output sends the packet out its outport register value.
type Output struct{}

// Resubmit jumps directly to a physical table.
type Resubmit struct{ Table uint8 }

// Conjunction contributes one clause toward a conjunction id (spec.md
// section 4.2/4.3 step 8): ID is renumbered to an absolute conjunction
// id once the expr compiler allocates the range; Clause/NumClauses are
// the dimension index and count.
type Conjunction struct {
	ID         uint32
	Clause     int
	NumClauses int
}

// Load sets dst to value (an immediate, not a field move).
type Load struct{ Value, Dst string }

// Move copies the contents of Src into Dst.
type Move struct{ Src, Dst string }

// SetField sets dst, optionally masked, to value.
type SetField struct{ Value, Dst string }

// CTNext sends the packet through the connection-tracker, without
// committing, and resubmits to the next table in zone Zone (empty means
// "use the datapath's common NAT zone"). Requires ip as a match
// prerequisite.
type CTNext struct{ Zone string }

// CTCommit commits the current connection-tracking state without
// resubmitting.
type CTCommit struct{}

// CTLBNat performs conntrack-assisted destination NAT to Target, the
// general ct_lb_nat() action ordinary logical flows use to reach an LB
// backend.
type CTLBNat struct{ Target string }

// CTSNat performs conntrack-assisted source NAT to Target, used by the
// LB hairpin generator's CT_SNAT_HAIRPIN rules (spec.md section 4.8) to
// rewrite a hairpinning backend's source address to the VIP or the
// configured hairpin_snat_ip.
type CTSNat struct{ Target string }

// Learn installs a reply-path rule, used by the LB hairpin detector
// (spec.md section 4.8) to plant the CHK_LB_HAIRPIN_REPLY rule when a
// hairpin is first detected.
type Learn struct {
	Table string
	Specs []string
}

// SetMeter interns name via the controller-meter extend-table (spec.md
// section 4.3, "controller meter") and attaches the resulting id to the
// action set.
type SetMeter struct{ Name string }

func (Next) isAction()        {}
func (Drop) isAction()        {}
func (Output) isAction()      {}
func (Resubmit) isAction()    {}
func (Conjunction) isAction() {}
func (Load) isAction()        {}
func (Move) isAction()        {}
func (SetField) isAction()    {}
func (CTNext) isAction()      {}
func (CTCommit) isAction()    {}
func (CTLBNat) isAction()     {}
func (CTSNat) isAction()      {}
func (Learn) isAction()       {}
func (SetMeter) isAction()    {}

// Buffer is the parsed output of an action string: the ordered action
// list plus the match prerequisites those actions impose (e.g. CTNext
// requires the match to already constrain ip_proto to a concrete IP
// version).
type Buffer struct {
	Actions []Action
	// ConjIDPlaceholders counts the conjunction actions in Actions, one
	// per action even when several name the same placeholder
	// (pre-allocation) id, for the expr compiler's
	// "does this flow need a conj-id range" check.
	ConjIDPlaceholders int
}

func (b *Buffer) String() string {
	s := ""
	for i, a := range b.Actions {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%#v", a)
	}
	return s
}
