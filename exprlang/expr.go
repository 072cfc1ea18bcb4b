// Package exprlang defines the symbolic match-expression language LPFT
// compiles: a small boolean algebra over field comparisons, address-set
// and port-group membership tests, and the is_chassis_resident(...)
// predicate, plus a parser from the string syntax logical flows carry in
// the southbound database. The parsing style here -- a flat switch over
// field-name tokens dispatching to typed constructors -- follows the
// teacher's ovs/matchparser.go.
package exprlang

import "fmt"

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNeq Op = "!="
)

// Expr is a node in a parsed match expression tree.
type Expr interface {
	isExpr()
}

// And is the conjunction of its Terms.
type And struct{ Terms []Expr }

// Or is the disjunction of its Terms.
type Or struct{ Terms []Expr }

// Not negates Term.
type Not struct{ Term Expr }

// Cmp compares a field against a literal value, e.g. "tcp.dst==80".
type Cmp struct {
	Field string
	Op    Op
	Value string
}

// SetRef compares a field against every member of a named address set,
// e.g. "ip4.src==$s". It is equivalent to an Or of Cmp nodes over the
// set's current members, but is kept symbolic so the ref-tracker can
// record the dependency and the incremental address-set delta path
// (spec.md section 4.7) can recognize it.
type SetRef struct {
	Field string
	Op    Op
	Name  string
}

// PortGroupRef tests membership of the evaluation context's port in a
// named port group, e.g. "@pg1" or "@pg1[0]" for the short-hand ingress
// form. Negate implements "not in".
type PortGroupRef struct {
	Name   string
	Negate bool
}

// MulticastRef tests whether a field equals the synthetic address of a
// named multicast group scoped to the flow's datapath.
type MulticastRef struct {
	Field string
	Name  string
}

// ChassisResident is the is_chassis_resident(port) predicate. Port may
// itself be a literal logical port name or a register-valued expression;
// LPFT only supports the literal-name form.
type ChassisResident struct {
	Port string
}

func (*And) isExpr()             {}
func (*Or) isExpr()              {}
func (*Not) isExpr()             {}
func (*Cmp) isExpr()             {}
func (*SetRef) isExpr()          {}
func (*PortGroupRef) isExpr()    {}
func (*MulticastRef) isExpr()    {}
func (*ChassisResident) isExpr() {}

// Walk calls visit on e and every descendant, depth first, pre-order.
func Walk(e Expr, visit func(Expr)) {
	visit(e)
	switch n := e.(type) {
	case *And:
		for _, t := range n.Terms {
			Walk(t, visit)
		}
	case *Or:
		for _, t := range n.Terms {
			Walk(t, visit)
		}
	case *Not:
		Walk(n.Term, visit)
	}
}

// String renders e back into the source syntax, primarily for log
// messages and golden tests.
func String(e Expr) string {
	switch n := e.(type) {
	case *And:
		return joinTerms(n.Terms, " && ")
	case *Or:
		return joinTerms(n.Terms, " || ")
	case *Not:
		return "!(" + String(n.Term) + ")"
	case *Cmp:
		return fmt.Sprintf("%s%s%s", n.Field, n.Op, n.Value)
	case *SetRef:
		return fmt.Sprintf("%s%s$%s", n.Field, n.Op, n.Name)
	case *PortGroupRef:
		if n.Negate {
			return "!@" + n.Name
		}
		return "@" + n.Name
	case *MulticastRef:
		return fmt.Sprintf("%s==#%s", n.Field, n.Name)
	case *ChassisResident:
		return fmt.Sprintf("is_chassis_resident(%q)", n.Port)
	default:
		return "<nil>"
	}
}

func joinTerms(terms []Expr, sep string) string {
	s := ""
	for i, t := range terms {
		if i > 0 {
			s += sep
		}
		s += String(t)
	}
	return s
}
