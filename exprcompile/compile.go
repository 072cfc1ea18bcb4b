// Package exprcompile implements the Expr-Compiler driver from spec.md
// section 4.3: the eight-step pipeline from a logical flow's
// (match, actions) source strings to zero or more OpenFlow-ready
// matches, coordinating exprlang, actionlang, reftrack, conjid, and
// lflowcache.
package exprcompile

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/sdnforge/lpft/actionlang"
	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/exprlang"
	"github.com/sdnforge/lpft/lflowcache"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/reftrack"
	"github.com/sdnforge/lpft/sbdb"
)

// Callbacks supplies the compiler with the chassis-local state it has no
// other way to reach: whether a named port is chassis-resident, and the
// current membership of address sets, port groups, and multicast groups.
// References are registered in the Ref-Tracker by Compile itself, from
// the parsed match, not by these callbacks (spec.md section 4.1).
type Callbacks struct {
	// IsChassisResident evaluates is_chassis_resident(port). The second
	// return value is false when port is unknown entirely (not just
	// non-resident), in which case the sub-expression is treated as
	// false per spec.md section 4.3 step 5.
	IsChassisResident func(port string) (resident bool, known bool)
	// AddressSetMembers returns the current members of a named address
	// set, in a stable order.
	AddressSetMembers func(name string) ([]string, bool)
	// PortGroupMembers returns the current members of a named port
	// group.
	PortGroupMembers func(name string) ([]string, bool)
	// MulticastMembers returns the synthetic address(es) a named,
	// datapath-scoped multicast group currently resolves to.
	MulticastMembers func(name string) ([]string, bool)
	// LocalLport reports whether (datapath, port) is in the chassis's
	// local logical-port set, used by Compile's local filter for
	// switch datapaths (spec.md section 4.3 "local-lport-filter").
	LocalLport func(datapath sbdb.UUID, portID string) bool
	// EncodeActions renders an action buffer to its final OpenFlow
	// string using the real action-encoder (actionencode.Encode),
	// including physical "next" resubmits and controller-meter
	// interning. When nil, Compile falls back to renderActions, a
	// table-routing-oblivious stringifier good enough for tests and the
	// single-conjunction case.
	EncodeActions func(buf *actionlang.Buffer, logicalTable int, flowID sbdb.UUID) (string, error)
}

// CompileError is returned for a flow that could not be compiled. Per
// spec.md section 7, this is always a skip -- log the flow and move on
// -- never a fatal condition.
type CompileError struct {
	FlowID sbdb.UUID
	Stage  string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("exprcompile: flow %s: %s: %v", e.FlowID, e.Stage, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// DesiredFlow is one emitted OpenFlow rule, identified by
// (Table, Priority, Match) and associated with a cookie derived from the
// owning flow (spec.md section 3).
type DesiredFlow struct {
	Table    uint8
	Priority int
	Match    string
	Actions  string
	Cookie   uint32
	Owner    sbdb.UUID

	// ASName/ASIP/ASMask tag a match generated from a single address-set
	// member, enabling the sink's remove_flows_for_as_ip fast path
	// (spec.md section 4.7's address-set delta optimisation).
	ASName string
	ASIP   string
	ASMask string
	// Conjunction is true for a match whose Actions include a
	// conjunction(...) clause rather than the flow's real actions; the
	// sink must route these through add_or_append_flow instead of
	// add_flow (spec.md section 4.5).
	Conjunction bool
}

// Compiler holds the shared state the compile pipeline mutates across
// calls: the ref-tracker and the conjunction-id allocator. It also holds
// the compilation cache, which Compile itself neither reads nor writes;
// the engine invalidates its entries. All three are engine-owned and
// mutated only from the engine's single thread (spec.md section 5).
type Compiler struct {
	Tables ofp.TableMap
	Refs   *reftrack.Table
	Conj   *conjid.Allocator
	Cache  *lflowcache.Cache
}

// New returns a Compiler sharing the given state.
func New(tables ofp.TableMap, refs *reftrack.Table, conj *conjid.Allocator, cache *lflowcache.Cache) *Compiler {
	return &Compiler{Tables: tables, Refs: refs, Conj: conj, Cache: cache}
}

// Compile runs the full eight-step pipeline for flow against dp's local
// state, using cb to resolve chassis-local predicates and symbol
// membership. On a switch datapath, cb.LocalLport drops a flow whose
// in/outport tag names a port not bound to this chassis.
func (c *Compiler) Compile(flow sbdb.LogicalFlow, dp sbdb.Datapath, cb Callbacks) ([]DesiredFlow, error) {
	flowID := flow.UUID
	dpKey := string(dp.UUID)

	// Step 1: parse match, registering address-set/port-group refs.
	matchExpr, err := exprlang.Parse(flow.Match)
	if err != nil {
		return nil, &CompileError{FlowID: flowID, Stage: "parse_match", Err: err}
	}
	c.registerMatchRefs(flowID, matchExpr)

	// Local filtering (spec.md section 4.5): on a switch datapath, a
	// flow tagged with an in/outport only ever matters on the chassis
	// that port is bound to. Routers bypass this filter since their
	// ports have no single chassis-local owner in the same sense.
	if dp.IsSwitch && flow.InOutPort != "" && cb.LocalLport != nil && !cb.LocalLport(dp.UUID, flow.InOutPort) {
		return nil, nil
	}

	// Step 2+3: parse actions, conjoin prerequisites.
	actions, prereqs, err := actionlang.Parse(flow.Actions)
	if err != nil {
		return nil, &CompileError{FlowID: flowID, Stage: "parse_actions", Err: err}
	}
	if prereqs != nil {
		matchExpr = &exprlang.And{Terms: []exprlang.Expr{matchExpr, prereqs}}
	}

	// Step 4: annotation. No symbol-table check is made: the parser
	// accepts any field name, and an unknown field passes through into
	// the rendered match. Only a syntax error in step 1 is reported as a
	// skip.

	// Step 5: evaluate is_chassis_resident predicates.
	resolved, contradiction := c.resolveChassisResident(flowID, matchExpr, cb)

	// Step 6: normalize to DNF.
	dnf := exprlang.ToDNF(resolved)
	clauses := exprlang.Clauses(dnf)
	if contradiction {
		clauses = filterContradictions(clauses)
	}
	if len(clauses) == 0 {
		// Every disjunct was ruled out by a chassis-residency check;
		// this flow simply produces nothing on this chassis.
		return nil, nil
	}

	// Step 7: expr-to-matches, expanding address-set/port-group/
	// multicast disjunctions within each clause.
	built, err := c.buildMatches(flowID, dpKey, clauses, cb)
	if err != nil {
		return nil, err
	}

	// Step 8: bind conjunction ids for any match carrying descriptors.
	if err := c.bindConjIDs(flowID, dpKey, built); err != nil {
		return nil, err
	}

	return c.renderDesiredFlows(flow, dp, actions, built, cb)
}

func (c *Compiler) registerMatchRefs(flowID sbdb.UUID, e exprlang.Expr) {
	counts := make(map[reftrack.Symbol]int)
	exprlang.Walk(e, func(n exprlang.Expr) {
		switch t := n.(type) {
		case *exprlang.SetRef:
			counts[reftrack.Symbol{Kind: reftrack.KindAddressSet, Name: t.Name}]++
		case *exprlang.PortGroupRef:
			counts[reftrack.Symbol{Kind: reftrack.KindPortGroup, Name: t.Name}]++
		case *exprlang.MulticastRef:
			counts[reftrack.Symbol{Kind: reftrack.KindMulticastGrp, Name: t.Name}]++
		}
	})
	for sym, n := range counts {
		c.Refs.Add(string(flowID), sym, n)
	}
}

// chassisBool is a sentinel atom used to mark a resolved
// is_chassis_resident() call: field "__chassis_true__" is always
// satisfied and stripped before rendering; "__chassis_false__" marks its
// whole clause unsatisfiable.
const (
	chassisTrueField  = "__chassis_true__"
	chassisFalseField = "__chassis_false__"
)

func (c *Compiler) resolveChassisResident(flowID sbdb.UUID, e exprlang.Expr, cb Callbacks) (exprlang.Expr, bool) {
	portCounts := make(map[string]int)
	exprlang.Walk(e, func(n exprlang.Expr) {
		if cr, ok := n.(*exprlang.ChassisResident); ok {
			portCounts[cr.Port]++
		}
	})
	for port, n := range portCounts {
		c.Refs.Add(string(flowID), reftrack.Symbol{Kind: reftrack.KindPortBinding, Name: port}, n)
	}

	var sawFalse bool
	resolved := rewriteExpr(e, func(n exprlang.Expr) exprlang.Expr {
		cr, ok := n.(*exprlang.ChassisResident)
		if !ok {
			return n
		}

		resident := false
		if cb.IsChassisResident != nil {
			r, known := cb.IsChassisResident(cr.Port)
			resident = known && r
		}
		if resident {
			return &exprlang.Cmp{Field: chassisTrueField, Op: exprlang.OpEq, Value: "1"}
		}
		sawFalse = true
		return &exprlang.Cmp{Field: chassisFalseField, Op: exprlang.OpEq, Value: "1"}
	})
	return resolved, sawFalse
}

// rewriteExpr rebuilds e, replacing leaf atoms via fn; And/Or/Not nodes
// are reconstructed around the rewritten children.
func rewriteExpr(e exprlang.Expr, fn func(exprlang.Expr) exprlang.Expr) exprlang.Expr {
	switch n := e.(type) {
	case *exprlang.And:
		terms := make([]exprlang.Expr, len(n.Terms))
		for i, t := range n.Terms {
			terms[i] = rewriteExpr(t, fn)
		}
		return &exprlang.And{Terms: terms}
	case *exprlang.Or:
		terms := make([]exprlang.Expr, len(n.Terms))
		for i, t := range n.Terms {
			terms[i] = rewriteExpr(t, fn)
		}
		return &exprlang.Or{Terms: terms}
	case *exprlang.Not:
		return &exprlang.Not{Term: rewriteExpr(n.Term, fn)}
	default:
		return fn(e)
	}
}

// filterContradictions drops clauses containing a chassisFalseField atom
// and strips chassisTrueField atoms from the survivors.
func filterContradictions(clauses []*exprlang.And) []*exprlang.And {
	out := make([]*exprlang.And, 0, len(clauses))
	for _, cl := range clauses {
		dead := false
		var terms []exprlang.Expr
		for _, t := range cl.Terms {
			if cmp, ok := t.(*exprlang.Cmp); ok {
				switch cmp.Field {
				case chassisFalseField:
					dead = true
				case chassisTrueField:
					continue
				}
			}
			terms = append(terms, t)
		}
		if dead {
			continue
		}
		out = append(out, &exprlang.And{Terms: terms})
	}
	return out
}


func (c *Compiler) buildMatches(flowID sbdb.UUID, dpKey string, clauses []*exprlang.And, cb Callbacks) ([]lflowcache.Match, error) {
	var out []lflowcache.Match

	for _, cl := range clauses {
		var atoms []exprlang.Expr
		var dimFields []string
		var dims [][]string
		var asNames []string

		for _, t := range cl.Terms {
			switch n := t.(type) {
			case *exprlang.SetRef:
				members, ok := cb.AddressSetMembers(n.Name)
				if !ok {
					return nil, &CompileError{FlowID: flowID, Stage: "address_set", Err: fmt.Errorf("unknown address set %q", n.Name)}
				}
				dimFields = append(dimFields, n.Field)
				dims = append(dims, members)
				asNames = append(asNames, n.Name)
			case *exprlang.PortGroupRef:
				members, ok := cb.PortGroupMembers(n.Name)
				if !ok {
					return nil, &CompileError{FlowID: flowID, Stage: "port_group", Err: fmt.Errorf("unknown port group %q", n.Name)}
				}
				dimFields = append(dimFields, "inport")
				dims = append(dims, members)
				asNames = append(asNames, "")
			case *exprlang.MulticastRef:
				members, ok := cb.MulticastMembers(n.Name)
				if !ok {
					return nil, &CompileError{FlowID: flowID, Stage: "multicast_group", Err: fmt.Errorf("unknown multicast group %q", n.Name)}
				}
				dimFields = append(dimFields, n.Field)
				dims = append(dims, members)
				asNames = append(asNames, "")
			default:
				atoms = append(atoms, t)
			}
		}

		switch len(dims) {
		case 0:
			out = append(out, lflowcache.Match{Expr: &exprlang.And{Terms: atoms}})

		case 1:
			// Single disjunction: expand directly into one match per
			// member, no conjunction needed (spec.md worked example 2).
			for _, v := range dims[0] {
				terms := append(append([]exprlang.Expr{}, atoms...), &exprlang.Cmp{Field: dimFields[0], Op: exprlang.OpEq, Value: v})
				out = append(out, lflowcache.Match{
					Expr:   &exprlang.And{Terms: terms},
					ASName: asNames[0],
					ASIP:   v,
					ASMask: "/32",
				})
			}

		default:
			// Cross-dimension cartesian: use a conjunction instead of
			// enumerating the full product (spec.md worked example 3).
			// One match per member per dimension, each tagged with a
			// clause descriptor; plus a single join match carrying the
			// clause's other atoms, completed once conjunction ids are
			// bound (bindConjIDs fills in the join's ConjDescriptors
			// with the allocated base so the caller can emit the
			// conj_id= match).
			n := len(dims)
			for i, members := range dims {
				for _, v := range members {
					out = append(out, lflowcache.Match{
						Expr:            &exprlang.Cmp{Field: dimFields[i], Op: exprlang.OpEq, Value: v},
						ConjDescriptors: []lflowcache.ConjDescriptor{{Clause: i, NumClauses: n}},
					})
				}
			}
			out = append(out, lflowcache.Match{
				Expr:            &exprlang.And{Terms: atoms},
				ConjDescriptors: []lflowcache.ConjDescriptor{{NumClauses: n, Join: true}},
			})
		}
	}

	return out, nil
}

// bindConjIDs allocates one conjunction id per conjunction group in
// matches (each multi-dimension clause buildMatches expanded, closed by
// that clause's join match) as one consecutive range keyed by (flow,
// datapath), and stamps each group's id into its matches' descriptors,
// leaving the already 0-indexed Clause/NumClauses pair untouched.
func (c *Compiler) bindConjIDs(flowID sbdb.UUID, dpKey string, matches []lflowcache.Match) error {
	n := 0
	for _, m := range matches {
		for _, d := range m.ConjDescriptors {
			if d.Join {
				n++
			}
		}
	}
	if n == 0 {
		return nil
	}

	st, err := c.Conj.Alloc(conjid.Key{FlowID: string(flowID), DatapathID: dpKey}, uint32(n))
	if err != nil {
		return &CompileError{FlowID: flowID, Stage: "conjid_alloc", Err: err}
	}

	g := uint32(0)
	for i := range matches {
		for j := range matches[i].ConjDescriptors {
			matches[i].ConjDescriptors[j].ID = st.First + g
			if matches[i].ConjDescriptors[j].Join {
				g++
			}
		}
	}
	return nil
}

func (c *Compiler) renderDesiredFlows(flow sbdb.LogicalFlow, dp sbdb.Datapath, actions *actionlang.Buffer, matches []lflowcache.Match, cb Callbacks) ([]DesiredFlow, error) {
	table, ok := c.lookupTable(flow)
	if !ok {
		return nil, &CompileError{FlowID: flow.UUID, Stage: "table_map", Err: fmt.Errorf("no physical table for logical table %d", flow.Table)}
	}

	var actionStr string
	if cb.EncodeActions != nil {
		s, err := cb.EncodeActions(actions, flow.Table, flow.UUID)
		if err != nil {
			return nil, &CompileError{FlowID: flow.UUID, Stage: "encode_actions", Err: err}
		}
		actionStr = s
	} else {
		actionStr = renderActions(actions)
	}
	cookie := cookieFromUUID(flow.UUID)

	var out []DesiredFlow
	for _, m := range matches {
		matchStr := renderMatch(dp, m)
		flowActions := actionStr
		isConj := false
		if len(m.ConjDescriptors) > 0 {
			if id, ok := joinConjID(m.ConjDescriptors); ok {
				// Join match: real actions, gated on conj_id, installed
				// on its own (table, priority, match) so it never needs
				// add_or_append_flow's clause-merge semantics.
				matchStr = matchStr + fmt.Sprintf(" && conj_id==%d", id)
			} else {
				isConj = true
				var parts []string
				for _, d := range m.ConjDescriptors {
					parts = append(parts, fmt.Sprintf("conjunction(%d,%d/%d)", d.ID, d.Clause, d.NumClauses))
				}
				flowActions = strings.Join(parts, "; ")
			}
		}
		out = append(out, DesiredFlow{
			Table:       table,
			Priority:    flow.Priority,
			Match:       matchStr,
			Actions:     flowActions,
			Cookie:      cookie,
			Owner:       flow.UUID,
			ASName:      m.ASName,
			ASIP:        m.ASIP,
			ASMask:      m.ASMask,
			Conjunction: isConj,
		})
	}
	return out, nil
}

// joinConjID reports whether ds carries the join descriptor (spec.md
// section 4.3 step 8's real-action flow for a cross-dimension
// conjunction) and, if so, its bound conjunction id.
func joinConjID(ds []lflowcache.ConjDescriptor) (uint32, bool) {
	for _, d := range ds {
		if d.Join {
			return d.ID, true
		}
	}
	return 0, false
}

func (c *Compiler) lookupTable(flow sbdb.LogicalFlow) (uint8, bool) {
	base := ofp.TableLogIngressPipeline
	if flow.Direction == sbdb.DirectionEgress {
		base = ofp.TableLogEgressPipeline
	}
	baseNum, ok := c.Tables.Lookup(base)
	if !ok {
		return 0, false
	}
	return baseNum + uint8(flow.Table), true
}

func renderMatch(dp sbdb.Datapath, m lflowcache.Match) string {
	metadata := fmt.Sprintf("%s=0x%x", ofp.MFFMetadata, dp.TunnelKey)
	return metadata + " && " + exprlang.String(m.Expr)
}

func renderActions(buf *actionlang.Buffer) string {
	var parts []string
	for _, a := range buf.Actions {
		switch act := a.(type) {
		case actionlang.Next:
			parts = append(parts, "resubmit(next)")
		case actionlang.Drop:
			parts = append(parts, "drop")
		case actionlang.Output:
			parts = append(parts, "output")
		case actionlang.Resubmit:
			parts = append(parts, fmt.Sprintf("resubmit(%d)", act.Table))
		case actionlang.Conjunction:
			parts = append(parts, fmt.Sprintf("conjunction(%d,%d/%d)", act.ID, act.Clause, act.NumClauses))
		case actionlang.Load:
			parts = append(parts, fmt.Sprintf("load:%s->%s", act.Value, act.Dst))
		case actionlang.Move:
			parts = append(parts, fmt.Sprintf("move:%s->%s", act.Src, act.Dst))
		case actionlang.SetField:
			parts = append(parts, fmt.Sprintf("set_field:%s->%s", act.Value, act.Dst))
		case actionlang.CTNext:
			parts = append(parts, "ct(next)")
		case actionlang.CTCommit:
			parts = append(parts, "ct(commit)")
		case actionlang.CTLBNat:
			parts = append(parts, fmt.Sprintf("ct(commit,nat(dst=%s))", act.Target))
		case actionlang.CTSNat:
			parts = append(parts, fmt.Sprintf("ct(commit,nat(src=%s))", act.Target))
		case actionlang.SetMeter:
			parts = append(parts, fmt.Sprintf("set_meter(%s)", act.Name))
		case actionlang.Learn:
			parts = append(parts, fmt.Sprintf("learn(%s,%s)", act.Table, strings.Join(act.Specs, ",")))
		}
	}
	return strings.Join(parts, "; ")
}

// cookieFromUUID derives the low 32 bits of the owning flow id. Real OVN
// flow ids are 128-bit UUIDs whose low word is used directly; LPFT's
// domain model stores ids as opaque strings (spec.md puts no format
// requirement on the id beyond uniqueness), so the low 32 bits are taken
// from an FNV-1a hash instead. Collisions only affect cookie-based
// flow aging, never correctness, since DesiredFlow identity is
// (table, priority, match).
func cookieFromUUID(id sbdb.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}

