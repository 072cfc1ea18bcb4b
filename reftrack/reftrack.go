// Package reftrack implements the Ref-Tracker from spec.md section 4.1:
// a bipartite index between symbols (address sets, port groups,
// multicast groups, port bindings, ...) and the logical flows that
// reference them during compilation.
package reftrack

import "fmt"

// Kind identifies what sort of symbol a ref names.
type Kind string

const (
	KindAddressSet    Kind = "address_set"
	KindPortGroup     Kind = "port_group"
	KindMulticastGrp  Kind = "multicast_group"
	KindPortBinding   Kind = "port_binding"
	KindLoadBalancer  Kind = "load_balancer"
)

// Symbol names one referenceable object.
type Symbol struct {
	Kind Kind
	Name string
}

// Ref is one entry of the by_flow index: a symbol plus how many times
// the owning flow's compiled expression referenced it.
type Ref struct {
	Symbol   Symbol
	RefCount int
}

// Table is the two-keyed index required by spec.md section 4.1:
// by_symbol maps (kind, name) to the set of referring flows, and
// by_flow maps a flow id to the symbols it references. Every mutation
// keeps both sides consistent; a symbol whose referrer set becomes
// empty is purged from by_symbol.
type Table struct {
	bySymbol map[Symbol]map[string]int // symbol -> flow id -> ref count
	byFlow   map[string]map[Symbol]int // flow id -> symbol -> ref count
}

// New returns an empty Table.
func New() *Table {
	return &Table{
		bySymbol: make(map[Symbol]map[string]int),
		byFlow:   make(map[string]map[Symbol]int),
	}
}

// Add records that flowID references sym refCount times, as counted by
// the expression parser over the flow's compiled match. Add is
// idempotent: it sets the stored ref count to refCount rather than
// incrementing it, so recompiling the same flow (once per datapath in
// a datapath group, or on a later tick) never inflates a count past
// what the current match actually contains (spec.md section 4.1).
func (t *Table) Add(flowID string, sym Symbol, refCount int) {
	if t.bySymbol[sym] == nil {
		t.bySymbol[sym] = make(map[string]int)
	}
	t.bySymbol[sym][flowID] = refCount

	if t.byFlow[flowID] == nil {
		t.byFlow[flowID] = make(map[Symbol]int)
	}
	t.byFlow[flowID][sym] = refCount
}

// RemoveAllForFlow drops every ref owned by flowID, purging any symbol
// left with no referrers. Called when a logical flow is recompiled or
// removed (spec.md section 3, "removal cascades to ... clear refs").
func (t *Table) RemoveAllForFlow(flowID string) {
	syms, ok := t.byFlow[flowID]
	if !ok {
		return
	}
	for sym := range syms {
		referrers := t.bySymbol[sym]
		delete(referrers, flowID)
		if len(referrers) == 0 {
			delete(t.bySymbol, sym)
		}
	}
	delete(t.byFlow, flowID)
}

// LookupBySymbol returns the set of flow ids currently referencing sym,
// each paired with its ref count within that flow.
func (t *Table) LookupBySymbol(sym Symbol) map[string]int {
	out := make(map[string]int, len(t.bySymbol[sym]))
	for id, n := range t.bySymbol[sym] {
		out[id] = n
	}
	return out
}

// RefsForFlow returns the symbols flowID currently references.
func (t *Table) RefsForFlow(flowID string) []Ref {
	syms := t.byFlow[flowID]
	out := make([]Ref, 0, len(syms))
	for sym, n := range syms {
		out = append(out, Ref{Symbol: sym, RefCount: n})
	}
	return out
}

// ReferrerCount reports how many distinct flows reference sym. The
// engine's incremental address-set delta path (spec.md section 4.7)
// reads the referrers themselves through LookupBySymbol instead.
func (t *Table) ReferrerCount(sym Symbol) int {
	return len(t.bySymbol[sym])
}

// Invariant is a debug-only consistency check: every by_flow entry must
// have a matching by_symbol entry and vice versa. Not called from
// production code paths; exercised by tests asserting property P3.
func (t *Table) Invariant() error {
	for flowID, syms := range t.byFlow {
		for sym, n := range syms {
			got, ok := t.bySymbol[sym][flowID]
			if !ok || got != n {
				return fmt.Errorf("reftrack: by_flow[%s][%v]=%d has no matching by_symbol entry", flowID, sym, n)
			}
		}
	}
	for sym, flows := range t.bySymbol {
		for flowID, n := range flows {
			got, ok := t.byFlow[flowID][sym]
			if !ok || got != n {
				return fmt.Errorf("reftrack: by_symbol[%v][%s]=%d has no matching by_flow entry", sym, flowID, n)
			}
		}
	}
	return nil
}
