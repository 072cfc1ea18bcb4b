// Package ofswitch defines the downstream flow-sink contract from
// spec.md section 6 and a deterministic in-memory implementation,
// memsink, used by the engine's own tests and by cmd/lpft-controller,
// which has no live OpenFlow connection. The real
// wire-protocol sink that diffs desired versus installed flows and
// issues OpenFlow messages is explicitly out of LPFT's scope (spec.md
// section 1); LPFT only ever calls through this interface.
package ofswitch

import "github.com/sdnforge/lpft/exprcompile"

// ASInfo is the address-set provenance tag spec.md section 6 attaches
// to matches generated from a single set member, used by
// RemoveFlowsForASIP's targeted removal path.
type ASInfo struct {
	Name string
	IP   string
	Mask string
}

// Sink is the flow-sink contract (spec.md section 6). It is
// cookie-addressed by the low 32 bits of the owning logical-flow uuid,
// and content-addressed by (table, priority, match): adding the same
// tuple twice collapses to one rule (spec.md section 3, "the flow sink
// is content-addressed: duplicates collapse").
type Sink interface {
	// AddFlow installs f unmetered.
	AddFlow(f exprcompile.DesiredFlow) error
	// AddFlowMetered installs f with its Actions' embedded
	// set_meter(...), if any, honored by the wire writer.
	AddFlowMetered(f exprcompile.DesiredFlow) error
	// AddOrAppendFlow installs f, merging its conjunction clause into
	// an existing rule already present at the same
	// (table, priority, match) rather than replacing it (spec.md
	// section 4.5).
	AddOrAppendFlow(f exprcompile.DesiredFlow) error
	// RemoveFlows deletes every desired flow cookie-tagged with owner.
	RemoveFlows(owner string)
	// RemoveFlowsForASIP deletes owner's desired flows tagged with the
	// given address-set info only when exactly refCount such flows
	// exist, and reports whether it did -- a false return (nothing
	// removed) signals the caller must fall back to full recompilation
	// (spec.md section 4.7's address-set delta path).
	RemoveFlowsForASIP(owner string, info ASInfo, refCount int) bool
	// FloodRemoveFlows deletes every desired flow cookie-tagged with any
	// owner in ids, returning the subset of ids that actually had
	// outputs removed (spec.md section 4.7's flood-remove protocol).
	FloodRemoveFlows(ids []string) []string
}
