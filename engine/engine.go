// Package engine implements the Lflow-Engine from spec.md section 4.6
// and 4.7: the tick-driven orchestrator that runs the Expr-Compiler
// (exprcompile) and Action-Encoder (actionencode) over every logical
// flow, in full-recompute or incremental mode, and hands the resulting
// desired flows to the flow sink (ofswitch.Sink).
package engine

import (
	"fmt"

	"github.com/sdnforge/lpft/actionencode"
	"github.com/sdnforge/lpft/actionlang"
	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/exprcompile"
	"github.com/sdnforge/lpft/lbhairpin"
	"github.com/sdnforge/lpft/lflowcache"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/ofswitch"
	"github.com/sdnforge/lpft/reftrack"
	"github.com/sdnforge/lpft/sbdb"
)

// Config holds the engine's fixed configuration. The engine runs the
// Load-Balancer Hairpin Generator (lbhairpin) itself on every LB change;
// the port-security generator (portsec) is driven through
// OnPortSecurityChanged instead, since unlike a load balancer a port
// binding's local/remote status depends on chassis residency the
// generator has no other way to learn (spec.md section 5's ordering:
// "... port-binding changes -> multicast-group changes -> LB changes ->
// FDB changes -> MAC-binding changes").
type Config struct {
	Tables           ofp.TableMap
	ChassisName      string
	CacheBudgetBytes int
	MeterCapacity    int

	// PortOfPort, TunnelOfPort, and GroupID feed actionencode.Env; all
	// three are optional collaborators the engine does not implement
	// itself (OpenFlow port/group numbering is owned by the OVS
	// connection, out of LPFT's scope per spec.md section 1).
	PortOfPort   func(logicalPort string) (ofPort uint32, ok bool)
	TunnelOfPort func(chassis string) (ofPort uint32, ok bool)
	GroupID      func(name string) (groupID uint32, ok bool)

	// OnPortSecurityChanged, if set, is called whenever a local port
	// binding changes, so the port-security generator (spec.md section
	// 4.9) can replay its rules for that port (section 4.7, "Port
	// residency change").
	OnPortSecurityChanged func(sbdb.PortBinding) error
	// OnLoadBalancerChanged, if set, is called for every tracked
	// Load_Balancer change after the engine's own hairpin generator
	// (spec.md section 4.8) has already replayed that LB's rules; it
	// exists for collaborators outside LPFT's scope, such as the OVS
	// connection reprogramming the LB's group table.
	OnLoadBalancerChanged func(sbdb.LoadBalancer) error
	OnFdbChanged          func(sbdb.Fdb) error
	OnMacBindingChanged   func(sbdb.MacBinding) error
	OnStaticMacBindingChanged func(sbdb.StaticMacBinding) error

	// Warn reports a rate-limited diagnostic; nil is a valid no-op.
	Warn func(format string, args ...interface{})
}

type mcastKey struct {
	name string
	dp   sbdb.UUID
}

// Engine is the single-threaded cooperative orchestrator described in
// spec.md section 5: all state below is only ever touched from the
// caller's Tick/Recompute goroutine, never concurrently.
type Engine struct {
	store sbdb.Store
	sink  ofswitch.Sink
	cfg   Config

	compiler *exprcompile.Compiler
	refs     *reftrack.Table
	conj     *conjid.Allocator
	cache    *lflowcache.Cache
	meters   *actionencode.MeterTable

	// hairpinIDs is the hairpin-LB id pool from spec.md section 5's
	// shared-resource list, a dedicated allocator separate from conj:
	// hairpin allocations never take ids from or return ids to conj's
	// pool, though both pools number from 1 and can hand out equal ids.
	hairpinIDs *conjid.Allocator
	hairpin    *lbhairpin.Generator

	flows       map[sbdb.UUID]sbdb.LogicalFlow
	dpGroups    map[sbdb.UUID]sbdb.LogicalDatapathGroup
	datapaths   map[sbdb.UUID]sbdb.Datapath
	ports       map[string]sbdb.PortBinding
	portsByUUID map[sbdb.UUID]sbdb.PortBinding
	addrSets    map[string]sbdb.AddressSet
	portGroups  map[string]sbdb.PortGroup
	mcast       map[mcastKey]sbdb.MulticastGroup
	lbs         map[sbdb.UUID]sbdb.LoadBalancer

	localDatapaths map[sbdb.UUID]bool

	processed map[sbdb.UUID]bool
}

// New returns an Engine reading from store and writing to sink.
func New(store sbdb.Store, sink ofswitch.Sink, cfg Config) *Engine {
	e := &Engine{
		store: store,
		sink:  sink,
		cfg:   cfg,
	}
	e.resetCompileState()
	return e
}

func (e *Engine) resetCompileState() {
	e.refs = reftrack.New()
	e.conj = conjid.New()
	e.cache = lflowcache.New(e.cfg.CacheBudgetBytes)
	if e.meters == nil {
		e.meters = actionencode.NewMeterTable(e.cfg.MeterCapacity)
	}
	e.compiler = exprcompile.New(e.cfg.Tables, e.refs, e.conj, e.cache)
	e.hairpinIDs = conjid.New()
	e.hairpin = lbhairpin.New(e.cfg.Tables, e.hairpinIDs)
	e.hairpin.Meters = e.meters

	e.flows = make(map[sbdb.UUID]sbdb.LogicalFlow)
	e.dpGroups = make(map[sbdb.UUID]sbdb.LogicalDatapathGroup)
	e.datapaths = make(map[sbdb.UUID]sbdb.Datapath)
	e.ports = make(map[string]sbdb.PortBinding)
	e.portsByUUID = make(map[sbdb.UUID]sbdb.PortBinding)
	e.addrSets = make(map[string]sbdb.AddressSet)
	e.portGroups = make(map[string]sbdb.PortGroup)
	e.mcast = make(map[mcastKey]sbdb.MulticastGroup)
	e.lbs = make(map[sbdb.UUID]sbdb.LoadBalancer)
	e.localDatapaths = make(map[sbdb.UUID]bool)
	e.processed = make(map[sbdb.UUID]bool)
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.cfg.Warn != nil {
		e.cfg.Warn(format, args...)
	}
}

// Recompute runs a full recomputation (spec.md section 4.6): every
// index is rebuilt from the store, every logical flow is compiled once.
func (e *Engine) Recompute() error {
	e.resetCompileState()

	// The full scans below already see every change pending now; consume
	// them so the next Tick handles only changes made after this point.
	_ = e.store.ForEachTrackedLogicalFlow(func(sbdb.Change[sbdb.LogicalFlow]) error { return nil })
	_ = e.store.ForEachTrackedLogicalDatapathGroup(func(sbdb.Change[sbdb.LogicalDatapathGroup]) error { return nil })
	_ = e.store.ForEachTrackedDatapath(func(sbdb.Change[sbdb.Datapath]) error { return nil })
	_ = e.store.ForEachTrackedPortBinding(func(sbdb.Change[sbdb.PortBinding]) error { return nil })
	_ = e.store.ForEachTrackedAddressSet(func(sbdb.Change[sbdb.AddressSet]) error { return nil })
	_ = e.store.ForEachTrackedPortGroup(func(sbdb.Change[sbdb.PortGroup]) error { return nil })
	_ = e.store.ForEachTrackedMulticastGroup(func(sbdb.Change[sbdb.MulticastGroup]) error { return nil })
	_ = e.store.ForEachTrackedLoadBalancer(func(sbdb.Change[sbdb.LoadBalancer]) error { return nil })
	_ = e.store.ForEachTrackedMacBinding(func(sbdb.Change[sbdb.MacBinding]) error { return nil })
	_ = e.store.ForEachTrackedStaticMacBinding(func(sbdb.Change[sbdb.StaticMacBinding]) error { return nil })
	_ = e.store.ForEachTrackedFdb(func(sbdb.Change[sbdb.Fdb]) error { return nil })

	if err := e.store.ForEachDatapath(func(d sbdb.Datapath) error {
		e.datapaths[d.UUID] = d
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load datapaths: %w", err)
	}
	if err := e.store.ForEachLogicalDatapathGroup(func(g sbdb.LogicalDatapathGroup) error {
		e.dpGroups[g.UUID] = g
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load datapath groups: %w", err)
	}
	if err := e.store.ForEachPortBinding(func(p sbdb.PortBinding) error {
		e.ports[p.Name] = p
		e.portsByUUID[p.UUID] = p
		if p.Chassis == e.cfg.ChassisName {
			e.localDatapaths[p.Datapath] = true
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load port bindings: %w", err)
	}
	if err := e.store.ForEachAddressSet(func(a sbdb.AddressSet) error {
		e.addrSets[a.Name] = a
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load address sets: %w", err)
	}
	if err := e.store.ForEachPortGroup(func(g sbdb.PortGroup) error {
		e.portGroups[g.Name] = g
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load port groups: %w", err)
	}
	if err := e.store.ForEachMulticastGroup(func(g sbdb.MulticastGroup) error {
		e.mcast[mcastKey{name: g.Name, dp: g.Datapath}] = g
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load multicast groups: %w", err)
	}
	if err := e.store.ForEachLoadBalancer(func(lb sbdb.LoadBalancer) error {
		e.lbs[lb.UUID] = lb
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load load balancers: %w", err)
	}
	if err := e.store.ForEachLogicalFlow(func(lf sbdb.LogicalFlow) error {
		e.flows[lf.UUID] = lf
		return nil
	}); err != nil {
		return fmt.Errorf("engine: recompute: load logical flows: %w", err)
	}

	for id := range e.flows {
		e.compileOne(id)
	}
	for _, lb := range e.lbs {
		e.compileHairpin(lb)
	}
	return nil
}

// Tick drains one batch of tracked upstream changes and applies the
// ordered incremental protocols of spec.md section 4.7. If any handler
// cannot be satisfied incrementally, Tick falls back to a full
// Recompute for the remainder of the batch (spec.md section 5, step c).
func (e *Engine) Tick() error {
	e.processed = make(map[sbdb.UUID]bool)
	fallback := false

	if err := e.handleLogicalFlowChanges(); err != nil {
		return err
	}

	if err := e.store.ForEachTrackedAddressSet(func(c sbdb.Change[sbdb.AddressSet]) error {
		if fallback {
			return nil
		}
		if !e.handleAddressSetChange(c) {
			fallback = true
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: address sets: %w", err)
	}

	if err := e.store.ForEachTrackedPortGroup(func(c sbdb.Change[sbdb.PortGroup]) error {
		e.handleSymbolChange(reftrack.Symbol{Kind: reftrack.KindPortGroup, Name: c.New.Name})
		if c.Kind == sbdb.ChangeDelete {
			for name, g := range e.portGroups {
				if g.UUID == c.UUID {
					delete(e.portGroups, name)
				}
			}
		} else {
			e.portGroups[c.New.Name] = c.New
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: port groups: %w", err)
	}

	if err := e.store.ForEachTrackedPortBinding(func(c sbdb.Change[sbdb.PortBinding]) error {
		e.handlePortBindingChange(c)
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: port bindings: %w", err)
	}

	if err := e.store.ForEachTrackedMulticastGroup(func(c sbdb.Change[sbdb.MulticastGroup]) error {
		e.handleSymbolChange(reftrack.Symbol{Kind: reftrack.KindMulticastGrp, Name: c.New.Name})
		if c.Kind == sbdb.ChangeDelete {
			for k, g := range e.mcast {
				if g.UUID == c.UUID {
					delete(e.mcast, k)
				}
			}
		} else {
			e.mcast[mcastKey{name: c.New.Name, dp: c.New.Datapath}] = c.New
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: multicast groups: %w", err)
	}

	if err := e.store.ForEachTrackedLoadBalancer(func(c sbdb.Change[sbdb.LoadBalancer]) error {
		e.sink.RemoveFlows(string(c.UUID))
		if c.Kind == sbdb.ChangeDelete {
			delete(e.lbs, c.UUID)
		} else {
			e.lbs[c.UUID] = c.New
			e.compileHairpin(c.New)
		}
		if e.cfg.OnLoadBalancerChanged != nil {
			return e.cfg.OnLoadBalancerChanged(c.New)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: load balancers: %w", err)
	}

	if err := e.store.ForEachTrackedFdb(func(c sbdb.Change[sbdb.Fdb]) error {
		if e.cfg.OnFdbChanged != nil {
			return e.cfg.OnFdbChanged(c.New)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: fdb: %w", err)
	}

	if err := e.store.ForEachTrackedMacBinding(func(c sbdb.Change[sbdb.MacBinding]) error {
		if e.cfg.OnMacBindingChanged != nil {
			return e.cfg.OnMacBindingChanged(c.New)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: mac binding: %w", err)
	}
	if err := e.store.ForEachTrackedStaticMacBinding(func(c sbdb.Change[sbdb.StaticMacBinding]) error {
		if e.cfg.OnStaticMacBindingChanged != nil {
			return e.cfg.OnStaticMacBindingChanged(c.New)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: static mac binding: %w", err)
	}

	if fallback {
		return e.Recompute()
	}
	return nil
}

// handleLogicalFlowChanges implements spec.md section 4.7's "Changed
// logical flows": flood-remove every tracked id, then recompile every
// id whose row still exists.
func (e *Engine) handleLogicalFlowChanges() error {
	var ids []string
	updates := make(map[sbdb.UUID]sbdb.LogicalFlow)

	if err := e.store.ForEachTrackedLogicalFlow(func(c sbdb.Change[sbdb.LogicalFlow]) error {
		ids = append(ids, string(c.UUID))
		if c.Kind == sbdb.ChangeDelete {
			delete(e.flows, c.UUID)
		} else {
			e.flows[c.UUID] = c.New
			updates[c.UUID] = c.New
		}
		return nil
	}); err != nil {
		return fmt.Errorf("engine: tick: logical flows: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	e.floodRemove(ids)
	for _, idStr := range ids {
		id := sbdb.UUID(idStr)
		if _, stillExists := e.flows[id]; !stillExists {
			continue
		}
		e.cache.Invalidate(idStr)
		e.refs.RemoveAllForFlow(idStr)
		e.conj.FreeForFlow(idStr)
		delete(e.processed, id)
		e.compileOne(id)
	}
	return nil
}

// floodRemove implements spec.md section 4.7's flood-remove protocol.
func (e *Engine) floodRemove(ids []string) []string {
	return e.sink.FloodRemoveFlows(ids)
}

// handleSymbolChange implements the generic "Changed symbol" protocol
// (spec.md section 4.7): flood-remove every referring flow not already
// processed this tick, and recompile it.
func (e *Engine) handleSymbolChange(sym reftrack.Symbol) {
	referrers := e.refs.LookupBySymbol(sym)
	var ids []string
	for flowID := range referrers {
		if e.processed[sbdb.UUID(flowID)] {
			continue
		}
		ids = append(ids, flowID)
	}
	if len(ids) == 0 {
		return
	}
	recompilable := e.floodRemove(ids)
	for _, idStr := range recompilable {
		id := sbdb.UUID(idStr)
		if _, stillExists := e.flows[id]; !stillExists {
			continue
		}
		e.cache.Invalidate(idStr)
		e.refs.RemoveAllForFlow(idStr)
		e.conj.FreeForFlow(idStr)
		e.compileOne(id)
	}
}

// handlePortBindingChange applies the "changed symbol" protocol for a
// PortBinding plus its two extra behaviors: port-security replay for a
// locally-bound port (section 4.9), and datapath activation when the
// changed port is the first local one seen for its datapath (section
// 4.7, "Datapath activation").
func (e *Engine) handlePortBindingChange(c sbdb.Change[sbdb.PortBinding]) {
	var name string
	if c.Kind == sbdb.ChangeDelete {
		if old, ok := e.portsByUUID[c.UUID]; ok {
			name = old.Name
			delete(e.ports, old.Name)
		}
		delete(e.portsByUUID, c.UUID)
	} else {
		name = c.New.Name
		e.ports[name] = c.New
		e.portsByUUID[c.UUID] = c.New
	}
	if name != "" {
		e.handleSymbolChange(reftrack.Symbol{Kind: reftrack.KindPortBinding, Name: name})
	}

	if c.Kind == sbdb.ChangeDelete {
		return
	}
	if c.New.Chassis != e.cfg.ChassisName {
		return
	}

	wasLocal := e.localDatapaths[c.New.Datapath]
	e.localDatapaths[c.New.Datapath] = true
	if !wasLocal {
		e.activateDatapath(c.New.Datapath)
	}

	if e.cfg.OnPortSecurityChanged != nil {
		if err := e.cfg.OnPortSecurityChanged(c.New); err != nil {
			e.warn("engine: port security replay for %s: %v", c.New.Name, err)
		}
	}
}

// activateDatapath implements spec.md section 4.7's "Datapath
// activation": compile every flow bound to dp directly or through a
// group containing dp, each exactly once this tick.
func (e *Engine) activateDatapath(dp sbdb.UUID) {
	for id, lf := range e.flows {
		if e.processed[id] {
			continue
		}
		if lf.Datapath == dp {
			e.compileOne(id)
			continue
		}
		if lf.HasDatapathGroup() {
			if g, ok := e.dpGroups[lf.DatapathGroup]; ok {
				for _, member := range g.Datapaths {
					if member == dp {
						e.compileOne(id)
						break
					}
				}
			}
		}
	}
}

// handleAddressSetChange applies spec.md section 4.7's address-set
// delta optimisation when the change is small relative to the set's new
// size, else falls back to the generic changed-symbol protocol. It
// returns false when the change could not be handled at all incrementally
// (the predicate check itself never fails -- only an unexpected sink
// response does -- so today this always returns true; the return value
// exists so Tick's "if any handler declined, fall back" wiring (section
// 5) has a real signal to act on once finer per-address failures are
// plumbed through).
func (e *Engine) handleAddressSetChange(c sbdb.Change[sbdb.AddressSet]) bool {
	old, hadOld := e.addrSets[c.New.Name]
	if c.Kind == sbdb.ChangeInsert {
		hadOld = false
	}
	name := c.New.Name
	if c.Kind == sbdb.ChangeDelete {
		for n, a := range e.addrSets {
			if a.UUID == c.UUID {
				name = n
				old = a
				hadOld = true
			}
		}
	}

	var newAddrs []string
	if c.Kind != sbdb.ChangeDelete {
		newAddrs = c.New.Addresses
		e.addrSets[name] = c.New
	} else {
		delete(e.addrSets, name)
	}

	added, deleted := diffStrings(old.Addresses, newAddrs)
	oldSize, newSize := len(old.Addresses), len(newAddrs)
	canDelta := hadOld && c.Kind != sbdb.ChangeDelete &&
		oldSize > 1 && newSize > 1 && (len(added)+len(deleted)) < newSize

	sym := reftrack.Symbol{Kind: reftrack.KindAddressSet, Name: name}
	if !canDelta {
		e.handleSymbolChange(sym)
		return true
	}

	referrers := e.refs.LookupBySymbol(sym)
	for flowID := range referrers {
		id := sbdb.UUID(flowID)
		if e.processed[id] {
			continue
		}
		refCount := referrers[flowID]
		ok := true
		for _, addr := range deleted {
			if !e.sink.RemoveFlowsForASIP(flowID, ofswitch.ASInfo{Name: name, IP: addr, Mask: "/32"}, refCount) {
				ok = false
				break
			}
		}
		if !ok {
			// Structural assumption failed: fall back to a full
			// recompile of just this referrer (section 4.7).
			e.floodRemove([]string{flowID})
			e.cache.Invalidate(flowID)
			e.refs.RemoveAllForFlow(flowID)
			e.conj.FreeForFlow(flowID)
			e.compileOne(id)
			continue
		}
		if len(added) > 0 {
			// The full fake-address-set substitution trick (recompile
			// just the match-generation path against a synthetic set
			// containing only the added members) needs a seam into
			// exprcompile's internal clause builder that is not
			// exposed publicly; as a conservative stand-in this
			// recompiles the whole referrer, which is always correct,
			// just not as cheap as the in-place per-address variant
			// spec.md describes.
			e.cache.Invalidate(flowID)
			e.compileOne(id)
		}
	}
	return true
}

func diffStrings(old, latest []string) (added, deleted []string) {
	oldSet := make(map[string]bool, len(old))
	for _, a := range old {
		oldSet[a] = true
	}
	newSet := make(map[string]bool, len(latest))
	for _, a := range latest {
		newSet[a] = true
	}
	for _, a := range latest {
		if !oldSet[a] {
			added = append(added, a)
		}
	}
	for _, a := range old {
		if !newSet[a] {
			deleted = append(deleted, a)
		}
	}
	return added, deleted
}

// compileOne compiles flow id against every datapath it reaches (direct
// or via a datapath group) that the engine has a row for, and emits the
// result to the sink, marking id processed either way (spec.md section
// 4.6). It does not check whether a datapath has a locally bound port;
// the only locality check is Compile's in/outport filter.
func (e *Engine) compileOne(id sbdb.UUID) {
	e.processed[id] = true
	lf, ok := e.flows[id]
	if !ok {
		return
	}

	var dps []sbdb.Datapath
	if lf.HasDatapathGroup() {
		g, ok := e.dpGroups[lf.DatapathGroup]
		if !ok {
			return
		}
		for _, dpID := range g.Datapaths {
			if dp, ok := e.datapaths[dpID]; ok {
				dps = append(dps, dp)
			}
		}
	} else if dp, ok := e.datapaths[lf.Datapath]; ok {
		dps = append(dps, dp)
	}

	for _, dp := range dps {
		e.compileForDatapath(lf, dp)
	}
}

func (e *Engine) compileForDatapath(lf sbdb.LogicalFlow, dp sbdb.Datapath) {
	cb := e.buildCallbacks(lf, dp)
	out, err := e.compiler.Compile(lf, dp, cb)
	if err != nil {
		e.warn("engine: compile flow %s: %v", lf.UUID, err)
		return
	}
	for _, df := range out {
		var emitErr error
		switch {
		case df.Conjunction:
			emitErr = e.sink.AddOrAppendFlow(df)
		case lf.ControllerMeter != "":
			emitErr = e.sink.AddFlowMetered(df)
		default:
			emitErr = e.sink.AddFlow(df)
		}
		if emitErr != nil {
			e.warn("engine: emit flow for %s: %v", lf.UUID, emitErr)
		}
	}
}

// compileHairpin runs the Load-Balancer Hairpin Generator (spec.md
// section 4.8) for lb and emits its flows to the sink.
func (e *Engine) compileHairpin(lb sbdb.LoadBalancer) {
	out, err := e.hairpin.Generate(lb, e.datapaths)
	if err != nil {
		e.warn("engine: hairpin generate for %s: %v", lb.Name, err)
		return
	}
	for _, df := range out {
		var emitErr error
		if df.Conjunction {
			emitErr = e.sink.AddOrAppendFlow(df)
		} else {
			emitErr = e.sink.AddFlow(df)
		}
		if emitErr != nil {
			e.warn("engine: emit hairpin flow for %s: %v", lb.Name, emitErr)
		}
	}
}

func (e *Engine) buildCallbacks(lf sbdb.LogicalFlow, dp sbdb.Datapath) exprcompile.Callbacks {
	zone, _ := dp.SNATCTZone()
	env := actionencode.Env{
		Tables:          e.cfg.Tables,
		PortOfPort:      e.cfg.PortOfPort,
		TunnelOfPort:    e.cfg.TunnelOfPort,
		GroupID:         e.cfg.GroupID,
		Meters:          e.meters,
		CommonNATCTZone: zone,
		Warn:            e.cfg.Warn,
	}

	return exprcompile.Callbacks{
		IsChassisResident: e.isChassisResident,
		AddressSetMembers: func(name string) ([]string, bool) {
			a, ok := e.addrSets[name]
			if !ok {
				return nil, false
			}
			return a.Addresses, true
		},
		PortGroupMembers: func(name string) ([]string, bool) {
			g, ok := e.portGroups[name]
			if !ok {
				return nil, false
			}
			return g.Ports, true
		},
		MulticastMembers: func(name string) ([]string, bool) {
			g, ok := e.mcast[mcastKey{name: name, dp: dp.UUID}]
			if !ok {
				return nil, false
			}
			ports := make([]string, len(g.Ports))
			for i, p := range g.Ports {
				ports[i] = string(p)
			}
			return ports, true
		},
		LocalLport: func(dpID sbdb.UUID, portID string) bool {
			pb, ok := e.ports[portID]
			return ok && pb.Datapath == dpID && pb.Chassis == e.cfg.ChassisName
		},
		EncodeActions: func(buf *actionlang.Buffer, logicalTable int, flowID sbdb.UUID) (string, error) {
			return actionencode.Encode(buf, lf.Direction, logicalTable, lf.ControllerMeter, flowID, env)
		},
	}
}

// isChassisResident evaluates is_chassis_resident(port) (spec.md
// section 4.3 step 5): an ordinary port is resident on the chassis it
// is bound to; a chassisredirect port is resident on whichever HA
// chassis group member is currently active.
func (e *Engine) isChassisResident(port string) (resident, known bool) {
	pb, ok := e.ports[port]
	if !ok {
		return false, false
	}
	if pb.Type != sbdb.PortKindChassisRedirect {
		return pb.Chassis == e.cfg.ChassisName, true
	}
	if len(pb.HAGroupActiveTunnels) > 0 {
		return pb.HAGroupActiveTunnels[e.cfg.ChassisName], true
	}
	for _, c := range pb.HAGroupChassis {
		return c == e.cfg.ChassisName, true
	}
	return false, true
}
