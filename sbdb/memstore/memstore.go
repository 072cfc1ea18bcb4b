// Package memstore is a deterministic, in-memory sbdb.Store used by tests
// and by cmd/lpft-controller when no live OVSDB connection is
// configured. Mutations are queued per table and drained by the matching
// ForEachTracked* call, mirroring how a real OVSDB monitor delivers one
// batch of row updates per poll.
package memstore

import (
	"sort"

	"github.com/sdnforge/lpft/sbdb"
)

// Store is an in-memory sbdb.Store.
type Store struct {
	lflows          map[sbdb.UUID]sbdb.LogicalFlow
	dpGroups        map[sbdb.UUID]sbdb.LogicalDatapathGroup
	datapaths       map[sbdb.UUID]sbdb.Datapath
	ports           map[sbdb.UUID]sbdb.PortBinding
	portByName      map[string]sbdb.UUID
	addrSets        map[sbdb.UUID]sbdb.AddressSet
	addrSetByName   map[string]sbdb.UUID
	portGroups      map[sbdb.UUID]sbdb.PortGroup
	portGroupByName map[string]sbdb.UUID
	mcast           map[sbdb.UUID]sbdb.MulticastGroup
	lbs             map[sbdb.UUID]sbdb.LoadBalancer

	pendingLFlow     []sbdb.Change[sbdb.LogicalFlow]
	pendingDPGroup   []sbdb.Change[sbdb.LogicalDatapathGroup]
	pendingDP        []sbdb.Change[sbdb.Datapath]
	pendingPort      []sbdb.Change[sbdb.PortBinding]
	pendingAddrSet   []sbdb.Change[sbdb.AddressSet]
	pendingPortGroup []sbdb.Change[sbdb.PortGroup]
	pendingMcast     []sbdb.Change[sbdb.MulticastGroup]
	pendingLB        []sbdb.Change[sbdb.LoadBalancer]
	pendingMac       []sbdb.Change[sbdb.MacBinding]
	pendingSMac      []sbdb.Change[sbdb.StaticMacBinding]
	pendingFdb       []sbdb.Change[sbdb.Fdb]
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		lflows:          make(map[sbdb.UUID]sbdb.LogicalFlow),
		dpGroups:        make(map[sbdb.UUID]sbdb.LogicalDatapathGroup),
		datapaths:       make(map[sbdb.UUID]sbdb.Datapath),
		ports:           make(map[sbdb.UUID]sbdb.PortBinding),
		portByName:      make(map[string]sbdb.UUID),
		addrSets:        make(map[sbdb.UUID]sbdb.AddressSet),
		addrSetByName:   make(map[string]sbdb.UUID),
		portGroups:      make(map[sbdb.UUID]sbdb.PortGroup),
		portGroupByName: make(map[string]sbdb.UUID),
		mcast:           make(map[sbdb.UUID]sbdb.MulticastGroup),
		lbs:             make(map[sbdb.UUID]sbdb.LoadBalancer),
	}
}

// PutLogicalFlow inserts or updates a LogicalFlow row and queues the change.
func (s *Store) PutLogicalFlow(lf sbdb.LogicalFlow) {
	_, existed := s.lflows[lf.UUID]
	s.lflows[lf.UUID] = lf

	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingLFlow = append(s.pendingLFlow, sbdb.Change[sbdb.LogicalFlow]{Kind: kind, UUID: lf.UUID, New: lf})
}

// DeleteLogicalFlow removes a LogicalFlow row and queues the deletion.
func (s *Store) DeleteLogicalFlow(id sbdb.UUID) {
	delete(s.lflows, id)
	s.pendingLFlow = append(s.pendingLFlow, sbdb.Change[sbdb.LogicalFlow]{Kind: sbdb.ChangeDelete, UUID: id})
}

// PutDatapathGroup inserts or updates a LogicalDatapathGroup row.
func (s *Store) PutDatapathGroup(g sbdb.LogicalDatapathGroup) {
	_, existed := s.dpGroups[g.UUID]
	s.dpGroups[g.UUID] = g
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingDPGroup = append(s.pendingDPGroup, sbdb.Change[sbdb.LogicalDatapathGroup]{Kind: kind, UUID: g.UUID, New: g})
}

// PutDatapath inserts or updates a Datapath row.
func (s *Store) PutDatapath(d sbdb.Datapath) {
	_, existed := s.datapaths[d.UUID]
	s.datapaths[d.UUID] = d
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingDP = append(s.pendingDP, sbdb.Change[sbdb.Datapath]{Kind: kind, UUID: d.UUID, New: d})
}

// PutPortBinding inserts or updates a PortBinding row.
func (s *Store) PutPortBinding(p sbdb.PortBinding) {
	_, existed := s.ports[p.UUID]
	s.ports[p.UUID] = p
	s.portByName[p.Name] = p.UUID
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingPort = append(s.pendingPort, sbdb.Change[sbdb.PortBinding]{Kind: kind, UUID: p.UUID, New: p})
}

// DeletePortBinding removes a PortBinding row.
func (s *Store) DeletePortBinding(id sbdb.UUID) {
	if p, ok := s.ports[id]; ok {
		delete(s.portByName, p.Name)
	}
	delete(s.ports, id)
	s.pendingPort = append(s.pendingPort, sbdb.Change[sbdb.PortBinding]{Kind: sbdb.ChangeDelete, UUID: id})
}

// PutAddressSet inserts or updates an AddressSet row.
func (s *Store) PutAddressSet(a sbdb.AddressSet) {
	_, existed := s.addrSets[a.UUID]
	s.addrSets[a.UUID] = a
	s.addrSetByName[a.Name] = a.UUID
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingAddrSet = append(s.pendingAddrSet, sbdb.Change[sbdb.AddressSet]{Kind: kind, UUID: a.UUID, New: a})
}

// DeleteAddressSet removes an AddressSet row.
func (s *Store) DeleteAddressSet(id sbdb.UUID) {
	if a, ok := s.addrSets[id]; ok {
		delete(s.addrSetByName, a.Name)
	}
	delete(s.addrSets, id)
	s.pendingAddrSet = append(s.pendingAddrSet, sbdb.Change[sbdb.AddressSet]{Kind: sbdb.ChangeDelete, UUID: id})
}

// PutPortGroup inserts or updates a PortGroup row.
func (s *Store) PutPortGroup(g sbdb.PortGroup) {
	_, existed := s.portGroups[g.UUID]
	s.portGroups[g.UUID] = g
	s.portGroupByName[g.Name] = g.UUID
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingPortGroup = append(s.pendingPortGroup, sbdb.Change[sbdb.PortGroup]{Kind: kind, UUID: g.UUID, New: g})
}

// DeletePortGroup removes a PortGroup row.
func (s *Store) DeletePortGroup(id sbdb.UUID) {
	if g, ok := s.portGroups[id]; ok {
		delete(s.portGroupByName, g.Name)
	}
	delete(s.portGroups, id)
	s.pendingPortGroup = append(s.pendingPortGroup, sbdb.Change[sbdb.PortGroup]{Kind: sbdb.ChangeDelete, UUID: id})
}

// PutMulticastGroup inserts or updates a MulticastGroup row.
func (s *Store) PutMulticastGroup(g sbdb.MulticastGroup) {
	_, existed := s.mcast[g.UUID]
	s.mcast[g.UUID] = g
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingMcast = append(s.pendingMcast, sbdb.Change[sbdb.MulticastGroup]{Kind: kind, UUID: g.UUID, New: g})
}

// PutLoadBalancer inserts or updates a LoadBalancer row.
func (s *Store) PutLoadBalancer(lb sbdb.LoadBalancer) {
	_, existed := s.lbs[lb.UUID]
	s.lbs[lb.UUID] = lb
	kind := sbdb.ChangeInsert
	if existed {
		kind = sbdb.ChangeUpdate
	}
	s.pendingLB = append(s.pendingLB, sbdb.Change[sbdb.LoadBalancer]{Kind: kind, UUID: lb.UUID, New: lb})
}

// DeleteLoadBalancer removes a LoadBalancer row.
func (s *Store) DeleteLoadBalancer(id sbdb.UUID) {
	delete(s.lbs, id)
	s.pendingLB = append(s.pendingLB, sbdb.Change[sbdb.LoadBalancer]{Kind: sbdb.ChangeDelete, UUID: id})
}

// QueueMacBinding, QueueStaticMacBinding, and QueueFdb push a tracked change
// for the corresponding auxiliary table without maintaining a snapshot,
// since LPFT only ever consumes these as a change stream (spec.md §4.7).
func (s *Store) QueueMacBinding(c sbdb.Change[sbdb.MacBinding]) { s.pendingMac = append(s.pendingMac, c) }
func (s *Store) QueueStaticMacBinding(c sbdb.Change[sbdb.StaticMacBinding]) {
	s.pendingSMac = append(s.pendingSMac, c)
}
func (s *Store) QueueFdb(c sbdb.Change[sbdb.Fdb]) { s.pendingFdb = append(s.pendingFdb, c) }

func (s *Store) ForEachLogicalFlow(fn func(sbdb.LogicalFlow) error) error {
	for _, id := range sortedKeys(s.lflows) {
		if err := fn(s.lflows[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedLogicalFlow(fn func(sbdb.Change[sbdb.LogicalFlow]) error) error {
	pending := s.pendingLFlow
	s.pendingLFlow = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachLogicalDatapathGroup(fn func(sbdb.LogicalDatapathGroup) error) error {
	for _, id := range sortedKeys(s.dpGroups) {
		if err := fn(s.dpGroups[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedLogicalDatapathGroup(fn func(sbdb.Change[sbdb.LogicalDatapathGroup]) error) error {
	pending := s.pendingDPGroup
	s.pendingDPGroup = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachDatapath(fn func(sbdb.Datapath) error) error {
	for _, id := range sortedKeys(s.datapaths) {
		if err := fn(s.datapaths[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedDatapath(fn func(sbdb.Change[sbdb.Datapath]) error) error {
	pending := s.pendingDP
	s.pendingDP = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachPortBinding(fn func(sbdb.PortBinding) error) error {
	for _, id := range sortedKeys(s.ports) {
		if err := fn(s.ports[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedPortBinding(fn func(sbdb.Change[sbdb.PortBinding]) error) error {
	pending := s.pendingPort
	s.pendingPort = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PortBindingByName(name string) (sbdb.PortBinding, bool) {
	id, ok := s.portByName[name]
	if !ok {
		return sbdb.PortBinding{}, false
	}
	return s.ports[id], true
}

func (s *Store) ForEachAddressSet(fn func(sbdb.AddressSet) error) error {
	for _, id := range sortedKeys(s.addrSets) {
		if err := fn(s.addrSets[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedAddressSet(fn func(sbdb.Change[sbdb.AddressSet]) error) error {
	pending := s.pendingAddrSet
	s.pendingAddrSet = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddressSetByName(name string) (sbdb.AddressSet, bool) {
	id, ok := s.addrSetByName[name]
	if !ok {
		return sbdb.AddressSet{}, false
	}
	return s.addrSets[id], true
}

func (s *Store) ForEachPortGroup(fn func(sbdb.PortGroup) error) error {
	for _, id := range sortedKeys(s.portGroups) {
		if err := fn(s.portGroups[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedPortGroup(fn func(sbdb.Change[sbdb.PortGroup]) error) error {
	pending := s.pendingPortGroup
	s.pendingPortGroup = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PortGroupByName(name string) (sbdb.PortGroup, bool) {
	id, ok := s.portGroupByName[name]
	if !ok {
		return sbdb.PortGroup{}, false
	}
	return s.portGroups[id], true
}

func (s *Store) ForEachMulticastGroup(fn func(sbdb.MulticastGroup) error) error {
	for _, id := range sortedKeys(s.mcast) {
		if err := fn(s.mcast[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedMulticastGroup(fn func(sbdb.Change[sbdb.MulticastGroup]) error) error {
	pending := s.pendingMcast
	s.pendingMcast = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MulticastGroupByNameDatapath(name string, dp sbdb.UUID) (sbdb.MulticastGroup, bool) {
	for _, id := range sortedKeys(s.mcast) {
		g := s.mcast[id]
		if g.Name == name && g.Datapath == dp {
			return g, true
		}
	}
	return sbdb.MulticastGroup{}, false
}

func (s *Store) ForEachLoadBalancer(fn func(sbdb.LoadBalancer) error) error {
	for _, id := range sortedKeys(s.lbs) {
		if err := fn(s.lbs[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedLoadBalancer(fn func(sbdb.Change[sbdb.LoadBalancer]) error) error {
	pending := s.pendingLB
	s.pendingLB = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedMacBinding(fn func(sbdb.Change[sbdb.MacBinding]) error) error {
	pending := s.pendingMac
	s.pendingMac = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedStaticMacBinding(fn func(sbdb.Change[sbdb.StaticMacBinding]) error) error {
	pending := s.pendingSMac
	s.pendingSMac = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedFdb(fn func(sbdb.Change[sbdb.Fdb]) error) error {
	pending := s.pendingFdb
	s.pendingFdb = nil
	for _, c := range pending {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) LogicalFlowsByDatapath(dp sbdb.UUID) []sbdb.LogicalFlow {
	var out []sbdb.LogicalFlow
	for _, id := range sortedKeys(s.lflows) {
		lf := s.lflows[id]
		if lf.Datapath == dp {
			out = append(out, lf)
		}
	}
	return out
}

func (s *Store) LogicalFlowsByDatapathGroup(group sbdb.UUID) []sbdb.LogicalFlow {
	var out []sbdb.LogicalFlow
	for _, id := range sortedKeys(s.lflows) {
		lf := s.lflows[id]
		if lf.DatapathGroup == group {
			out = append(out, lf)
		}
	}
	return out
}

// sortedKeys returns the map's keys in a deterministic order so full scans
// are reproducible across runs (property P1, spec.md §8).
func sortedKeys[V any](m map[sbdb.UUID]V) []sbdb.UUID {
	keys := make([]sbdb.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

var _ sbdb.Store = (*Store)(nil)
