package ovsdbstore

import "github.com/sdnforge/lpft/sbdb"

func decodeDPGroup(id sbdb.UUID, row map[string]interface{}) sbdb.LogicalDatapathGroup {
	g := sbdb.LogicalDatapathGroup{UUID: id}
	for _, dp := range decodeUUIDSet(column(row, "datapaths")) {
		g.Datapaths = append(g.Datapaths, sbdb.UUID(dp))
	}
	return g
}

func (s *Store) ForEachLogicalDatapathGroup(fn func(sbdb.LogicalDatapathGroup) error) error {
	rows, err := s.selectRows("Logical_DP_Group")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		if err := fn(decodeDPGroup(sbdb.UUID(id), row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedLogicalDatapathGroup(fn func(sbdb.Change[sbdb.LogicalDatapathGroup]) error) error {
	rows, err := s.selectRows("Logical_DP_Group")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Logical_DP_Group", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.LogicalDatapathGroup]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			out.New = decodeDPGroup(c.UUID, byID[c.UUID])
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func decodeAddressSet(id sbdb.UUID, row map[string]interface{}) sbdb.AddressSet {
	return sbdb.AddressSet{
		UUID:      id,
		Name:      decodeString(column(row, "name")),
		Addresses: decodeStringSet(column(row, "addresses")),
	}
}

func (s *Store) ForEachAddressSet(fn func(sbdb.AddressSet) error) error {
	rows, err := s.selectRows("Address_Set")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		if err := fn(decodeAddressSet(sbdb.UUID(id), row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedAddressSet(fn func(sbdb.Change[sbdb.AddressSet]) error) error {
	rows, err := s.selectRows("Address_Set")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Address_Set", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.AddressSet]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			out.New = decodeAddressSet(c.UUID, byID[c.UUID])
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AddressSetByName(name string) (sbdb.AddressSet, bool) {
	rows, err := s.selectRows("Address_Set")
	if err != nil {
		return sbdb.AddressSet{}, false
	}
	for _, row := range rows {
		if decodeString(column(row, "name")) == name {
			id, _ := decodeUUID(column(row, "_uuid"))
			return decodeAddressSet(sbdb.UUID(id), row), true
		}
	}
	return sbdb.AddressSet{}, false
}

func decodePortGroup(id sbdb.UUID, row map[string]interface{}) sbdb.PortGroup {
	return sbdb.PortGroup{
		UUID:  id,
		Name:  decodeString(column(row, "name")),
		Ports: decodeStringSet(column(row, "ports")),
	}
}

func (s *Store) ForEachPortGroup(fn func(sbdb.PortGroup) error) error {
	rows, err := s.selectRows("Port_Group")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		if err := fn(decodePortGroup(sbdb.UUID(id), row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedPortGroup(fn func(sbdb.Change[sbdb.PortGroup]) error) error {
	rows, err := s.selectRows("Port_Group")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Port_Group", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.PortGroup]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			out.New = decodePortGroup(c.UUID, byID[c.UUID])
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PortGroupByName(name string) (sbdb.PortGroup, bool) {
	rows, err := s.selectRows("Port_Group")
	if err != nil {
		return sbdb.PortGroup{}, false
	}
	for _, row := range rows {
		if decodeString(column(row, "name")) == name {
			id, _ := decodeUUID(column(row, "_uuid"))
			return decodePortGroup(sbdb.UUID(id), row), true
		}
	}
	return sbdb.PortGroup{}, false
}

func decodeMcast(id sbdb.UUID, row map[string]interface{}) sbdb.MulticastGroup {
	g := sbdb.MulticastGroup{UUID: id, Name: decodeString(column(row, "name"))}
	if dp, ok := decodeUUID(column(row, "datapath")); ok {
		g.Datapath = sbdb.UUID(dp)
	}
	for _, p := range decodeUUIDSet(column(row, "ports")) {
		g.Ports = append(g.Ports, sbdb.UUID(p))
	}
	return g
}

func (s *Store) ForEachMulticastGroup(fn func(sbdb.MulticastGroup) error) error {
	rows, err := s.selectRows("Multicast_Group")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		if err := fn(decodeMcast(sbdb.UUID(id), row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedMulticastGroup(fn func(sbdb.Change[sbdb.MulticastGroup]) error) error {
	rows, err := s.selectRows("Multicast_Group")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Multicast_Group", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.MulticastGroup]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			out.New = decodeMcast(c.UUID, byID[c.UUID])
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) MulticastGroupByNameDatapath(name string, dp sbdb.UUID) (sbdb.MulticastGroup, bool) {
	rows, err := s.selectRows("Multicast_Group")
	if err != nil {
		return sbdb.MulticastGroup{}, false
	}
	for _, row := range rows {
		g := decodeMcast("", row)
		if g.Name == name && g.Datapath == dp {
			id, _ := decodeUUID(column(row, "_uuid"))
			g.UUID = sbdb.UUID(id)
			return g, true
		}
	}
	return sbdb.MulticastGroup{}, false
}

func decodeLB(id sbdb.UUID, row map[string]interface{}) sbdb.LoadBalancer {
	lb := sbdb.LoadBalancer{UUID: id, Name: decodeString(column(row, "name"))}
	for _, dp := range decodeUUIDSet(column(row, "datapaths")) {
		lb.Datapaths = append(lb.Datapaths, sbdb.UUID(dp))
	}
	ext := decodeStringMap(column(row, "external_ids"))
	lb.HairpinSNATIP = ext["hairpin_snat_ip"]
	lb.LegacyCTLabel = ext["use_ct_label_for_nat"] == "true"

	vips := decodeStringMap(column(row, "vips"))
	for addr, backends := range vips {
		lb.VIPs = append(lb.VIPs, sbdb.LBVIP{
			Address:  addr,
			Backends: parseBackendList(backends),
		})
	}
	return lb
}

// parseBackendList parses OVN's "ip:port,ip:port" backend encoding. Kept
// intentionally tolerant: a malformed entry is dropped, not fatal, per
// spec.md §7's "nothing the upstream database says is fatal" principle.
func parseBackendList(s string) []sbdb.LBBackend {
	var out []sbdb.LBBackend
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, parseBackend(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func parseBackend(s string) sbdb.LBBackend {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return sbdb.LBBackend{Address: s[:i], Port: parsePort(s[i+1:])}
		}
	}
	return sbdb.LBBackend{Address: s}
}

func parsePort(s string) uint16 {
	var v uint16
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		v = v*10 + uint16(r-'0')
	}
	return v
}

func (s *Store) ForEachLoadBalancer(fn func(sbdb.LoadBalancer) error) error {
	rows, err := s.selectRows("Load_Balancer")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		if err := fn(decodeLB(sbdb.UUID(id), row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedLoadBalancer(fn func(sbdb.Change[sbdb.LoadBalancer]) error) error {
	rows, err := s.selectRows("Load_Balancer")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Load_Balancer", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.LoadBalancer]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			out.New = decodeLB(c.UUID, byID[c.UUID])
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedMacBinding(fn func(sbdb.Change[sbdb.MacBinding]) error) error {
	rows, err := s.selectRows("MAC_Binding")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("MAC_Binding", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.MacBinding]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			row := byID[c.UUID]
			mb := sbdb.MacBinding{UUID: c.UUID, IP: decodeString(column(row, "ip")), MAC: decodeString(column(row, "mac"))}
			if dp, ok := decodeUUID(column(row, "datapath")); ok {
				mb.Datapath = sbdb.UUID(dp)
			}
			out.New = mb
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedStaticMacBinding(fn func(sbdb.Change[sbdb.StaticMacBinding]) error) error {
	rows, err := s.selectRows("Static_MAC_Binding")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("Static_MAC_Binding", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.StaticMacBinding]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			row := byID[c.UUID]
			smb := sbdb.StaticMacBinding{UUID: c.UUID, IP: decodeString(column(row, "ip")), MAC: decodeString(column(row, "mac"))}
			if lp, ok := decodeUUID(column(row, "logical_port")); ok {
				smb.LogicalPort = sbdb.UUID(lp)
			}
			out.New = smb
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ForEachTrackedFdb(fn func(sbdb.Change[sbdb.Fdb]) error) error {
	rows, err := s.selectRows("FDB")
	if err != nil {
		return err
	}
	byID := make(map[sbdb.UUID]map[string]interface{}, len(rows))
	for _, row := range rows {
		id, _ := decodeUUID(column(row, "_uuid"))
		byID[sbdb.UUID(id)] = row
	}
	changes := s.diffTable("FDB", rows, func(row map[string]interface{}) sbdb.UUID {
		id, _ := decodeUUID(column(row, "_uuid"))
		return sbdb.UUID(id)
	})
	for _, c := range changes {
		out := sbdb.Change[sbdb.Fdb]{Kind: c.Kind, UUID: c.UUID}
		if c.Kind != sbdb.ChangeDelete {
			row := byID[c.UUID]
			out.New = sbdb.Fdb{
				UUID:    c.UUID,
				DPKey:   decodeInt(column(row, "dp_key")),
				MAC:     decodeString(column(row, "mac")),
				PortKey: decodeInt(column(row, "port_key")),
			}
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

// LogicalFlowsByDatapath and LogicalFlowsByDatapathGroup back the
// datapath-activation secondary indexes (spec.md §6, §4.7). The OVSDB
// backend has no local cache of rows between ticks beyond the diff
// snapshot, so these re-select and filter. Nothing in LPFT calls them
// on the per-tick path: the engine's datapath activation scans its own
// flow map instead.
func (s *Store) LogicalFlowsByDatapath(dp sbdb.UUID) []sbdb.LogicalFlow {
	var out []sbdb.LogicalFlow
	_ = s.ForEachLogicalFlow(func(lf sbdb.LogicalFlow) error {
		if lf.Datapath == dp {
			out = append(out, lf)
		}
		return nil
	})
	return out
}

func (s *Store) LogicalFlowsByDatapathGroup(group sbdb.UUID) []sbdb.LogicalFlow {
	var out []sbdb.LogicalFlow
	_ = s.ForEachLogicalFlow(func(lf sbdb.LogicalFlow) error {
		if lf.DatapathGroup == group {
			out = append(out, lf)
		}
		return nil
	})
	return out
}

var _ sbdb.Store = (*Store)(nil)
