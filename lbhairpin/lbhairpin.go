// Package lbhairpin implements the Load-Balancer Hairpin Generator from
// spec.md section 4.8: detection, reply, and SNAT rules for traffic a
// backend sends to a VIP that resolves back to that same backend.
package lbhairpin

import (
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"

	"github.com/sdnforge/lpft/actionencode"
	"github.com/sdnforge/lpft/actionlang"
	"github.com/sdnforge/lpft/conjid"
	"github.com/sdnforge/lpft/exprcompile"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/sbdb"
)

// Generator produces the hairpin flow set for a single load balancer,
// drawing its cross-tick-stable conjunction id from Conj (the same
// Allocator type the Expr-Compiler uses for its own conjunctions), keyed
// here by a "lbhairpin:"-prefixed load-balancer name so its keys never
// clash with flow-id keys.
type Generator struct {
	Tables ofp.TableMap
	Conj   *conjid.Allocator
	Meters *actionencode.MeterTable
}

// New returns a Generator using tables for physical table numbers and
// conj for the hairpin_snat_ip conjunction id pool.
func New(tables ofp.TableMap, conj *conjid.Allocator) *Generator {
	return &Generator{Tables: tables, Conj: conj}
}

// Generate builds every hairpin flow for lb. datapaths supplies the
// Datapath rows for lb.Datapaths, keyed by uuid, so the per-datapath
// CT_SNAT_HAIRPIN clause (spec.md section 4.8's third bullet) can match
// on each attached datapath's metadata.
func (g *Generator) Generate(lb sbdb.LoadBalancer, datapaths map[sbdb.UUID]sbdb.Datapath) ([]exprcompile.DesiredFlow, error) {
	hairpinTable, ok := g.Tables.Lookup(ofp.TableCheckLBHairpin)
	if !ok {
		return nil, fmt.Errorf("lbhairpin: no physical table for %q", ofp.TableCheckLBHairpin)
	}
	replyTable, ok := g.Tables.Lookup(ofp.TableCheckLBHairpinReply)
	if !ok {
		return nil, fmt.Errorf("lbhairpin: no physical table for %q", ofp.TableCheckLBHairpinReply)
	}
	snatTable, ok := g.Tables.Lookup(ofp.TableCTSnatHairpin)
	if !ok {
		return nil, fmt.Errorf("lbhairpin: no physical table for %q", ofp.TableCTSnatHairpin)
	}

	env := actionencode.Env{Tables: g.Tables, Meters: g.Meters}
	owner := string(lb.UUID)
	cookie := cookieFromUUID(lb.UUID)

	var out []exprcompile.DesiredFlow
	for _, vip := range lb.VIPs {
		for _, backend := range vip.Backends {
			flows, err := g.detectionAndReply(lb, vip, backend, hairpinTable, replyTable, env, owner, cookie)
			if err != nil {
				return nil, err
			}
			out = append(out, flows...)
		}
	}

	snat, err := g.snatFlows(lb, datapaths, snatTable, env, owner, cookie)
	if err != nil {
		return nil, err
	}
	return append(out, snat...), nil
}

// detectionAndReply emits the CHK_LB_HAIRPIN detection rule for one
// (vip, backend) pair, carrying a learn action that plants the matching
// CHK_LB_HAIRPIN_REPLY rule. When lb.LegacyCTLabel is set, an additional
// detection flow is emitted matching ct_label.natted instead of
// ct_mark.natted, for deployments transitioning between the two
// conntrack-mark conventions (spec.md section 4.8, "backward
// compatibility").
func (g *Generator) detectionAndReply(lb sbdb.LoadBalancer, vip sbdb.LBVIP, backend sbdb.LBBackend, hairpinTable, replyTable uint8, env actionencode.Env, owner string, cookie uint32) ([]exprcompile.DesiredFlow, error) {
	ethType, ipField := ipFamily(backend.Address)

	buildMatch := func(natField string) string {
		parts := []string{
			natField + "==1",
			"eth_type==" + ethType,
			ipField + ".src==" + backend.Address,
			ipField + ".dst==" + backend.Address,
			"ct.orig_dst==" + vip.Address,
		}
		if vip.Protocol != "" {
			parts = append(parts, "ip_proto=="+protoNumber(vip.Protocol))
			if backend.Port != 0 {
				parts = append(parts, fmt.Sprintf("%s_dst==%d", strings.ToLower(vip.Protocol), backend.Port))
			}
		}
		return strings.Join(parts, " && ")
	}

	replySpecs := []string{
		"metadata=NXM_NX_REG_METADATA[]",
		"eth_type=" + ethType,
		ipField + "_src=" + backend.Address,
		ipField + "_dst=" + vip.Address,
	}
	if vip.Protocol != "" {
		replySpecs = append(replySpecs, "ip_proto="+protoNumber(vip.Protocol))
		if vip.Port != 0 {
			replySpecs = append(replySpecs, fmt.Sprintf("%s_src=%d", strings.ToLower(vip.Protocol), vip.Port))
		}
	}
	replySpecs = append(replySpecs, fmt.Sprintf("load:1->%s[%d]", ofp.MFFLogFlags, ofp.RegOffsets.LookupLBHairpin))

	buf := &actionlang.Buffer{Actions: []actionlang.Action{
		actionlang.SetField{Value: "1", Dst: fmt.Sprintf("%s[%d]", ofp.MFFLogFlags, ofp.RegOffsets.LookupLBHairpin)},
		actionlang.Learn{Table: ofp.TableCheckLBHairpinReply, Specs: replySpecs},
		actionlang.Resubmit{Table: hairpinTable + 1},
	}}
	actions, err := actionencode.Encode(buf, sbdb.DirectionIngress, 0, "", sbdb.UUID(owner), env)
	if err != nil {
		return nil, fmt.Errorf("lbhairpin: encode detection actions for %s/%s: %w", vip.Address, backend.Address, err)
	}
	// replyTable is referenced only via the Learn action above: the
	// reply rule itself is planted dynamically by the switch, never
	// emitted by this generator.

	flows := []exprcompile.DesiredFlow{{
		Table: hairpinTable, Priority: 100, Match: buildMatch("ct_mark.natted"),
		Actions: actions, Cookie: cookie, Owner: sbdb.UUID(owner),
	}}
	if lb.LegacyCTLabel {
		flows = append(flows, exprcompile.DesiredFlow{
			Table: hairpinTable, Priority: 100, Match: buildMatch("ct_label.natted"),
			Actions: actions, Cookie: cookie, Owner: sbdb.UUID(owner),
		})
	}
	return flows, nil
}

// snatFlows implements spec.md section 4.8's third bullet: the
// CT_SNAT_HAIRPIN table. Absent hairpin_snat_ip, every VIP gets its own
// direct-commit rule at priority 100. With hairpin_snat_ip configured,
// one conjunction id (shared by every VIP and every attached datapath of
// this LB, since the join action is identical regardless of which VIP or
// datapath satisfied it) collapses the per-VIP x per-datapath cartesian
// product into per-VIP clause-1 flows, per-datapath clause-0 flows, and
// one join flow.
func (g *Generator) snatFlows(lb sbdb.LoadBalancer, datapaths map[sbdb.UUID]sbdb.Datapath, snatTable uint8, env actionencode.Env, owner string, cookie uint32) ([]exprcompile.DesiredFlow, error) {
	if lb.HairpinSNATIP == "" {
		var out []exprcompile.DesiredFlow
		for _, vip := range lb.VIPs {
			buf := &actionlang.Buffer{Actions: []actionlang.Action{
				actionlang.CTSNat{Target: vip.Address},
				actionlang.Resubmit{Table: snatTable + 1},
			}}
			actions, err := actionencode.Encode(buf, sbdb.DirectionIngress, 0, "", sbdb.UUID(owner), env)
			if err != nil {
				return nil, fmt.Errorf("lbhairpin: encode snat actions for %s: %w", vip.Address, err)
			}
			out = append(out, exprcompile.DesiredFlow{
				Table: snatTable, Priority: 100, Match: vipMatch(vip),
				Actions: actions, Cookie: cookie, Owner: sbdb.UUID(owner),
			})
		}
		return out, nil
	}

	state, err := g.Conj.Alloc(conjid.Key{FlowID: "lbhairpin:" + lb.Name}, 1)
	if err != nil {
		return nil, fmt.Errorf("lbhairpin: allocate conjunction id for %s: %w", lb.Name, err)
	}
	id := state.First

	var out []exprcompile.DesiredFlow
	for _, vip := range lb.VIPs {
		buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.Conjunction{ID: id, Clause: 1, NumClauses: 2}}}
		actions, err := actionencode.Encode(buf, sbdb.DirectionIngress, 0, "", sbdb.UUID(owner), env)
		if err != nil {
			return nil, fmt.Errorf("lbhairpin: encode vip clause for %s: %w", vip.Address, err)
		}
		out = append(out, exprcompile.DesiredFlow{
			Table: snatTable, Priority: 200, Match: vipMatch(vip),
			Actions: actions, Cookie: cookie, Owner: sbdb.UUID(owner), Conjunction: true,
		})
	}
	for _, dpID := range lb.Datapaths {
		dp, ok := datapaths[dpID]
		if !ok {
			continue
		}
		buf := &actionlang.Buffer{Actions: []actionlang.Action{actionlang.Conjunction{ID: id, Clause: 0, NumClauses: 2}}}
		actions, err := actionencode.Encode(buf, sbdb.DirectionIngress, 0, "", sbdb.UUID(owner), env)
		if err != nil {
			return nil, fmt.Errorf("lbhairpin: encode datapath clause for %s: %w", dp.UUID, err)
		}
		out = append(out, exprcompile.DesiredFlow{
			Table: snatTable, Priority: 200, Match: fmt.Sprintf("%s==0x%x", ofp.MFFMetadata, dp.TunnelKey),
			Actions: actions, Cookie: cookie, Owner: sbdb.UUID(owner), Conjunction: true,
		})
	}

	joinBuf := &actionlang.Buffer{Actions: []actionlang.Action{
		actionlang.CTSNat{Target: lb.HairpinSNATIP},
		actionlang.Resubmit{Table: snatTable + 1},
	}}
	joinActions, err := actionencode.Encode(joinBuf, sbdb.DirectionIngress, 0, "", sbdb.UUID(owner), env)
	if err != nil {
		return nil, fmt.Errorf("lbhairpin: encode join actions for %s: %w", lb.Name, err)
	}
	out = append(out, exprcompile.DesiredFlow{
		Table: snatTable, Priority: 200, Match: fmt.Sprintf("conj_id==%d", id),
		Actions: joinActions, Cookie: cookie, Owner: sbdb.UUID(owner),
	})
	return out, nil
}

func vipMatch(vip sbdb.LBVIP) string {
	ethType, ipField := ipFamily(vip.Address)
	parts := []string{"eth_type==" + ethType, ipField + ".dst==" + vip.Address}
	if vip.Protocol != "" {
		parts = append(parts, "ip_proto=="+protoNumber(vip.Protocol))
		if vip.Port != 0 {
			parts = append(parts, fmt.Sprintf("%s_dst==%d", strings.ToLower(vip.Protocol), vip.Port))
		}
	}
	return strings.Join(parts, " && ")
}

func ipFamily(addr string) (ethType, field string) {
	if ip := net.ParseIP(addr); ip != nil && ip.To4() == nil {
		return "ip6", "ip6"
	}
	return "ip4", "ip4"
}

func protoNumber(proto string) string {
	switch strings.ToLower(proto) {
	case "tcp":
		return strconv.Itoa(6)
	case "udp":
		return strconv.Itoa(17)
	case "sctp":
		return strconv.Itoa(132)
	default:
		return "0"
	}
}

func cookieFromUUID(id sbdb.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}
