// Package actionencode implements the Action-Encoder driver from spec.md
// section 4.4: turns a parsed action buffer into the final OpenFlow
// action string, resolving logical table jumps to physical tables,
// logical port names to OpenFlow port numbers, and controller-meter
// names to interned meter ids.
package actionencode

import (
	"fmt"
	"strings"

	"github.com/sdnforge/lpft/actionlang"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/sbdb"
)

// Env is the environment the encoder needs beyond the action buffer
// itself (spec.md section 4.4): a logical-to-physical table map, a
// port-lookup callback, a tunnel-ofport callback for remote chassis
// output, group/meter table handles, and the common NAT conntrack zone
// derived from the local datapath's external attributes.
type Env struct {
	Tables ofp.TableMap
	// PortOfPort resolves a logical port name to its local OpenFlow port
	// number.
	PortOfPort func(logicalPort string) (ofPort uint32, ok bool)
	// TunnelOfPort resolves a remote chassis name to the tunnel port
	// used to reach it.
	TunnelOfPort func(chassis string) (ofPort uint32, ok bool)
	// GroupID resolves a load-balancer name to its OpenFlow group table
	// id, when the action set needs group-based load balancing.
	GroupID func(name string) (groupID uint32, ok bool)
	Meters  *MeterTable
	// CommonNATCTZone is the conntrack zone CTLBNat/CTSNat actions use,
	// and CTNext uses when the action names no zone of its own (CTCommit
	// renders without a zone): the datapath's snat-ct-zone if
	// configured, else its dnat-ct-zone
	// (sbdb.Datapath.SNATCTZone).
	CommonNATCTZone string
	// Warn reports a rate-limited diagnostic (e.g. meter-table
	// exhaustion). Nil is a valid no-op.
	Warn func(format string, args ...interface{})
}

// Encode renders buf to its OpenFlow action string. logicalTable is the
// flow's own logical table number, needed to resolve a bare Next action
// to the physical table one past it; meterName is the flow's
// controller_meter column, or "" for none; flowID is part of the
// meter-table's intern key, so two flows naming the same meter each get
// their own id. The meter table never evicts: once it is full, a new
// (meter, flow) pair gets no meter and a warning.
func Encode(buf *actionlang.Buffer, direction sbdb.Direction, logicalTable int, meterName string, flowID sbdb.UUID, env Env) (string, error) {
	var parts []string

	if meterName != "" && env.Meters != nil {
		id, ok := env.Meters.Intern(meterName, string(flowID))
		if !ok {
			if env.Warn != nil {
				env.Warn("actionencode: meter table exhausted, dropping meter %q for flow %s", meterName, flowID)
			}
		} else {
			parts = append(parts, fmt.Sprintf("set_meter(%d)", id))
		}
	}

	for _, a := range buf.Actions {
		s, err := encodeOne(a, direction, logicalTable, env)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}

	return strings.Join(parts, "; "), nil
}

func encodeOne(a actionlang.Action, direction sbdb.Direction, logicalTable int, env Env) (string, error) {
	switch act := a.(type) {
	case actionlang.Next:
		base := ofp.TableLogIngressPipeline
		if direction == sbdb.DirectionEgress {
			base = ofp.TableLogEgressPipeline
		}
		baseNum, ok := env.Tables.Lookup(base)
		if !ok {
			return "", fmt.Errorf("actionencode: no physical table for %q", base)
		}
		return fmt.Sprintf("resubmit(%d)", baseNum+uint8(logicalTable+1)), nil

	case actionlang.Drop:
		return "drop", nil

	case actionlang.Output:
		remote, ok := env.Tables.Lookup(ofp.TableRemoteOutput)
		if !ok {
			return "", fmt.Errorf("actionencode: no physical table for %q", ofp.TableRemoteOutput)
		}
		return fmt.Sprintf("resubmit(%d)", remote), nil

	case actionlang.Resubmit:
		return fmt.Sprintf("resubmit(%d)", act.Table), nil

	case actionlang.Conjunction:
		return fmt.Sprintf("conjunction(%d,%d/%d)", act.ID, act.Clause, act.NumClauses), nil

	case actionlang.Load:
		return fmt.Sprintf("load:%s->%s", act.Value, act.Dst), nil

	case actionlang.Move:
		return fmt.Sprintf("move:%s->%s", act.Src, act.Dst), nil

	case actionlang.SetField:
		return fmt.Sprintf("set_field:%s->%s", act.Value, act.Dst), nil

	case actionlang.CTNext:
		zone := act.Zone
		if zone == "" {
			zone = env.CommonNATCTZone
		}
		if zone == "" {
			return "ct(table=next)", nil
		}
		return fmt.Sprintf("ct(table=next,zone=%s)", zone), nil

	case actionlang.CTCommit:
		return "ct(commit)", nil

	case actionlang.CTLBNat:
		zone := env.CommonNATCTZone
		if zone == "" {
			return fmt.Sprintf("ct(commit,nat(dst=%s))", act.Target), nil
		}
		return fmt.Sprintf("ct(commit,zone=%s,nat(dst=%s))", zone, act.Target), nil

	case actionlang.CTSNat:
		zone := env.CommonNATCTZone
		if zone == "" {
			return fmt.Sprintf("ct(commit,nat(src=%s))", act.Target), nil
		}
		return fmt.Sprintf("ct(commit,zone=%s,nat(src=%s))", zone, act.Target), nil

	case actionlang.SetMeter:
		if env.Meters == nil {
			return "", nil
		}
		id, ok := env.Meters.Intern(act.Name, "")
		if !ok {
			if env.Warn != nil {
				env.Warn("actionencode: meter table exhausted, dropping meter %q", act.Name)
			}
			return "", nil
		}
		return fmt.Sprintf("set_meter(%d)", id), nil

	case actionlang.Learn:
		table, ok := env.Tables.Lookup(act.Table)
		if !ok {
			return "", fmt.Errorf("actionencode: no physical table for learn target %q", act.Table)
		}
		return fmt.Sprintf("learn(table=%d,%s)", table, strings.Join(act.Specs, ",")), nil

	default:
		return "", fmt.Errorf("actionencode: unhandled action type %T", a)
	}
}

// OutputToChassis renders a direct tunnel-port output, used by the
// remote-output table rather than the generic Output action (spec.md
// section 4.5's "composes a canonical (dp_id, port_id) key").
func OutputToChassis(env Env, chassis string) (string, error) {
	ofPort, ok := env.TunnelOfPort(chassis)
	if !ok {
		return "", fmt.Errorf("actionencode: unknown tunnel chassis %q", chassis)
	}
	return fmt.Sprintf("output:%d", ofPort), nil
}
