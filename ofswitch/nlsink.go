package ofswitch

import (
	"fmt"

	"github.com/sdnforge/lpft/chassis"
)

// KernelVerifier is the `--verify-kernel` diagnostic adapter: after a
// tick, it cross-checks the number of flows the kernel datapath
// actually holds against what a Sink believes it has installed. It
// does not implement Sink itself -- LPFT never programs the datapath
// directly (spec.md section 1) -- it only reads kernel counters over
// the same generic-netlink dial idiom chassis.Client already uses.
type KernelVerifier struct {
	c *chassis.Client
}

// NewKernelVerifier dials the local Open vSwitch kernel module.
func NewKernelVerifier() (*KernelVerifier, error) {
	c, err := chassis.New()
	if err != nil {
		return nil, fmt.Errorf("ofswitch: dial kernel datapath: %w", err)
	}
	return &KernelVerifier{c: c}, nil
}

// Close releases the underlying netlink socket.
func (v *KernelVerifier) Close() error {
	return v.c.Close()
}

// DatapathFlowCounts returns, per kernel datapath name, the number of
// flows the kernel reports currently installed.
func (v *KernelVerifier) DatapathFlowCounts() (map[string]uint64, error) {
	dps, err := v.c.Datapath.List()
	if err != nil {
		return nil, fmt.Errorf("ofswitch: list kernel datapaths: %w", err)
	}
	out := make(map[string]uint64, len(dps))
	for _, dp := range dps {
		out[dp.Name] = dp.Stats.Flows
	}
	return out, nil
}

// Verify compares the kernel's reported flow count for datapathName
// against wantFlows (the Sink's own count for that bridge) and reports
// a descriptive mismatch error, or nil if they agree.
func (v *KernelVerifier) Verify(datapathName string, wantFlows int) error {
	counts, err := v.DatapathFlowCounts()
	if err != nil {
		return err
	}
	got, ok := counts[datapathName]
	if !ok {
		return fmt.Errorf("ofswitch: kernel has no datapath named %q", datapathName)
	}
	if int(got) != wantFlows {
		return fmt.Errorf("ofswitch: kernel datapath %q reports %d flows, sink has %d", datapathName, got, wantFlows)
	}
	return nil
}

// MissingPorts lists the entries of wantPorts that have no corresponding
// kernel vport on the named integration bridge. Every OVN-style chassis
// exposes all of its logical ports as vports on one bridge, so this
// only needs the bridge's name, not a per-datapath vport listing.
func (v *KernelVerifier) MissingPorts(bridgeName string, wantPorts []string) ([]string, error) {
	dps, err := v.c.Datapath.List()
	if err != nil {
		return nil, fmt.Errorf("ofswitch: list kernel datapaths: %w", err)
	}
	var index int
	var found bool
	for _, dp := range dps {
		if dp.Name == bridgeName {
			index, found = dp.Index, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("ofswitch: kernel has no datapath named %q", bridgeName)
	}

	vports, err := v.c.Vport.List(index)
	if err != nil {
		return nil, fmt.Errorf("ofswitch: list kernel vports for %q: %w", bridgeName, err)
	}
	have := make(map[string]bool, len(vports))
	for _, p := range vports {
		have[p.Name] = true
	}

	var missing []string
	for _, want := range wantPorts {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	return missing, nil
}
