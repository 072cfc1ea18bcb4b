// Command lpft-controller wires the Logical-to-Physical Flow
// Translator into a runnable process: it reads logical flows from the
// south-bound database, compiles them, and writes the result to a flow
// sink once (--once) or on a repeating interval.
//
// The real OVSDB connection and OpenFlow wire sink are both optional
// collaborators outside this repository's scope (spec.md section 1);
// without --db-network/--db-addr this binary runs entirely against an
// empty in-memory store, which is enough to exercise the engine end to
// end but never touches a live switch.
package main

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/sdnforge/lpft/engine"
	"github.com/sdnforge/lpft/internal/ratelog"
	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/ofswitch"
	"github.com/sdnforge/lpft/portsec"
	"github.com/sdnforge/lpft/sbdb"
	"github.com/sdnforge/lpft/sbdb/memstore"
	"github.com/sdnforge/lpft/sbdb/ovsdbstore"
)

func main() {
	var (
		chassisName  = pflag.String("chassis", "", "local chassis name (required for any flows to compile as resident)")
		dbNetwork    = pflag.String("db-network", "", "south-bound database network (tcp, unix); empty runs against an in-memory store")
		dbAddr       = pflag.String("db-addr", "", "south-bound database address")
		metricsAddr  = pflag.String("metrics-addr", "", "reserved, unused: coverage counters and metrics are a named non-goal")
		interval     = pflag.Duration("interval", 2*time.Second, "tick interval between incremental recomputations")
		once         = pflag.Bool("once", false, "run a single full recomputation then exit")
		verifyKernel = pflag.Bool("verify-kernel", false, "after each tick, cross-check the kernel datapath's flow count and local vports against the sink and south-bound database")
		intBridge    = pflag.String("integration-bridge", "br-int", "name of the local OVS integration bridge, used by --verify-kernel to confirm chassis-resident ports have a matching kernel vport")
		meterCap     = pflag.Int("meter-capacity", 4096, "controller_meter extend-table capacity")
		cacheBytes   = pflag.Int("cache-budget-bytes", 64<<20, "compile cache byte budget, shared by all flows")
		logLevel     = pflag.String("log-level", "info", "logrus level (debug, info, warn, error)")
	)
	pflag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	if *metricsAddr != "" {
		log.WithField("metrics-addr", *metricsAddr).Debug("metrics-addr is parsed but unused: see spec.md's non-goals")
	}

	store, closeStore, err := openStore(*dbNetwork, *dbAddr)
	if err != nil {
		log.Fatalf("lpft-controller: open south-bound store: %v", err)
	}
	defer closeStore()

	sink := ofswitch.NewMemSink()
	tables := ofp.DefaultTableMap()
	warn := ratelog.New(log, 1, 5)

	portOfPort := func(logicalPort string) (uint32, bool) { return 0, false }

	cfg := engine.Config{
		Tables:           tables,
		ChassisName:      *chassisName,
		CacheBudgetBytes: *cacheBytes,
		MeterCapacity:    *meterCap,
		PortOfPort:       portOfPort,
		Warn:             warn.Func("engine"),
	}
	cfg.OnPortSecurityChanged = newPortSecurityHandler(store, sink, tables, portOfPort, warn.Func("portsec"))

	eng := engine.New(store, sink, cfg)

	if err := eng.Recompute(); err != nil {
		log.Fatalf("lpft-controller: initial recompute: %v", err)
	}
	log.WithField("flows", sink.Len()).Info("initial recompute complete")

	if *verifyKernel {
		verifyAgainstKernel(log, sink, store, *chassisName, *intBridge)
	}

	if *once {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := eng.Tick(); err != nil {
			log.WithError(err).Error("lpft-controller: tick failed")
			continue
		}
		if *verifyKernel {
			verifyAgainstKernel(log, sink, store, *chassisName, *intBridge)
		}
	}
}

// openStore dials a live OVSDB connection when network/addr are both
// set, otherwise returns an empty in-memory store so the binary still
// runs end to end without a live database.
func openStore(network, addr string) (sbdb.Store, func(), error) {
	if network == "" || addr == "" {
		return memstore.New(), func() {}, nil
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	client, err := ovsdbstore.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("handshake with %s %s: %w", network, addr, err)
	}
	return ovsdbstore.NewStore(client), func() { _ = conn.Close() }, nil
}

// newPortSecurityHandler adapts portsec.Generator into the
// engine.Config.OnPortSecurityChanged callback shape: it looks up the
// port's datapath and local OpenFlow port number, replays that port's
// rules, and replaces whatever the port previously had installed.
func newPortSecurityHandler(
	store sbdb.Store,
	sink ofswitch.Sink,
	tables ofp.TableMap,
	portOfPort func(string) (uint32, bool),
	warn func(string, ...interface{}),
) func(sbdb.PortBinding) error {
	gen := portsec.New(tables)
	return func(pb sbdb.PortBinding) error {
		dp, ok := lookupDatapath(store, pb.Datapath)
		if !ok {
			return fmt.Errorf("portsec: unknown datapath %s for port %s", pb.Datapath, pb.Name)
		}
		ofPort, ok := portOfPort(pb.Name)
		if !ok {
			warn("portsec: no local OpenFlow port number for %s, skipping replay", pb.Name)
			return nil
		}

		sink.RemoveFlows(string(pb.UUID))
		flows, err := gen.Generate(pb, dp, ofPort)
		if err != nil {
			return fmt.Errorf("portsec: generate for %s: %w", pb.Name, err)
		}
		for _, f := range flows {
			if err := sink.AddFlow(f); err != nil {
				warn("portsec: install flow for %s: %v", pb.Name, err)
			}
		}
		return nil
	}
}

func lookupDatapath(store sbdb.Store, id sbdb.UUID) (sbdb.Datapath, bool) {
	var found sbdb.Datapath
	var ok bool
	_ = store.ForEachDatapath(func(dp sbdb.Datapath) error {
		if dp.UUID == id {
			found, ok = dp, true
		}
		return nil
	})
	return found, ok
}

func verifyAgainstKernel(log *logrus.Logger, sink *ofswitch.MemSink, store sbdb.Store, chassisName, bridgeName string) {
	verifier, err := ofswitch.NewKernelVerifier()
	if err != nil {
		log.WithError(err).Warn("verify-kernel: cannot dial kernel datapath")
		return
	}
	defer verifier.Close()

	counts, err := verifier.DatapathFlowCounts()
	if err != nil {
		log.WithError(err).Warn("verify-kernel: cannot read kernel flow counts")
		return
	}
	for name, got := range counts {
		log.WithFields(logrus.Fields{"datapath": name, "kernel_flows": got, "sink_flows": sink.Len()}).Debug("verify-kernel")
	}

	if chassisName == "" {
		return
	}
	var wantPorts []string
	_ = store.ForEachPortBinding(func(pb sbdb.PortBinding) error {
		if pb.Chassis == chassisName {
			wantPorts = append(wantPorts, pb.Name)
		}
		return nil
	})
	missing, err := verifier.MissingPorts(bridgeName, wantPorts)
	if err != nil {
		log.WithError(err).Warn("verify-kernel: cannot read kernel vports")
		return
	}
	if len(missing) > 0 {
		log.WithFields(logrus.Fields{"bridge": bridgeName, "missing_ports": missing}).Warn("verify-kernel: chassis-resident ports missing a kernel vport")
	}
}
