package portsec

import (
	"strings"
	"testing"

	"github.com/sdnforge/lpft/ofp"
	"github.com/sdnforge/lpft/sbdb"
)

func newGenerator() *Generator {
	return New(ofp.DefaultTableMap())
}

func TestGenerateDropsDefaultOnIngressAndEgress(t *testing.T) {
	g := newGenerator()
	pb := sbdb.PortBinding{UUID: "pb1", Name: "p1"}
	dp := sbdb.Datapath{UUID: "dp1", TunnelKey: 7}

	out, err := g.Generate(pb, dp, 3)
	if err != nil {
		t.Fatal(err)
	}

	inTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckInPortSec)
	outTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckOutPortSec)

	var sawFail, sawDrop bool
	for _, f := range out {
		if f.Table == inTable && f.Priority == 80 && strings.Contains(f.Actions, "port_sec_failed") {
			sawFail = true
		}
		if f.Table == outTable && f.Priority == 80 && f.Actions == "drop" {
			sawDrop = true
		}
	}
	if !sawFail {
		t.Error("expected an ingress default rule marking port_sec_failed")
	}
	if !sawDrop {
		t.Error("expected an egress default drop rule")
	}
}

func TestGenerateAllowsConfiguredMacAndV4Address(t *testing.T) {
	g := newGenerator()
	pb := sbdb.PortBinding{
		UUID: "pb1", Name: "p1",
		PortSecurity: []string{"00:11:22:33:44:55 10.0.0.5"},
	}
	dp := sbdb.Datapath{UUID: "dp1", TunnelKey: 7}

	out, err := g.Generate(pb, dp, 3)
	if err != nil {
		t.Fatal(err)
	}

	inTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckInPortSec)
	var found bool
	for _, f := range out {
		if f.Table == inTable && f.Priority == 90 &&
			strings.Contains(f.Match, "eth.src==00:11:22:33:44:55") &&
			strings.Contains(f.Match, "ip4.src==10.0.0.5") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an ingress allow rule for the configured mac/v4 pair")
	}
}

func TestGenerateExactVersusMaskedAddressMatch(t *testing.T) {
	if got := matchAddress("10.0.0.5/32"); got != "10.0.0.5" {
		t.Errorf("matchAddress(/32) = %q, want exact host", got)
	}
	if got := matchAddress("10.0.0.5/24"); got != "10.0.0.5" {
		t.Errorf("matchAddress(host in subnet) = %q, want exact host since the address has nonzero host bits", got)
	}
	if got := matchAddress("10.0.0.0/24"); got != "10.0.0.0/24" {
		t.Errorf("matchAddress(network address) = %q, want the masked subnet", got)
	}
	if got := matchAddress("10.0.0.5"); got != "10.0.0.5" {
		t.Errorf("matchAddress(bare) = %q, want itself", got)
	}
}

func TestGenerateEmitsDHCPAllowOnlyWhenPortHasV4(t *testing.T) {
	g := newGenerator()
	dp := sbdb.Datapath{UUID: "dp1", TunnelKey: 7}
	inTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckInPortSec)

	withV4, err := g.Generate(sbdb.PortBinding{UUID: "pb1", PortSecurity: []string{"00:11:22:33:44:55 10.0.0.5"}}, dp, 3)
	if err != nil {
		t.Fatal(err)
	}
	var sawDHCP bool
	for _, f := range withV4 {
		if f.Table == inTable && strings.Contains(f.Match, "udp.src==68 && udp.dst==67") {
			sawDHCP = true
		}
	}
	if !sawDHCP {
		t.Error("expected a DHCP DISCOVER allow rule for a port with a v4 address")
	}

	withoutV4, err := g.Generate(sbdb.PortBinding{UUID: "pb2", PortSecurity: []string{"00:11:22:33:44:66 fe80::1"}}, dp, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range withoutV4 {
		if f.Table == inTable && strings.Contains(f.Match, "udp.src==68 && udp.dst==67") {
			t.Error("did not expect a DHCP DISCOVER allow rule for a v6-only port")
		}
	}
}

func TestGenerateNDTableAllowsNSButDropsNA(t *testing.T) {
	g := newGenerator()
	pb := sbdb.PortBinding{UUID: "pb1", PortSecurity: []string{"00:11:22:33:44:55 10.0.0.5"}}
	dp := sbdb.Datapath{UUID: "dp1", TunnelKey: 7}

	out, err := g.Generate(pb, dp, 3)
	if err != nil {
		t.Fatal(err)
	}
	ndTable, _ := ofp.DefaultTableMap().Lookup(ofp.TableCheckInPortSecND)

	var sawNSAllow, sawNADrop bool
	for _, f := range out {
		if f.Table != ndTable || f.Priority != 80 {
			continue
		}
		if strings.Contains(f.Match, "icmp6.type==135") && f.Actions != "drop" {
			sawNSAllow = true
		}
		if strings.Contains(f.Match, "icmp6.type==136") && f.Actions == "drop" {
			sawNADrop = true
		}
	}
	if !sawNSAllow {
		t.Error("expected the default NS rule to not drop (known workaround)")
	}
	if !sawNADrop {
		t.Error("expected the default NA rule to drop")
	}
}

func TestGenerateRejectsUnknownTable(t *testing.T) {
	g := New(ofp.TableMap{})
	_, err := g.Generate(sbdb.PortBinding{UUID: "pb1"}, sbdb.Datapath{UUID: "dp1"}, 1)
	if err == nil {
		t.Fatal("expected an error for a table map missing every port-security table")
	}
}
