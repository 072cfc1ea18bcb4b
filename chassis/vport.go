// Copyright 2017 DigitalOcean.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chassis

import (
	"fmt"
	"unsafe"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/sdnforge/lpft/chassis/internal/ovsh"
)

// VportService provides access to methods which interact with the
// "ovs_vport" generic netlink family. LPFT only ever lists vports that
// already exist; it has no use for the kernel's vport creation commands,
// since it is a flow compiler, not a port provisioner.
type VportService struct {
	c *Client
	f genetlink.Family
}

// VportID numbers are scoped to a particular datapath.
type VportID uint32

// vportTypeName maps the kernel's vport type enum to the string used in
// logical diagnostics; unknown types surface as their numeric value.
func vportTypeName(typ uint32) string {
	switch typ {
	case ovsh.VportTypeNetdev:
		return "netdev"
	case ovsh.VportTypeInternal:
		return "internal"
	case ovsh.VportTypeGre:
		return "gre"
	case ovsh.VportTypeVxlan:
		return "vxlan"
	case ovsh.VportTypeGeneve:
		return "geneve"
	default:
		return fmt.Sprintf("unknown(%d)", typ)
	}
}

// Vport is an Open vSwitch in-kernel vport, as discovered by List.
type Vport struct {
	DatapathID int
	ID         VportID
	Name       string
	Type       string
	Stats      VportStats
	IfIndex    uint32
	NetNsID    uint32
}

func (p *Vport) String() string {
	return fmt.Sprintf("port %d: %s (%s) ifindex:%d netnsid:%d", p.ID, p.Name, p.Type, p.IfIndex, p.NetNsID)
}

// VportStats contains statistics about packets that have passed through
// a vport.
type VportStats struct {
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

func (s *VportStats) String() string {
	return fmt.Sprintf("RX packets:%d errors:%d dropped:%d\nTX packets:%d errors:%d dropped:%d\n"+
		"RX bytes:%d TX bytes:%d", s.RxPackets, s.RxErrors, s.RxDropped, s.TxPackets, s.TxErrors, s.TxDropped,
		s.RxBytes, s.TxBytes)
}

// parseVportStats parses a slice of bytes into VportStats.
func parseVportStats(b []byte) (VportStats, error) {
	if want, got := sizeofVportStats, len(b); want != got {
		return VportStats{}, fmt.Errorf("unexpected vport stats structure size, want %d, got %d", want, got)
	}

	s := *(*ovsh.VportStats)(unsafe.Pointer(&b[0]))
	return VportStats{
		RxPackets: s.Rx_packets,
		TxPackets: s.Tx_packets,
		RxBytes:   s.Rx_bytes,
		TxBytes:   s.Tx_bytes,
		RxErrors:  s.Rx_errors,
		TxErrors:  s.Tx_errors,
		RxDropped: s.Rx_dropped,
		TxDropped: s.Tx_dropped,
	}, nil
}

// parseVport parses a Vport from a generic netlink message.
func parseVport(msg genetlink.Message) (Vport, error) {
	h, err := parseHeader(msg.Data)
	if err != nil {
		return Vport{}, err
	}

	vport := Vport{DatapathID: int(h.Ifindex)}
	var typ uint32

	attrs, err := netlink.UnmarshalAttributes(msg.Data[sizeofHeader:])
	if err != nil {
		return Vport{}, err
	}

	for _, a := range attrs {
		switch a.Type {
		case ovsh.VportAttrPortNo:
			vport.ID = VportID(nlenc.Uint32(a.Data))
		case ovsh.VportAttrType:
			typ = nlenc.Uint32(a.Data)
		case ovsh.VportAttrName:
			vport.Name = nlenc.String(a.Data)
		case ovsh.VportAttrIfindex:
			vport.IfIndex = nlenc.Uint32(a.Data)
		case ovsh.VportAttrNetnsid:
			vport.NetNsID = nlenc.Uint32(a.Data)
		case ovsh.VportAttrStats:
			vport.Stats, err = parseVportStats(a.Data)
			if err != nil {
				return Vport{}, err
			}
		}
	}

	vport.Type = vportTypeName(typ)
	return vport, nil
}

// parseVports parses a slice of Vport from a slice of generic netlink
// messages.
func parseVports(msgs []genetlink.Message) ([]Vport, error) {
	vports := make([]Vport, 0, len(msgs))

	for _, m := range msgs {
		vport, err := parseVport(m)
		if err != nil {
			return nil, err
		}
		vports = append(vports, vport)
	}

	return vports, nil
}

// List lists all vports the kernel currently has for the datapath
// specified by index. This is the only vport operation LPFT needs: the
// --verify-kernel diagnostic uses it to confirm a logical port the
// southbound database claims is chassis-resident actually has a matching
// kernel vport.
func (s *VportService) List(index int) ([]Vport, error) {
	req := genetlink.Message{
		Header: genetlink.Header{
			Command: ovsh.VportCmdGet,
			Version: uint8(s.f.Version),
		},
		Data: headerBytes(ovsh.Header{
			Ifindex: int32(index),
		}),
	}

	flags := netlink.HeaderFlagsRequest | netlink.HeaderFlagsDump
	msgs, err := s.c.c.Execute(req, s.f.ID, flags)
	if err != nil {
		return nil, err
	}

	return parseVports(msgs)
}
