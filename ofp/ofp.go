// Package ofp holds the wire-format constants the rest of LPFT compiles
// against: physical table numbers, Nicira extended match field names, and
// the reserved metadata bits threaded between pipeline stages. These are
// exported package constants the same way the teacher keeps its OVS field
// names (arpSHA, dlSRC, ...) in ovs/matchparser.go, except exported here
// since the expression compiler, action encoder, and both specialized
// generators all need them.
package ofp

// Table is a physical OpenFlow table number.
type Table uint8

// Physical tables. Numeric values are assigned by the table map an
// engine.Config supplies at construction time; these names are the keys
// that map is indexed by, not fixed numbers, since a deployment is free
// to renumber its pipeline.
const (
	TableLogIngressPipeline = "LOG_INGRESS_PIPELINE"
	TableLogEgressPipeline  = "LOG_EGRESS_PIPELINE"
	TableRemoteOutput       = "REMOTE_OUTPUT"
	TableSaveInport         = "SAVE_INPORT"
	TableMacBinding         = "MAC_BINDING"
	TableMacLookup          = "MAC_LOOKUP"
	TableCheckLBHairpin     = "CHK_LB_HAIRPIN"
	TableCheckLBHairpinReply = "CHK_LB_HAIRPIN_REPLY"
	TableCTSnatHairpin      = "CT_SNAT_HAIRPIN"
	TableGetFDB             = "GET_FDB"
	TableLookupFDB          = "LOOKUP_FDB"
	TableCheckInPortSec     = "CHK_IN_PORT_SEC"
	TableCheckInPortSecND   = "CHK_IN_PORT_SEC_ND"
	TableCheckOutPortSec    = "CHK_OUT_PORT_SEC"
)

// Field is a Nicira/OpenFlow extended match field name.
type Field string

// Match fields used by the expression compiler and action encoder.
const (
	MFFMetadata  Field = "metadata"
	MFFReg0      Field = "reg0"
	MFFReg1      Field = "reg1"
	MFFReg2      Field = "reg2"
	MFFReg3      Field = "reg3"
	MFFReg4      Field = "reg4"
	MFFReg5      Field = "reg5"
	MFFReg6      Field = "reg6"
	MFFReg7      Field = "reg7"
	MFFReg8      Field = "reg8"
	MFFReg9      Field = "reg9"
	MFFXXReg0    Field = "xxreg0"
	MFFLogInport Field = "reg14"
	MFFLogOutport Field = "reg15"
	MFFLogFlags  Field = "reg10"
	MFFEthDst    Field = "eth_dst"
	MFFEthSrc    Field = "eth_src"
	MFFLogSnatZone Field = "reg11"
	MFFLogLBOrigDIPv4 Field = "reg9"
	MFFLogLBOrigDIPv6 Field = "xxreg1"
	MFFLogLBOrigTPDPort Field = "reg8"
	MFFIPProto   Field = "ip_proto"
	MFFTCPSrc    Field = "tcp_src"
	MFFTCPDst    Field = "tcp_dst"
	MFFUDPSrc    Field = "udp_src"
	MFFUDPDst    Field = "udp_dst"
	MFFSCTPSrc   Field = "sctp_src"
	MFFSCTPDst   Field = "sctp_dst"
)

// RegOffsets names the bit offsets within MFFLogFlags that carry the
// reserved metadata bits listed in spec.md section 6.
var RegOffsets = struct {
	LookupMAC      uint
	LookupFDB      uint
	LookupLBHairpin uint
	CheckPortSec   uint
}{
	LookupMAC:       0,
	LookupFDB:       1,
	LookupLBHairpin: 2,
	CheckPortSec:    3,
}

// Reserved metadata bits (MLF_*), expressed as masks over MFFLogFlags;
// RegOffsets gives the same bits as indexes.
const (
	MLFLookupMACBit       uint32 = 1 << iota
	MLFLookupFDBBit
	MLFLookupLBHairpinBit
	MLFCheckPortSecBit
)

// TableMap resolves a physical table name to its numeric id. LPFT never
// hardcodes table numbers; every component that needs one takes a
// TableMap so a deployment can renumber its OpenFlow pipeline without a
// code change.
type TableMap map[string]uint8

// Lookup returns the numeric table id for name, and whether it was
// present. A missing table name is always a configuration bug, never a
// data-dependent condition; callers report a false return as an error
// for the flow or rule being built.
func (m TableMap) Lookup(name string) (uint8, bool) {
	n, ok := m[name]
	return n, ok
}

// DefaultTableMap assigns the fixed numbering used throughout the
// test suite and the reference cmd/lpft-controller binary. Real
// deployments may supply a different TableMap via engine.Config.
func DefaultTableMap() TableMap {
	return TableMap{
		TableLogIngressPipeline:  0,
		TableLogEgressPipeline:   64,
		TableRemoteOutput:        38,
		TableSaveInport:          29,
		TableMacBinding:          25,
		TableMacLookup:           26,
		TableCheckLBHairpin:      72,
		TableCheckLBHairpinReply: 73,
		TableCTSnatHairpin:       67,
		TableGetFDB:              75,
		TableLookupFDB:           76,
		TableCheckInPortSec:      8,
		TableCheckInPortSecND:    9,
		TableCheckOutPortSec:     40,
	}
}
