// Package flowrecord defines the canonical in-memory flow record shared by
// every NetFlow decoder and the flow-log writer, along with the field mask
// that names which of its optional sub-records are populated.
package flowrecord

import (
	"time"

	"github.com/netflowd/netflowd/internal/addr"
)

// Mask is a bitset naming which optional sub-records of a Record are
// present. Intersecting a decoder's mask with the operator's store mask is
// a single AND.
type Mask uint32

const (
	FieldRecvTime Mask = 1 << iota
	FieldProtoFlagsToS
	FieldAgentAddr
	FieldSrcAddr
	FieldDstAddr
	FieldGatewayAddr
	FieldPorts
	FieldPackets
	FieldOctets
	FieldInterfaces
	FieldAgentInfo
	FieldFlowTimes
	FieldASInfo
	FieldFlowEngine
	FieldTag
)

// Has reports whether every bit set in want is also set in m.
func (m Mask) Has(want Mask) bool { return m&want == want }

// Intersect returns the fields present in both m and store — the rule
// applied by the flow-log writer's store-mask step.
func (m Mask) Intersect(store Mask) Mask { return m & store }

// AgentInfo carries the exporter's boot/clock state as reported at receive
// time: system uptime in milliseconds, the wall-clock epoch seconds and
// nanoseconds of the packet, and the NetFlow version that produced it.
type AgentInfo struct {
	SysUptimeMS uint32
	EpochSecs   uint32
	EpochNsecs  uint32
	Version     uint16
}

// FlowTimes carries the exporter's reported flow start/finish, expressed
// as device uptimes in milliseconds (matching the wire encoding).
type FlowTimes struct {
	FirstUptimeMS uint32
	LastUptimeMS  uint32
}

// ASInfo carries BGP autonomous-system numbers and prefix mask lengths.
type ASInfo struct {
	SrcAS   uint16
	DstAS   uint16
	SrcMask uint8
	DstMask uint8
}

// FlowEngine carries the exporter's internal switching-engine identity and
// the packet's flow sequence number. EngineType/EngineID are absent from
// v7 (see field-mask policy per version in the spec).
type FlowEngine struct {
	EngineType   uint8
	EngineID     uint8
	FlowSequence uint32
}

// Record is the structure every decoder writes into and the writer reads
// from. Fields not named by the Fields mask are meaningless zero values
// and must not be persisted.
type Record struct {
	Fields Mask

	RecvTime time.Time

	Protocol uint8
	TCPFlags uint8
	ToS      uint8

	AgentAddr addr.Addr
	SrcAddr   addr.Addr
	DstAddr   addr.Addr
	GwAddr    addr.Addr

	SrcPort uint16
	DstPort uint16

	Octets  uint64
	Packets uint64

	InputIf  uint16
	OutputIf uint16

	Agent  AgentInfo
	Times  FlowTimes
	AS     ASInfo
	Engine FlowEngine

	// Tag is assigned by the filter evaluator on ACCEPT; persisted only
	// when FieldTag is set in the (post store-mask) field mask.
	Tag uint32
}

// AddressFamiliesMatch is the invariant the writer must check before
// persisting: mixed-family flows (e.g. IPv4 source, IPv6 destination) are
// dropped rather than written.
func (r *Record) AddressFamiliesMatch() bool {
	return r.SrcAddr.Family() == r.DstAddr.Family()
}
