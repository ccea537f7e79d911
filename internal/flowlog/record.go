package flowlog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

// canonical sub-record order, per the spec's on-disk log format: receive
// time, protocol/flags/ToS, agent addr, src addr, dst addr, gateway addr,
// ports, packets, octets, interface indices, agent-info, flow-times,
// AS-info, flow-engine-info. Tag rides on the common header, not in this
// list.
var canonicalOrder = []flowrecord.Mask{
	flowrecord.FieldRecvTime,
	flowrecord.FieldProtoFlagsToS,
	flowrecord.FieldAgentAddr,
	flowrecord.FieldSrcAddr,
	flowrecord.FieldDstAddr,
	flowrecord.FieldGatewayAddr,
	flowrecord.FieldPorts,
	flowrecord.FieldPackets,
	flowrecord.FieldOctets,
	flowrecord.FieldInterfaces,
	flowrecord.FieldAgentInfo,
	flowrecord.FieldFlowTimes,
	flowrecord.FieldASInfo,
	flowrecord.FieldFlowEngine,
}

const (
	addrFamilyV4 = 4
	addrFamilyV6 = 6
)

func putU64HiLo(b []byte, v uint64) {
	binary.BigEndian.PutUint32(b[0:4], uint32(v>>32))
	binary.BigEndian.PutUint32(b[4:8], uint32(v))
}

func getU64HiLo(b []byte) uint64 {
	hi := uint64(binary.BigEndian.Uint32(b[0:4]))
	lo := uint64(binary.BigEndian.Uint32(b[4:8]))
	return hi<<32 | lo
}

func encodeAddr(buf []byte, a addr.Addr) []byte {
	switch a.Family() {
	case addr.FamilyV6:
		buf = append(buf, addrFamilyV6)
		buf = append(buf, a.Bytes()...)
	default:
		buf = append(buf, addrFamilyV4)
		buf = append(buf, a.Bytes()...)
	}
	return buf
}

func decodeAddr(data []byte) (addr.Addr, int, error) {
	if len(data) < 1 {
		return addr.Addr{}, 0, fmt.Errorf("flowlog: truncated address")
	}
	switch data[0] {
	case addrFamilyV4:
		if len(data) < 5 {
			return addr.Addr{}, 0, fmt.Errorf("flowlog: truncated ipv4 address")
		}
		return addr.FromV4Bytes(data[1:5]), 5, nil
	case addrFamilyV6:
		if len(data) < 17 {
			return addr.Addr{}, 0, fmt.Errorf("flowlog: truncated ipv6 address")
		}
		return addr.FromV6Bytes(data[1:17]), 17, nil
	default:
		return addr.Addr{}, 0, fmt.Errorf("flowlog: unknown address family tag %d", data[0])
	}
}

// encodeBody renders the sub-records named by mask, in canonical order,
// using rec's values. mask must already be the persisted (decoder ∧
// store) mask.
func encodeBody(rec *flowrecord.Record, mask flowrecord.Mask) []byte {
	buf := make([]byte, 0, 96)

	for _, bit := range canonicalOrder {
		if !mask.Has(bit) {
			continue
		}
		switch bit {
		case flowrecord.FieldRecvTime:
			b := make([]byte, 8)
			putU64HiLo(b, uint64(rec.RecvTime.UnixNano()))
			buf = append(buf, b...)
		case flowrecord.FieldProtoFlagsToS:
			buf = append(buf, rec.Protocol, rec.TCPFlags, rec.ToS)
		case flowrecord.FieldAgentAddr:
			buf = encodeAddr(buf, rec.AgentAddr)
		case flowrecord.FieldSrcAddr:
			buf = encodeAddr(buf, rec.SrcAddr)
		case flowrecord.FieldDstAddr:
			buf = encodeAddr(buf, rec.DstAddr)
		case flowrecord.FieldGatewayAddr:
			buf = encodeAddr(buf, rec.GwAddr)
		case flowrecord.FieldPorts:
			b := make([]byte, 4)
			binary.BigEndian.PutUint16(b[0:2], rec.SrcPort)
			binary.BigEndian.PutUint16(b[2:4], rec.DstPort)
			buf = append(buf, b...)
		case flowrecord.FieldPackets:
			b := make([]byte, 8)
			putU64HiLo(b, rec.Packets)
			buf = append(buf, b...)
		case flowrecord.FieldOctets:
			b := make([]byte, 8)
			putU64HiLo(b, rec.Octets)
			buf = append(buf, b...)
		case flowrecord.FieldInterfaces:
			b := make([]byte, 4)
			binary.BigEndian.PutUint16(b[0:2], rec.InputIf)
			binary.BigEndian.PutUint16(b[2:4], rec.OutputIf)
			buf = append(buf, b...)
		case flowrecord.FieldAgentInfo:
			b := make([]byte, 14)
			binary.BigEndian.PutUint32(b[0:4], rec.Agent.SysUptimeMS)
			binary.BigEndian.PutUint32(b[4:8], rec.Agent.EpochSecs)
			binary.BigEndian.PutUint32(b[8:12], rec.Agent.EpochNsecs)
			binary.BigEndian.PutUint16(b[12:14], rec.Agent.Version)
			buf = append(buf, b...)
		case flowrecord.FieldFlowTimes:
			b := make([]byte, 8)
			binary.BigEndian.PutUint32(b[0:4], rec.Times.FirstUptimeMS)
			binary.BigEndian.PutUint32(b[4:8], rec.Times.LastUptimeMS)
			buf = append(buf, b...)
		case flowrecord.FieldASInfo:
			b := make([]byte, 6)
			binary.BigEndian.PutUint16(b[0:2], rec.AS.SrcAS)
			binary.BigEndian.PutUint16(b[2:4], rec.AS.DstAS)
			b[4] = rec.AS.SrcMask
			b[5] = rec.AS.DstMask
			buf = append(buf, b...)
		case flowrecord.FieldFlowEngine:
			b := make([]byte, 6)
			b[0] = rec.Engine.EngineType
			b[1] = rec.Engine.EngineID
			binary.BigEndian.PutUint32(b[2:6], rec.Engine.FlowSequence)
			buf = append(buf, b...)
		}
	}

	return buf
}

// decodeBody is the inverse of encodeBody: given the persisted mask and
// the bytes following the common header (after any tag), it populates a
// fresh Record. Used for log-reading tools and round-trip tests.
func decodeBody(mask flowrecord.Mask, data []byte) (*flowrecord.Record, error) {
	rec := &flowrecord.Record{Fields: mask}
	off := 0

	need := func(n int) error {
		if off+n > len(data) {
			return fmt.Errorf("flowlog: truncated record body at field offset %d", off)
		}
		return nil
	}

	for _, bit := range canonicalOrder {
		if !mask.Has(bit) {
			continue
		}
		switch bit {
		case flowrecord.FieldRecvTime:
			if err := need(8); err != nil {
				return nil, err
			}
			ns := int64(getU64HiLo(data[off : off+8]))
			rec.RecvTime = time.Unix(0, ns).UTC()
			off += 8
		case flowrecord.FieldProtoFlagsToS:
			if err := need(3); err != nil {
				return nil, err
			}
			rec.Protocol, rec.TCPFlags, rec.ToS = data[off], data[off+1], data[off+2]
			off += 3
		case flowrecord.FieldAgentAddr:
			a, n, err := decodeAddr(data[off:])
			if err != nil {
				return nil, err
			}
			rec.AgentAddr = a
			off += n
		case flowrecord.FieldSrcAddr:
			a, n, err := decodeAddr(data[off:])
			if err != nil {
				return nil, err
			}
			rec.SrcAddr = a
			off += n
		case flowrecord.FieldDstAddr:
			a, n, err := decodeAddr(data[off:])
			if err != nil {
				return nil, err
			}
			rec.DstAddr = a
			off += n
		case flowrecord.FieldGatewayAddr:
			a, n, err := decodeAddr(data[off:])
			if err != nil {
				return nil, err
			}
			rec.GwAddr = a
			off += n
		case flowrecord.FieldPorts:
			if err := need(4); err != nil {
				return nil, err
			}
			rec.SrcPort = binary.BigEndian.Uint16(data[off : off+2])
			rec.DstPort = binary.BigEndian.Uint16(data[off+2 : off+4])
			off += 4
		case flowrecord.FieldPackets:
			if err := need(8); err != nil {
				return nil, err
			}
			rec.Packets = getU64HiLo(data[off : off+8])
			off += 8
		case flowrecord.FieldOctets:
			if err := need(8); err != nil {
				return nil, err
			}
			rec.Octets = getU64HiLo(data[off : off+8])
			off += 8
		case flowrecord.FieldInterfaces:
			if err := need(4); err != nil {
				return nil, err
			}
			rec.InputIf = binary.BigEndian.Uint16(data[off : off+2])
			rec.OutputIf = binary.BigEndian.Uint16(data[off+2 : off+4])
			off += 4
		case flowrecord.FieldAgentInfo:
			if err := need(14); err != nil {
				return nil, err
			}
			rec.Agent.SysUptimeMS = binary.BigEndian.Uint32(data[off : off+4])
			rec.Agent.EpochSecs = binary.BigEndian.Uint32(data[off+4 : off+8])
			rec.Agent.EpochNsecs = binary.BigEndian.Uint32(data[off+8 : off+12])
			rec.Agent.Version = binary.BigEndian.Uint16(data[off+12 : off+14])
			off += 14
		case flowrecord.FieldFlowTimes:
			if err := need(8); err != nil {
				return nil, err
			}
			rec.Times.FirstUptimeMS = binary.BigEndian.Uint32(data[off : off+4])
			rec.Times.LastUptimeMS = binary.BigEndian.Uint32(data[off+4 : off+8])
			off += 8
		case flowrecord.FieldASInfo:
			if err := need(6); err != nil {
				return nil, err
			}
			rec.AS.SrcAS = binary.BigEndian.Uint16(data[off : off+2])
			rec.AS.DstAS = binary.BigEndian.Uint16(data[off+2 : off+4])
			rec.AS.SrcMask = data[off+4]
			rec.AS.DstMask = data[off+5]
			off += 6
		case flowrecord.FieldFlowEngine:
			if err := need(6); err != nil {
				return nil, err
			}
			rec.Engine.EngineType = data[off]
			rec.Engine.EngineID = data[off+1]
			rec.Engine.FlowSequence = binary.BigEndian.Uint32(data[off+2 : off+6])
			off += 6
		}
	}

	return rec, nil
}
