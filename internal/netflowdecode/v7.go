package netflowdecode

import (
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

const (
	v7HeaderSize = 24
	// v7's 53-byte record (Catalyst 5000 format) follows the
	// jiafenggit-netflow V7FlowRecord layout field-for-field.
	v7RecordSize = 53
	v7MaxFlows   = 28
)

// decodeV7 parses a NetFlow version 7 (Catalyst 5000) datagram. Like v5
// it carries flow-engine info, but only the flow sequence number — v7's
// header has no per-engine type/id fields, only a flow sequence and a
// reserved word.
func decodeV7(data []byte, agentAddr addr.Addr) (*Result, error) {
	n, err := geometry(7, data, v7HeaderSize, v7RecordSize, v7MaxFlows)
	if err != nil {
		return nil, err
	}

	recvTime := time.Now()
	sysUptime := beU32(data[4:8])
	unixSecs := beU32(data[8:12])
	unixNsecs := beU32(data[12:16])
	flowSequence := beU32(data[16:20])
	// data[20:24] is reserved.

	records := make([]*flowrecord.Record, 0, n)
	for i := 0; i < n; i++ {
		off := v7HeaderSize + i*v7RecordSize
		rec := data[off : off+v7RecordSize]

		r := &flowrecord.Record{
			Fields: flowrecord.FieldRecvTime | flowrecord.FieldProtoFlagsToS |
				flowrecord.FieldAgentAddr | flowrecord.FieldSrcAddr | flowrecord.FieldDstAddr |
				flowrecord.FieldGatewayAddr | flowrecord.FieldPorts | flowrecord.FieldPackets |
				flowrecord.FieldOctets | flowrecord.FieldInterfaces | flowrecord.FieldAgentInfo |
				flowrecord.FieldFlowTimes | flowrecord.FieldASInfo | flowrecord.FieldFlowEngine,
			RecvTime: recvTime,

			AgentAddr: agentAddr,
			SrcAddr:   addr.FromV4Bytes(rec[0:4]),
			DstAddr:   addr.FromV4Bytes(rec[4:8]),
			GwAddr:    addr.FromV4Bytes(rec[8:12]), // NextHop

			InputIf:  beU16(rec[12:14]),
			OutputIf: beU16(rec[14:16]),

			Packets: uint64(beU32(rec[16:20])),
			Octets:  uint64(beU32(rec[20:24])),

			SrcPort: beU16(rec[32:34]),
			DstPort: beU16(rec[34:36]),
			// rec[36:38] is Pad0.
			TCPFlags: rec[38],
			Protocol: rec[39],
			ToS:      rec[40],

			Agent: flowrecord.AgentInfo{
				SysUptimeMS: sysUptime,
				EpochSecs:   unixSecs,
				EpochNsecs:  unixNsecs,
				Version:     7,
			},
			Times: flowrecord.FlowTimes{
				FirstUptimeMS: beU32(rec[24:28]),
				LastUptimeMS:  beU32(rec[28:32]),
			},
			AS: flowrecord.ASInfo{
				SrcAS:   beU16(rec[41:43]),
				DstAS:   beU16(rec[43:45]),
				SrcMask: rec[45],
				DstMask: rec[46],
			},
			Engine: flowrecord.FlowEngine{
				// v7 has no per-packet engine type/id; only sequence.
				FlowSequence: flowSequence,
			},
			// rec[47:49] is the invalid-flows Flags field, rec[49:53] is
			// RouterSC (the bypassed router's address) — neither has a
			// slot in the canonical record.
		}
		records = append(records, r)
	}

	return &Result{Version: 7, Records: records}, nil
}
