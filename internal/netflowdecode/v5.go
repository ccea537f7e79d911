package netflowdecode

import (
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

const (
	v5HeaderSize = 24
	v5RecordSize = 48
	v5MaxFlows   = 30
)

// decodeV5 parses a NetFlow version 5 datagram. v5 adds AS-info and
// flow-engine (type/id/sequence) on top of v1's field set.
func decodeV5(data []byte, agentAddr addr.Addr) (*Result, error) {
	n, err := geometry(5, data, v5HeaderSize, v5RecordSize, v5MaxFlows)
	if err != nil {
		return nil, err
	}

	recvTime := time.Now()
	sysUptime := beU32(data[4:8])
	unixSecs := beU32(data[8:12])
	unixNsecs := beU32(data[12:16])
	flowSequence := beU32(data[16:20])
	engineType := data[20]
	engineID := data[21]
	// data[22:24] sampling interval — not part of the canonical record.

	records := make([]*flowrecord.Record, 0, n)
	for i := 0; i < n; i++ {
		off := v5HeaderSize + i*v5RecordSize
		rec := data[off : off+v5RecordSize]

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
			GwAddr:    addr.FromV4Bytes(rec[8:12]),

			InputIf:  beU16(rec[12:14]),
			OutputIf: beU16(rec[14:16]),

			Packets: uint64(beU32(rec[16:20])),
			Octets:  uint64(beU32(rec[20:24])),

			SrcPort: beU16(rec[32:34]),
			DstPort: beU16(rec[34:36]),
			// rec[36] is pad1.
			TCPFlags: rec[37],
			Protocol: rec[38],
			ToS:      rec[39],

			Agent: flowrecord.AgentInfo{
				SysUptimeMS: sysUptime,
				EpochSecs:   unixSecs,
				EpochNsecs:  unixNsecs,
				Version:     5,
			},
			Times: flowrecord.FlowTimes{
				FirstUptimeMS: beU32(rec[24:28]),
				LastUptimeMS:  beU32(rec[28:32]),
			},
			AS: flowrecord.ASInfo{
				SrcAS:   beU16(rec[40:42]),
				DstAS:   beU16(rec[42:44]),
				SrcMask: rec[44],
				DstMask: rec[45],
			},
			Engine: flowrecord.FlowEngine{
				EngineType:   engineType,
				EngineID:     engineID,
				FlowSequence: flowSequence,
			},
			// rec[46:48] is pad2.
		}
		records = append(records, r)
	}

	return &Result{Version: 5, Records: records}, nil
}
