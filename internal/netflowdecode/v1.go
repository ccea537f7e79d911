package netflowdecode

import (
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

const (
	v1HeaderSize = 16
	v1RecordSize = 48
	v1MaxFlows   = 24
)

// decodeV1 parses a NetFlow version 1 datagram. v1 produces the base set
// of fields — no tag, no v6 address variants, no AS-info, no
// flow-engine info — per the field-mask policy in the spec.
func decodeV1(data []byte, agentAddr addr.Addr) (*Result, error) {
	n, err := geometry(1, data, v1HeaderSize, v1RecordSize, v1MaxFlows)
	if err != nil {
		return nil, err
	}

	recvTime := time.Now()
	sysUptime := beU32(data[4:8])
	unixSecs := beU32(data[8:12])
	unixNsecs := beU32(data[12:16])

	records := make([]*flowrecord.Record, 0, n)
	for i := 0; i < n; i++ {
		off := v1HeaderSize + i*v1RecordSize
		rec := data[off : off+v1RecordSize]

		r := &flowrecord.Record{
			Fields: flowrecord.FieldRecvTime | flowrecord.FieldProtoFlagsToS |
				flowrecord.FieldAgentAddr | flowrecord.FieldSrcAddr | flowrecord.FieldDstAddr |
				flowrecord.FieldGatewayAddr | flowrecord.FieldPorts | flowrecord.FieldPackets |
				flowrecord.FieldOctets | flowrecord.FieldInterfaces | flowrecord.FieldAgentInfo |
				flowrecord.FieldFlowTimes,
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

			TCPFlags: rec[40],
			Protocol: rec[38],
			ToS:      rec[39],

			Agent: flowrecord.AgentInfo{
				SysUptimeMS: sysUptime,
				EpochSecs:   unixSecs,
				EpochNsecs:  unixNsecs,
				Version:     1,
			},
			Times: flowrecord.FlowTimes{
				FirstUptimeMS: beU32(rec[24:28]),
				LastUptimeMS:  beU32(rec[28:32]),
			},
		}
		// rec[36:38] is pad1, rec[41] is pad2, rec[42:48] is reserved —
		// none of those are part of v1's field mask.
		records = append(records, r)
	}

	return &Result{Version: 1, Records: records}, nil
}
