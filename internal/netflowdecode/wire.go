// Package netflowdecode implements the per-version NetFlow packet
// decoders: three packet-shaped parsers (v1, v5, v7), each producing
// zero or more canonical flow records from a raw UDP datagram.
//
// Inbound buffers are treated as plain byte slices and parsed by explicit
// offset, never by overlaying a Go struct on the wire bytes, avoiding the
// alignment and strict-aliasing hazards that come with that trick.
package netflowdecode

import (
	"encoding/binary"
	"fmt"
)

func beU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func beU32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// commonHeaderSize is the size of the version field every decoder reads
// before dispatching: a single 16-bit network-order version number.
const commonHeaderSize = 2

// Version reads the common 16-bit version field that selects the decoder.
// Returns false if data is too short even for that.
func Version(data []byte) (uint16, bool) {
	if len(data) < commonHeaderSize {
		return 0, false
	}
	return beU16(data[0:2]), true
}

// geometry validates the three structural checks every decoder enforces,
// in order: header present, flow count in (0, maxFlows], and datagram
// length exactly header+flows*record. All three versions carry their flow
// count at the same offset (bytes 2:4), right after the version field.
func geometry(version uint16, data []byte, headerSize, recordSize, maxFlows int) (count int, err error) {
	if len(data) < headerSize {
		return 0, &MalformedError{Version: version, Reason: fmt.Sprintf("datagram shorter than header: %d < %d", len(data), headerSize)}
	}

	n := int(beU16(data[2:4]))
	if n == 0 {
		return 0, &MalformedError{Version: version, Reason: "flow count is zero"}
	}
	if n > maxFlows {
		return 0, &MalformedError{Version: version, Reason: fmt.Sprintf("flow count %d exceeds maximum %d", n, maxFlows)}
	}

	want := headerSize + n*recordSize
	if len(data) != want {
		return 0, &MalformedError{Version: version, Reason: fmt.Sprintf("datagram length %d does not equal header+flows*record (%d)", len(data), want)}
	}

	return n, nil
}
