package netflowdecode

import (
	"errors"
	"fmt"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

// ErrUnsupportedVersion is returned for any common-header version this
// package does not decode (anything other than 1, 5, 7 — notably NetFlow
// v9/IPFIX, whose template state machinery is out of scope; see spec
// Non-goals). Per the preserved open question in the spec's design notes,
// an unsupported-version packet does NOT count toward peer.ninvalid the
// way a malformed packet does — callers must special-case this sentinel
// rather than treating it like any other decode error.
var ErrUnsupportedVersion = errors.New("netflowdecode: unsupported version")

// MalformedError describes a structural validation failure: short
// datagram, bad flow count, or a length that doesn't match
// header+flows*recordsize exactly. Every MalformedError should increment
// the originating peer's ninvalid counter.
type MalformedError struct {
	Version uint16
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("netflowdecode: v%d: %s", e.Version, e.Reason)
}

// Result is the pure output of decoding one datagram: every flow record
// extracted, in packet order.
type Result struct {
	Version uint16
	Records []*flowrecord.Record
}

// Decode parses a raw NetFlow datagram (v1, v5, or v7) into zero or more
// canonical flow records. It is a pure function of (data, agentAddr): it
// does not touch any peer or registry state, and never blocks. Callers
// are responsible for the peer.ninvalid / Touch bookkeeping described on
// ErrUnsupportedVersion and MalformedError, using the returned error to
// distinguish a malformed datagram from an unsupported version.
func Decode(data []byte, agentAddr addr.Addr) (*Result, error) {
	version, ok := Version(data)
	if !ok {
		return nil, &MalformedError{Reason: fmt.Sprintf("datagram too short for common header: %d bytes", len(data))}
	}

	switch version {
	case 1:
		return decodeV1(data, agentAddr)
	case 5:
		return decodeV5(data, agentAddr)
	case 7:
		return decodeV7(data, agentAddr)
	default:
		return nil, ErrUnsupportedVersion
	}
}
