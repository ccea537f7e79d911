// Package dispatch implements the per-datagram processing step the
// receive loop runs against each readable listen socket: decode, peer
// bookkeeping, filter evaluation, persistence, and (optionally) the
// forensic datagram mirror.
package dispatch

import (
	"errors"
	"net"
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/filter"
	"github.com/netflowd/netflowd/internal/flowlog"
	"github.com/netflowd/netflowd/internal/flowrecord"
	"github.com/netflowd/netflowd/internal/netflowdecode"
	"github.com/netflowd/netflowd/internal/peer"
)

// Logger is the minimal logging surface dispatch needs; satisfied by
// *logger.Logger.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Mirror is the minimal forensic-mirror surface dispatch needs;
// satisfied by *pcapmirror.Mirror.
type Mirror interface {
	WriteDatagram(payload []byte, srcIP, dstIP net.IP, srcPort, dstPort uint16, timestamp time.Time) error
}

// Dispatcher owns the collaborators one datagram is run through.
type Dispatcher struct {
	Peers  *peer.Registry
	Rules  filter.RuleSet
	Writer *flowlog.Writer
	Log    Logger

	// Mirror, when non-nil, receives every successfully decoded raw
	// datagram (mirroring happens independent of the flow log, even
	// when every flow in the datagram is later discarded by Rules).
	Mirror Mirror
}

// New builds a Dispatcher. Rules defaults to filter.AcceptAll{} when nil.
func New(peers *peer.Registry, rules filter.RuleSet, writer *flowlog.Writer, log Logger) *Dispatcher {
	if rules == nil {
		rules = filter.AcceptAll{}
	}
	return &Dispatcher{Peers: peers, Rules: rules, Writer: writer, Log: log}
}

// HandleDatagram decodes one raw NetFlow datagram received at local from
// remote, updates peer bookkeeping, evaluates every decoded flow against
// the configured rule set, and persists accepted flows. It never returns
// an error for a malformed or unsupported datagram — those are logged
// and absorbed, per the spec's decode-errors-stay-local design; it
// returns an error only when the flow-log writer fails, which is fatal.
func (d *Dispatcher) HandleDatagram(data []byte, remote, local *net.UDPAddr) error {
	agentAddr, err := addr.FromIP(remote.IP)
	if err != nil {
		d.Log.Warn("dispatch: unrecognized agent address family", "error", err)
		return nil
	}

	result, err := netflowdecode.Decode(data, agentAddr)
	if err != nil {
		var malformed *netflowdecode.MalformedError
		switch {
		case errors.Is(err, netflowdecode.ErrUnsupportedVersion):
			// Per the preserved open question: an unsupported version
			// does not count toward peer.NInvalid the way a malformed
			// packet does, but the peer entry is still created if this
			// is the first datagram seen from this address — the packet
			// reached the common-header check, so the exporter is known.
			d.ensurePeer(agentAddr)
			d.Log.Debug("dispatch: unsupported netflow version", "agent", agentAddr.String())
		case errors.As(err, &malformed):
			d.bumpInvalid(agentAddr)
			d.Log.Warn("dispatch: malformed datagram", "agent", agentAddr.String(), "reason", malformed.Reason)
		default:
			d.Log.Error("dispatch: unexpected decode error", "error", err)
		}
		return nil
	}

	if d.Mirror != nil {
		if err := d.Mirror.WriteDatagram(data, remote.IP, local.IP, uint16(remote.Port), uint16(local.Port), time.Now()); err != nil {
			d.Log.Warn("dispatch: forensic mirror write failed", "error", err)
		}
	}

	p, ok := d.Peers.Find(agentAddr)
	if !ok {
		p = d.Peers.Insert(agentAddr, func(evicted addr.Addr) {
			d.Log.Warn("dispatch: evicting peer under registry pressure", "evicted", evicted.String())
		})
	}
	d.Peers.Touch(p, uint64(len(result.Records)), result.Version)

	for _, rec := range result.Records {
		rec.AgentAddr = agentAddr
		rec.Fields |= flowrecord.FieldAgentAddr

		if filter.Evaluate(d.Rules, rec) != filter.Accept {
			continue
		}

		if err := d.Writer.WriteRecord(rec); err != nil {
			if flowlog.IsMixedFamily(err) {
				d.Log.Warn("dispatch: dropping mixed-family flow", "agent", agentAddr.String())
				continue
			}
			return err
		}
	}

	return nil
}

func (d *Dispatcher) bumpInvalid(agentAddr addr.Addr) {
	p := d.ensurePeer(agentAddr)
	p.NInvalid++
}

// ensurePeer returns the existing peer for agentAddr, creating one under
// LRU pressure rules if this is the first datagram seen from it.
func (d *Dispatcher) ensurePeer(agentAddr addr.Addr) *peer.Peer {
	p, ok := d.Peers.Find(agentAddr)
	if !ok {
		p = d.Peers.Insert(agentAddr, func(evicted addr.Addr) {
			d.Log.Warn("dispatch: evicting peer under registry pressure", "evicted", evicted.String())
		})
	}
	return p
}
