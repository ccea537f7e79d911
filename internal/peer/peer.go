// Package peer implements the per-exporter bookkeeping registry: an
// address-keyed lookup structure coupled with an LRU list, bounded by a
// configured maximum and evicting under overflow.
package peer

import (
	"container/list"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/netflowd/netflowd/internal/addr"
)

// Peer represents one NetFlow exporter, identified by its source address.
type Peer struct {
	From        addr.Addr
	NPackets    uint64
	NFlows      uint64
	NInvalid    uint64
	FirstSeen   time.Time
	LastValid   time.Time
	LastVersion uint16
}

// clock is overridable in tests; production code always uses time.Now.
var clock = time.Now

// Registry is the peer aggregate: a map keyed by address plus an LRU list
// over the same node set. The map is unordered; Dump sorts by address. The list.List owns every node; the map
// holds non-owning *list.Element handles into it, so there is exactly one
// owner of peer state (satisfying the "avoid two owners" guidance for
// intrusive dual-indexed containers).
type Registry struct {
	mu sync.Mutex

	lru    *list.List // list.Element.Value is *Peer; front = most recent
	byAddr map[addr.Addr]*list.Element

	maxPeers  int
	numForced uint64
}

// New creates a Registry bounded to maxPeers entries. maxPeers <= 0 means
// unbounded.
func New(maxPeers int) *Registry {
	return &Registry{
		lru:      list.New(),
		byAddr:   make(map[addr.Addr]*list.Element),
		maxPeers: maxPeers,
	}
}

// NumPeers reports the current number of tracked peers.
func (r *Registry) NumPeers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// NumForced reports how many evictions have been forced by LRU pressure,
// monotonically increasing over the registry's lifetime.
func (r *Registry) NumForced() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numForced
}

// MaxPeers reports the configured bound.
func (r *Registry) MaxPeers() int {
	return r.maxPeers
}

// Find looks up the peer for addr, without changing LRU order. O(1)
// thanks to the map (the spec's O(log n) bound for an ordered-map
// implementation is also satisfied; a Go map meets or beats it).
func (r *Registry) Find(a addr.Addr) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.byAddr[a]
	if !ok {
		return nil, false
	}
	return el.Value.(*Peer), true
}

// WarnFunc is invoked to log the warning the spec requires when LRU
// pressure forces an eviction.
type WarnFunc func(evicted addr.Addr)

// Insert creates a new Peer for addr. Precondition: addr is not already
// present (callers must Find first). If inserting would exceed maxPeers,
// the LRU tail is evicted first and warn (if non-nil) is called with its
// address.
func (r *Registry) Insert(a addr.Addr, warn WarnFunc) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPeers > 0 && r.lru.Len()+1 > r.maxPeers {
		back := r.lru.Back()
		if back != nil {
			evicted := back.Value.(*Peer)
			r.lru.Remove(back)
			delete(r.byAddr, evicted.From)
			r.numForced++
			if warn != nil {
				warn(evicted.From)
			}
		}
	}

	now := clock()
	p := &Peer{From: a, FirstSeen: now}
	el := r.lru.PushFront(p)
	r.byAddr[a] = el
	return p
}

// Touch records a valid packet from peer: moves it to the LRU head
// (no-op if already there), bumps counters, and records the NetFlow
// version of the most recent valid packet.
func (r *Registry) Touch(p *Peer, nflows uint64, version uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.byAddr[p.From]
	if ok && r.lru.Front() != el {
		r.lru.MoveToFront(el)
	}

	now := clock()
	p.LastValid = now
	p.NPackets++
	p.NFlows += nflows
	p.LastVersion = version
}

// Dump enumerates peers in key order (address ascending) and writes one
// summary line per peer plus one aggregate line to w.
func (r *Registry) Dump(w io.Writer) error {
	r.mu.Lock()
	peers := make([]*Peer, 0, r.lru.Len())
	for el := r.lru.Front(); el != nil; el = el.Next() {
		peers = append(peers, el.Value.(*Peer))
	}
	numForced := r.numForced
	maxPeers := r.maxPeers
	r.mu.Unlock()

	sortByAddr(peers)

	for _, p := range peers {
		if _, err := fmt.Fprintf(w, "peer %s packets=%d flows=%d invalid=%d first=%s last=%s version=%d\n",
			p.From, p.NPackets, p.NFlows, p.NInvalid,
			p.FirstSeen.Format(time.RFC3339), p.LastValid.Format(time.RFC3339), p.LastVersion,
		); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "peers total=%d max=%d forced_evictions=%d\n", len(peers), maxPeers, numForced)
	return err
}

func sortByAddr(peers []*Peer) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].From.Compare(peers[j].From) < 0
	})
}
