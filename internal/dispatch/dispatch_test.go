package dispatch

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/filter"
	"github.com/netflowd/netflowd/internal/flowlog"
	"github.com/netflowd/netflowd/internal/flowrecord"
	"github.com/netflowd/netflowd/internal/peer"
)

type fakeLog struct{ lines []string }

func (f *fakeLog) Debug(msg string, _ ...interface{}) { f.lines = append(f.lines, "debug:"+msg) }
func (f *fakeLog) Warn(msg string, _ ...interface{})  { f.lines = append(f.lines, "warn:"+msg) }
func (f *fakeLog) Error(msg string, _ ...interface{}) { f.lines = append(f.lines, "error:"+msg) }

type fakeMirror struct {
	calls int
	fail  error
}

func (m *fakeMirror) WriteDatagram(_ []byte, _, _ net.IP, _, _ uint16, _ time.Time) error {
	m.calls++
	return m.fail
}

func newTestWriter(t *testing.T) *flowlog.Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	w, err := flowlog.Open(f, flowrecord.FieldSrcAddr|flowrecord.FieldDstAddr)
	if err != nil {
		t.Fatalf("flowlog.Open: %v", err)
	}
	return w
}

func localhostAddr(t *testing.T) addr.Addr {
	t.Helper()
	a, err := addr.FromIP(net.IPv4(127, 0, 0, 1))
	if err != nil {
		t.Fatalf("addr.FromIP: %v", err)
	}
	return a
}

var (
	testRemote = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 51234}
	testLocal  = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2055}
)

// buildV5 constructs a minimal valid NetFlow v5 datagram with count flow
// records, mirroring the builder used in the netflowdecode package's own
// tests.
func buildV5(count int) []byte {
	header := make([]byte, 24)
	binary.BigEndian.PutUint16(header[0:2], 5)
	binary.BigEndian.PutUint16(header[2:4], uint16(count))

	buf := bytes.NewBuffer(header)
	for i := 0; i < count; i++ {
		rec := make([]byte, 48)
		copy(rec[0:4], []byte{10, 0, 0, byte(i + 1)})
		copy(rec[4:8], []byte{10, 0, 1, byte(i + 1)})
		buf.Write(rec)
	}
	return buf.Bytes()
}

func TestHandleDatagramAcceptsAndPersistsFlows(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	d := New(registry, nil, w, log)

	datagram := buildV5(2)
	if err := d.HandleDatagram(datagram, testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}

	p, ok := registry.Find(localhostAddr(t))
	if !ok {
		t.Fatalf("expected peer to be tracked")
	}
	if p.NFlows != 2 {
		t.Fatalf("expected 2 flows touched, got %d", p.NFlows)
	}
	if p.NPackets != 1 {
		t.Fatalf("expected 1 packet touched, got %d", p.NPackets)
	}
}

func TestHandleDatagramBumpsInvalidOnMalformed(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	d := New(registry, nil, w, log)

	// Length mismatch: header claims 1 record but body is empty.
	header := make([]byte, 24)
	binary.BigEndian.PutUint16(header[0:2], 5)
	binary.BigEndian.PutUint16(header[2:4], 1)

	if err := d.HandleDatagram(header, testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram should absorb malformed datagrams: %v", err)
	}

	p, ok := registry.Find(localhostAddr(t))
	if !ok {
		t.Fatalf("expected peer to be tracked even for malformed datagram")
	}
	if p.NInvalid != 1 {
		t.Fatalf("expected NInvalid=1, got %d", p.NInvalid)
	}
}

func TestHandleDatagramIgnoresUnsupportedVersionWithoutBumpingInvalid(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	d := New(registry, nil, w, log)

	header := make([]byte, 24)
	binary.BigEndian.PutUint16(header[0:2], 9) // v9: unsupported

	if err := d.HandleDatagram(header, testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}

	// Per spec.md §8 scenario 2: the peer entry is still created (the
	// packet reached the common-header check), but NInvalid is not
	// bumped the way it is for a structurally malformed datagram.
	p, ok := registry.Find(localhostAddr(t))
	if !ok {
		t.Fatalf("expected unsupported-version datagram to still create a peer entry")
	}
	if p.NInvalid != 0 {
		t.Fatalf("expected NInvalid=0 for unsupported version, got %d", p.NInvalid)
	}
	if p.NPackets != 0 {
		t.Fatalf("expected NPackets=0 for unsupported version (touch is not called), got %d", p.NPackets)
	}
}

func TestHandleDatagramDefaultsToAcceptAll(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	d := New(registry, nil, w, log)

	if d.Rules == nil {
		t.Fatalf("expected nil rules to default to AcceptAll")
	}
	if err := d.HandleDatagram(buildV5(1), testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
}

func TestHandleDatagramMirrorsDecodedDatagramRegardlessOfFilter(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	mirror := &fakeMirror{}
	d := New(registry, discardAll{}, w, log)
	d.Mirror = mirror

	if err := d.HandleDatagram(buildV5(1), testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if mirror.calls != 1 {
		t.Fatalf("expected mirror to be called once regardless of filter verdict, got %d calls", mirror.calls)
	}
}

func TestHandleDatagramSkipsMirrorForMalformedDatagram(t *testing.T) {
	w := newTestWriter(t)
	registry := peer.New(0)
	log := &fakeLog{}
	mirror := &fakeMirror{}
	d := New(registry, nil, w, log)
	d.Mirror = mirror

	header := make([]byte, 24)
	binary.BigEndian.PutUint16(header[0:2], 5)
	binary.BigEndian.PutUint16(header[2:4], 1)

	if err := d.HandleDatagram(header, testRemote, testLocal); err != nil {
		t.Fatalf("HandleDatagram: %v", err)
	}
	if mirror.calls != 0 {
		t.Fatalf("expected mirror not to be called for a malformed datagram, got %d calls", mirror.calls)
	}
}

type discardAll struct{}

func (discardAll) Evaluate(*flowrecord.Record) (filter.Verdict, uint32) {
	return filter.Discard, 0
}
