package flowlog

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netflowd/netflowd/internal/addr"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

func sampleRecord() *flowrecord.Record {
	return &flowrecord.Record{
		Fields:    flowrecord.FieldRecvTime | flowrecord.FieldSrcAddr | flowrecord.FieldDstAddr | flowrecord.FieldPorts | flowrecord.FieldPackets | flowrecord.FieldOctets,
		RecvTime:  time.Unix(1700000000, 123000).UTC(),
		SrcAddr:   addr.FromV4Bytes([]byte{10, 0, 0, 1}),
		DstAddr:   addr.FromV4Bytes([]byte{10, 0, 0, 2}),
		SrcPort:   1234,
		DstPort:   443,
		Packets:   7,
		Octets:    9001,
	}
}

func TestOpenFreshFileWritesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	w, err := Open(f, flowrecord.FieldSrcAddr|flowrecord.FieldDstAddr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := verifyHeader(f); err != nil {
		t.Fatalf("verifyHeader on freshly written file: %v", err)
	}
}

func TestOpenExistingFileVerifiesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")

	f1, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	w1, err := Open(f1, flowrecord.FieldSrcAddr)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := w1.WriteRecord(sampleRecord()); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	f1.Close()

	f2, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f2.Close()

	w2, err := Open(f2, flowrecord.FieldSrcAddr)
	if err != nil {
		t.Fatalf("second Open should verify existing header: %v", err)
	}
	defer w2.Close()

	if err := w2.WriteRecord(sampleRecord()); err != nil {
		t.Fatalf("WriteRecord after reopen: %v", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")

	if err := os.WriteFile(path, []byte("XXXX\x00\x01\x00\x00"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := Open(f, 0); err == nil {
		t.Fatalf("expected Open to reject bad magic")
	}
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")

	buf := []byte(magic)
	buf = append(buf, 0x00, 0x02, 0x00, 0x00) // version 2, unsupported
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := Open(f, 0); err == nil {
		t.Fatalf("expected Open to reject unsupported version")
	}
}

func TestWriteRecordRejectsMixedFamily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	w, err := Open(f, flowrecord.FieldSrcAddr|flowrecord.FieldDstAddr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := sampleRecord()
	rec.DstAddr = addr.FromV6Bytes(make([]byte, 16))

	err = w.WriteRecord(rec)
	if err == nil || !IsMixedFamily(err) {
		t.Fatalf("expected mixed-family rejection, got %v", err)
	}
}

func TestWriteRecordAppliesStoreMask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flows.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	storeMask := flowrecord.FieldSrcAddr | flowrecord.FieldDstAddr
	w, err := Open(f, storeMask)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec := sampleRecord() // carries RecvTime, Ports, Packets, Octets too
	if err := w.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	if _, err := f.Seek(int64(headerSize), io.SeekStart); err != nil {
		t.Fatalf("seek past header: %v", err)
	}
	frameLen, mask, _, body := readOneFrame(t, f)
	if mask != storeMask {
		t.Fatalf("expected persisted mask %v, got %v", storeMask, mask)
	}
	decoded, err := decodeBody(mask, body)
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	if !decoded.SrcAddr.Equal(rec.SrcAddr) || !decoded.DstAddr.Equal(rec.DstAddr) {
		t.Fatalf("decoded addresses do not match original")
	}
	if decoded.Fields.Has(flowrecord.FieldPackets) {
		t.Fatalf("store mask should have excluded FieldPackets")
	}
	_ = frameLen
}

func TestRoundTripEncodingIsIdempotent(t *testing.T) {
	rec := sampleRecord()
	mask := rec.Fields

	first := encodeBody(rec, mask)
	decoded, err := decodeBody(mask, first)
	if err != nil {
		t.Fatalf("decodeBody: %v", err)
	}
	second := encodeBody(decoded, mask)

	if len(first) != len(second) {
		t.Fatalf("re-encoded length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("re-encoded bytes differ at offset %d: %x vs %x", i, first[i], second[i])
		}
	}
}

// readOneFrame reads one length-framed record starting at the file's
// current position and returns its declared length, persisted mask, tag
// (if present), and remaining body bytes.
func readOneFrame(t *testing.T, f *os.File) (frameLen int, mask flowrecord.Mask, tag uint32, body []byte) {
	t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := f.Read(lenBuf); err != nil {
		t.Fatalf("reading frame length: %v", err)
	}
	n := int(binary.BigEndian.Uint32(lenBuf))
	rest := make([]byte, n)
	if _, err := f.Read(rest); err != nil {
		t.Fatalf("reading frame body: %v", err)
	}
	m := flowrecord.Mask(binary.BigEndian.Uint32(rest[0:4]))
	off := 4
	if m.Has(flowrecord.FieldTag) {
		tag = binary.BigEndian.Uint32(rest[4:8])
		off = 8
	}
	return n, m, tag, rest[off:]
}
