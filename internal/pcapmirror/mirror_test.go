package pcapmirror

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewWritesCaptureFileHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.pcap")
	m, err := New(path, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected capture file to exist: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty capture file header")
	}
}

func TestWriteDatagramAppendsFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.pcap")
	m, err := New(path, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	before, _ := os.Stat(path)

	payload := []byte{0x00, 0x05, 0x00, 0x01}
	err = m.WriteDatagram(payload, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 2055, 2055, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("WriteDatagram: %v", err)
	}

	after, _ := os.Stat(path)
	if after.Size() <= before.Size() {
		t.Fatalf("expected capture file to grow after WriteDatagram")
	}
}

func TestWriteDatagramRotatesOnSizeThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.pcap")
	m, err := New(path, 1, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	payload := []byte{0x00, 0x05, 0x00, 0x01}
	write := func() {
		t.Helper()
		if err := m.WriteDatagram(payload, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), 2055, 2055, time.Unix(0, 0)); err != nil {
			t.Fatalf("WriteDatagram: %v", err)
		}
	}
	write()

	// Force the next write to cross the 1 MB threshold without actually
	// writing a megabyte of frames.
	m.bytesWritten = int64(m.maxSizeMB)*1024*1024 + 1
	write()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated backup %s.1 to exist: %v", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected a fresh active capture file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected fresh capture file to have a header already")
	}

	// Force a second rotation; the first backup should shift to .2.
	m.bytesWritten = int64(m.maxSizeMB)*1024*1024 + 1
	write()

	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected %s.2 after a second rotation: %v", path, err)
	}
}

func TestWriteDatagramRejectsIPv6(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.pcap")
	m, err := New(path, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	err = m.WriteDatagram([]byte{1, 2, 3}, net.ParseIP("::1"), net.IPv4(10, 0, 0, 2), 1, 2, time.Now())
	if err != ErrNotIPv4 {
		t.Fatalf("expected ErrNotIPv4, got %v", err)
	}
}
