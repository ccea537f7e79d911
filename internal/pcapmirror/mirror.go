// Package pcapmirror implements the optional forensic datagram mirror:
// every successfully decoded raw NetFlow datagram, whatever the filter
// later decides about its flows, wrapped in a synthetic
// Ethernet/IPv4/UDP frame, is appended to a PCAP file independent of the
// flow log. It exists purely for post-hoc inspection with ordinary
// packet-capture tooling and never influences decode or persistence.
package pcapmirror

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrNotIPv4 is returned by WriteDatagram when either address is not an
// IPv4 address; the synthetic frame this package builds only models the
// IPv4 case, since every NetFlow version this daemon decodes carries
// agent/exporter addresses as IPv4 on the wire.
var ErrNotIPv4 = errors.New("pcapmirror: synthetic frame only supports IPv4 endpoints")

// Mirror appends decoded datagrams to a PCAP file, rotating it by size
// the same way the daemon's original packet-capture writer did.
type Mirror struct {
	filename   string
	maxSizeMB  int
	maxBackups int

	mu           sync.Mutex
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// New creates a Mirror, writing the PCAP file header immediately.
func New(filename string, maxSizeMB, maxBackups int) (*Mirror, error) {
	m := &Mirror{filename: filename, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
	if err := m.rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteDatagram wraps payload (the raw, as-received NetFlow datagram) in
// a synthetic Ethernet/IPv4/UDP frame addressed from srcIP:srcPort to
// dstIP:dstPort and appends it to the capture file.
func (m *Mirror) WriteDatagram(payload []byte, srcIP, dstIP net.IP, srcPort, dstPort uint16, timestamp time.Time) error {
	frame, err := buildFrame(payload, srcIP, dstIP, srcPort, dstPort)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSizeMB > 0 && m.bytesWritten > int64(m.maxSizeMB)*1024*1024 {
		if err := m.rotate(); err != nil {
			return fmt.Errorf("pcapmirror: rotating: %w", err)
		}
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     timestamp,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := m.writer.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("pcapmirror: writing packet: %w", err)
	}
	m.bytesWritten += int64(len(frame))
	return nil
}

func buildFrame(payload []byte, srcIP, dstIP net.IP, srcPort, dstPort uint16) ([]byte, error) {
	srcV4, dstV4 := srcIP.To4(), dstIP.To4()
	if srcV4 == nil || dstV4 == nil {
		return nil, ErrNotIPv4
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcV4,
		DstIP:    dstV4,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("pcapmirror: setting checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("pcapmirror: serializing synthetic frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Close closes the underlying capture file.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

func (m *Mirror) rotate() error {
	if m.file != nil {
		m.file.Close()
	}

	if m.maxBackups > 0 {
		for i := m.maxBackups - 1; i >= 0; i-- {
			oldName := m.backupName(i)
			newName := m.backupName(i + 1)
			if _, err := os.Stat(oldName); err == nil {
				if i == m.maxBackups-1 {
					os.Remove(oldName)
				} else {
					os.Rename(oldName, newName)
				}
			}
		}
		if _, err := os.Stat(m.filename); err == nil {
			os.Rename(m.filename, m.backupName(0))
		}
	}

	f, err := os.Create(m.filename)
	if err != nil {
		return fmt.Errorf("pcapmirror: creating capture file: %w", err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("pcapmirror: writing capture file header: %w", err)
	}

	m.file = f
	m.writer = writer
	m.bytesWritten = 0
	return nil
}

func (m *Mirror) backupName(index int) string {
	if index == 0 {
		return m.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", m.filename, index+1)
}
