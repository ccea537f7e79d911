package flowlog

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is the fixed magic/version stamp written once at the start of a
// fresh flow log and verified on every subsequent open. Its layout is a
// stable external contract: existing log files must keep decoding with
// whatever wrote them.
const (
	magic         = "NFLG"
	headerVersion = uint16(1)
	headerSize    = 4 + 2 + 2 // magic + version + reserved
)

// writeHeader writes the fixed header to w. Called only when the log fd
// is positioned at offset 0 of an empty file.
func writeHeader(w io.Writer) error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint16(buf[4:6], headerVersion)
	// buf[6:8] reserved, left zero.
	_, err := w.Write(buf)
	return err
}

// verifyHeader reads headerSize bytes from r and checks them against the
// expected magic/version. Returns a descriptive error on mismatch — the
// caller treats this as fatal, exiting with the validation reason.
func verifyHeader(r io.Reader) error {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("flowlog: reading header: %w", err)
	}
	if string(buf[0:4]) != magic {
		return fmt.Errorf("flowlog: bad magic %q, want %q", buf[0:4], magic)
	}
	version := binary.BigEndian.Uint16(buf[4:6])
	if version != headerVersion {
		return fmt.Errorf("flowlog: unsupported log format version %d, want %d", version, headerVersion)
	}
	return nil
}
