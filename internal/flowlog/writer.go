// Package flowlog implements the append-only binary flow-log writer: it
// emits the fixed header on a fresh file, verifies it on an existing one,
// and appends one length-framed record per accepted flow with a field
// mask selecting which optional sub-records are present.
package flowlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/netflowd/netflowd/internal/flowrecord"
)

// Writer owns a single open log file descriptor for the lifetime of the
// process, unless a reopen is requested by the control plane.
type Writer struct {
	f         *os.File
	storeMask flowrecord.Mask
}

// Open runs the startup protocol against an already-acquired file
// descriptor (as produced by the control plane's log-open request): seek
// to end; if the file was empty, write the header; otherwise rewind and
// verify the header, then seek back to the end and return ready to
// append. A header mismatch is returned as an error — the caller is
// expected to treat it as fatal, per the spec.
func Open(f *os.File, storeMask flowrecord.Mask) (*Writer, error) {
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("flowlog: seeking to end: %w", err)
	}

	if pos == 0 {
		if err := writeHeader(f); err != nil {
			return nil, fmt.Errorf("flowlog: writing header: %w", err)
		}
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("flowlog: rewinding to verify header: %w", err)
		}
		if err := verifyHeader(f); err != nil {
			return nil, err
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return nil, fmt.Errorf("flowlog: seeking to end after verify: %w", err)
		}
	}

	return &Writer{f: f, storeMask: storeMask}, nil
}

// StoreMask reports the operator-configured mask this writer applies to
// every record.
func (w *Writer) StoreMask() flowrecord.Mask { return w.storeMask }

// WriteRecord applies the store mask, rejects mixed-family flows, and
// appends one length-framed record. A short write or write error is
// fatal in this spec — see the writer's recovery-policy open question in
// SPEC_FULL.md §9.
func (w *Writer) WriteRecord(rec *flowrecord.Record) error {
	if !rec.AddressFamiliesMatch() {
		return errMixedFamily
	}

	persisted := rec.Fields.Intersect(w.storeMask)
	body := encodeBody(rec, persisted)

	hasTag := persisted.Has(flowrecord.FieldTag)
	commonLen := 4 // field mask
	if hasTag {
		commonLen += 4
	}

	payload := make([]byte, 0, 4+commonLen+len(body))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(commonLen+len(body)))
	payload = append(payload, lenBuf...)

	maskBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(maskBuf, uint32(persisted))
	payload = append(payload, maskBuf...)

	if hasTag {
		tagBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(tagBuf, rec.Tag)
		payload = append(payload, tagBuf...)
	}

	payload = append(payload, body...)

	n, err := w.f.Write(payload)
	if err != nil {
		return fmt.Errorf("flowlog: write: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("flowlog: short write: wrote %d of %d bytes", n, len(payload))
	}
	return nil
}

// Close closes the underlying file descriptor.
func (w *Writer) Close() error {
	return w.f.Close()
}

// errMixedFamily is returned by WriteRecord when src/dst address families
// disagree; it is not a log-corrupting error and is not fatal — callers
// log it at WARNING and drop the flow, continuing.
var errMixedFamily = fmt.Errorf("flowlog: mixed-family flow rejected")

// IsMixedFamily reports whether err is the mixed-family rejection, so
// callers can distinguish it from an I/O failure.
func IsMixedFamily(err error) bool { return err == errMixedFamily }
