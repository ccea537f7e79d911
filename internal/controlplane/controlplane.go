// Package controlplane models the privileged-helper boundary as an
// in-process Go interface. The daemon this repo descends from split
// itself across an unprivileged worker and a privileged helper process
// communicating over a control channel; here that seam survives as
// Helper, with a direct-open default implementation standing in for the
// fork/exec/privilege-drop machinery, since Go programs do not typically
// split privilege that way.
package controlplane

import (
	"net"
	"os"
)

// Helper is whatever is trusted to open privileged resources on the
// daemon's behalf: the flow log file and the listening sockets, plus the
// control channel the receive loop polls alongside its listen sockets.
type Helper interface {
	// OpenLog opens (creating if necessary) the flow log at path for
	// append.
	OpenLog(path string) (*os.File, error)

	// Listen binds a UDP socket at address.
	Listen(address string) (*net.UDPConn, error)

	// ControlChannel returns the read end of the control channel. The
	// receive loop polls its file descriptor alongside the listen
	// sockets; becoming readable (EOF, since nothing is ever written
	// to it) means the helper has exited and the worker should exit
	// cleanly too.
	ControlChannel() *os.File

	// Close releases the helper's own side of the control channel,
	// which is what makes ControlChannel's read end become readable.
	// It does not close fds already handed out via OpenLog/Listen.
	Close() error
}

// DirectHelper is the default Helper: it opens files and sockets
// directly in the daemon's own process. Its control channel is a real
// OS pipe — Close closes the write end, so the read end genuinely
// becomes readable (EOF) the way a dropped connection to a separate
// helper process would.
type DirectHelper struct {
	controlRead  *os.File
	controlWrite *os.File
}

// NewDirectHelper returns a ready-to-use DirectHelper, or an error if the
// control channel pipe could not be created.
func NewDirectHelper() (*DirectHelper, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &DirectHelper{controlRead: r, controlWrite: w}, nil
}

// OpenLog implements Helper.
func (h *DirectHelper) OpenLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// Listen implements Helper.
func (h *DirectHelper) Listen(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}

// ControlChannel implements Helper.
func (h *DirectHelper) ControlChannel() *os.File { return h.controlRead }

// Close implements Helper.
func (h *DirectHelper) Close() error {
	return h.controlWrite.Close()
}
