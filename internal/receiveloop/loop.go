// Package receiveloop implements the daemon's single-threaded,
// cooperative receive loop: a poll-based multiplexer over the control
// channel and every listen socket, decoding and dispatching one datagram
// at a time and checking the four control flags once per wake-up.
package receiveloop

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/netflowd/netflowd/internal/controlplane"
	"github.com/netflowd/netflowd/internal/dispatch"
	"github.com/netflowd/netflowd/internal/flowlog"
	"github.com/netflowd/netflowd/internal/flowrecord"
)

// Logger is the minimal logging surface the loop needs.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Reconfigurer is asked for a refreshed listener set when the reconf flag
// is observed. A nil Reconfigurer makes reconf a fatal request, since
// there is nothing to refresh against.
type Reconfigurer interface {
	Reconfigure() ([]string, error)
}

// Loop owns the live socket set and drives dispatch against it.
type Loop struct {
	Helper   controlplane.Helper
	Flags    *controlplane.Flags
	Dispatch *dispatch.Dispatcher
	Log      Logger
	Reconf   Reconfigurer
	BufSize  int

	// FlowLogPath and StoreMask are used to re-run the flow-log
	// startup protocol (spec.md §4.4) when a reopen is requested.
	FlowLogPath string
	StoreMask   flowrecord.Mask

	listeners []*net.UDPConn
}

// New builds a Loop bound to the given initial listen addresses (each
// "host:port", resolved via helper.Listen). It leaves FlowLogPath and
// StoreMask unset; the caller sets those fields so a later reopen request
// can re-run the flow-log startup protocol.
func New(helper controlplane.Helper, flags *controlplane.Flags, d *dispatch.Dispatcher, log Logger, addrs []string) (*Loop, error) {
	l := &Loop{
		Helper:   helper,
		Flags:    flags,
		Dispatch: d,
		Log:      log,
		BufSize:  65536,
	}
	if err := l.rebuild(addrs); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loop) rebuild(addrs []string) error {
	for _, c := range l.listeners {
		c.Close()
	}
	l.listeners = l.listeners[:0]

	for _, a := range addrs {
		conn, err := l.Helper.Listen(a)
		if err != nil {
			return fmt.Errorf("receiveloop: binding %s: %w", a, err)
		}
		l.listeners = append(l.listeners, conn)
	}
	return nil
}

// Run blocks until the exit flag is set, the control channel closes, or
// an unrecoverable error occurs. It implements spec.md §4.5 directly: a
// readiness wait with no timeout, a single dispatch pass over whatever
// came readable, then the four control-flag checks, then back to the
// wait.
func (l *Loop) Run() error {
	buf := make([]byte, l.BufSize)

	for {
		pfds, connForIndex, err := l.buildPollSet()
		if err != nil {
			return fmt.Errorf("receiveloop: building poll set: %w", err)
		}

		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("receiveloop: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		// pfds[0] is always the control channel.
		if pfds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			l.Log.Info("receiveloop: control channel closed, exiting")
			return nil
		}

		for i, pfd := range pfds[1:] {
			if pfd.Revents&unix.POLLIN == 0 {
				continue
			}
			conn := connForIndex[i]
			nr, remote, rerr := conn.ReadFromUDP(buf)
			if rerr != nil {
				l.Log.Warn("receiveloop: read error", "error", rerr)
				continue
			}
			local, _ := conn.LocalAddr().(*net.UDPAddr)
			if err := l.Dispatch.HandleDatagram(buf[:nr], remote, local); err != nil {
				return fmt.Errorf("receiveloop: fatal write failure: %w", err)
			}
		}

		if exiting, reason := l.Flags.TakeExit(); exiting {
			l.Log.Info("receiveloop: exiting", "reason", reason)
			return nil
		}

		if l.Flags.TakeReconf() {
			if l.Reconf == nil {
				return fmt.Errorf("receiveloop: reconf requested but no reconfigurer is wired")
			}
			addrs, rerr := l.Reconf.Reconfigure()
			if rerr != nil {
				return fmt.Errorf("receiveloop: reconfigure failed: %w", rerr)
			}
			if err := l.rebuild(addrs); err != nil {
				return fmt.Errorf("receiveloop: rebuilding listeners after reconf: %w", err)
			}
			l.Flags.SetReopen()
		}

		if l.Flags.TakeReopen() {
			if err := l.reopenFlowLog(); err != nil {
				return fmt.Errorf("receiveloop: reopen failed: %w", err)
			}
		}

		if l.Flags.TakeInfo() {
			l.dumpInfo()
		}
	}
}

// reopenFlowLog closes the current flow-log file descriptor and re-runs
// the startup protocol in spec.md §4.4, replacing the dispatcher's
// writer in place.
func (l *Loop) reopenFlowLog() error {
	if l.Dispatch.Writer != nil {
		l.Dispatch.Writer.Close()
	}

	f, err := l.Helper.OpenLog(l.FlowLogPath)
	if err != nil {
		return fmt.Errorf("acquiring log fd: %w", err)
	}
	w, err := flowlog.Open(f, l.StoreMask)
	if err != nil {
		f.Close()
		return fmt.Errorf("re-running startup protocol: %w", err)
	}
	l.Dispatch.Writer = w
	l.Log.Info("receiveloop: flow log reopened", "path", l.FlowLogPath)
	return nil
}

// dumpInfo writes the current peer registry to the log sink, per
// spec.md §4.6's info flag. The filter rule list has no enumerable
// representation beyond the RuleSet interface, so only the peer
// registry (the daemon's own state) is dumped, one log line per peer plus
// one aggregate line.
func (l *Loop) dumpInfo() {
	var buf bytes.Buffer
	if err := l.Dispatch.Peers.Dump(&buf); err != nil {
		l.Log.Warn("receiveloop: peer dump failed", "error", err)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		l.Log.Info("receiveloop: info dump", "line", line)
	}
}

// buildPollSet returns the poll descriptor vector (control channel
// first, then each listener) and a parallel slice mapping each listener
// poll entry back to its *net.UDPConn.
func (l *Loop) buildPollSet() ([]unix.PollFd, []*net.UDPConn, error) {
	controlFd, err := rawFd(l.Helper.ControlChannel().Fd())
	if err != nil {
		return nil, nil, err
	}

	pfds := make([]unix.PollFd, 0, 1+len(l.listeners))
	pfds = append(pfds, unix.PollFd{Fd: controlFd, Events: unix.POLLIN})

	conns := make([]*net.UDPConn, 0, len(l.listeners))
	for _, conn := range l.listeners {
		fd, err := udpFd(conn)
		if err != nil {
			return nil, nil, err
		}
		pfds = append(pfds, unix.PollFd{Fd: fd, Events: unix.POLLIN})
		conns = append(conns, conn)
	}

	return pfds, conns, nil
}

func rawFd(fd uintptr) (int32, error) {
	return int32(fd), nil
}

func udpFd(conn *net.UDPConn) (int32, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int32
	ctrlErr := sc.Control(func(f uintptr) {
		fd = int32(f)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}
