package controlplane

import "sync/atomic"

// Flags holds the four control bits the receive loop checks once per
// wake-up. The bits are set from signal/interrupt context (the loop itself
// also sets reopen after a successful reconf) and observed by the loop;
// reopen, reconf and info are cleared when taken, exit is not.
type Flags struct {
	exit   atomic.Bool
	reopen atomic.Bool
	reconf atomic.Bool
	info   atomic.Bool

	// exitReason records the last value set on the exit flag (e.g.
	// "SIGTERM", "SIGINT", "control channel closed") so the loop can
	// log why it is terminating. The last writer wins, per spec.
	exitReason atomic.Value
}

// SetExit requests loop termination, recording reason for the exit log
// line. Safe to call from a signal handler goroutine.
func (f *Flags) SetExit(reason string) {
	f.exitReason.Store(reason)
	f.exit.Store(true)
}

// SetReopen requests the flow-log writer be closed and its startup
// protocol re-run on the next iteration.
func (f *Flags) SetReopen() { f.reopen.Store(true) }

// SetReconf requests a refreshed configuration from the control plane;
// implies reopen.
func (f *Flags) SetReconf() { f.reconf.Store(true) }

// SetInfo requests a dump of the peer registry to the log sink. The filter
// rule list is not dumped.
func (f *Flags) SetInfo() { f.info.Store(true) }

// TakeExit reports whether exit was requested and, if so, the recorded
// reason. It does not clear the flag — exit is terminal, there is
// nothing to resume.
func (f *Flags) TakeExit() (bool, string) {
	if !f.exit.Load() {
		return false, ""
	}
	reason, _ := f.exitReason.Load().(string)
	return true, reason
}

// TakeReopen reports and clears the reopen flag.
func (f *Flags) TakeReopen() bool { return f.reopen.Swap(false) }

// TakeReconf reports and clears the reconf flag.
func (f *Flags) TakeReconf() bool { return f.reconf.Swap(false) }

// TakeInfo reports and clears the info flag.
func (f *Flags) TakeInfo() bool { return f.info.Swap(false) }
