//go:build linux

package main

import "os"

// infoSignals returns the platform's additional info-dump signals beyond
// USR2. SIGINFO does not exist on Linux.
func infoSignals() []os.Signal { return nil }
