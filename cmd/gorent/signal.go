package main

import (
	"os"
	"os/signal"
	"syscall"
)

// waitForInterrupt blocks until the operator sends SIGINT/SIGTERM,
// the way the teacher's long-running seed/serve paths expect to be
// stopped from the terminal.
func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
