// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Heavily inspired by https://github.com/btcsuite/btcd/blob/master/signal.go
// Copyright (C) 2015-2017 The Lightning Network Developers

package signal

import (
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// active is set while an Interceptor owns the process' signals.
var active atomic.Bool

// terminationSignals end the connector gracefully.
var terminationSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// Interceptor turns termination signals and in-process shutdown requests
// into a single closed channel.
type Interceptor struct {
	signals  chan os.Signal
	requests chan struct{}

	// stopping is closed on the first signal or request.
	stopping chan struct{}

	// stopped is closed after the signal handler is unregistered.
	stopped chan struct{}
}

// Intercept registers for termination signals. Only one Interceptor may be
// live at a time.
func Intercept() (Interceptor, error) {
	if !active.CompareAndSwap(false, true) {
		return Interceptor{}, errors.New("signals are already " +
			"intercepted")
	}

	i := Interceptor{
		signals:  make(chan os.Signal, 1),
		requests: make(chan struct{}),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	signal.Notify(i.signals, terminationSignals...)

	go i.run()

	return i, nil
}

// run waits for the first reason to stop.
//
// NOTE: This MUST be run as a goroutine.
func (i *Interceptor) run() {
	select {
	case sig := <-i.signals:
		log.Infof("Received %v, shutting down", sig)

	case <-i.requests:
		log.Infof("Shutdown requested")
	}
	close(i.stopping)

	signal.Stop(i.signals)
	active.Store(false)
	close(i.stopped)
}

// Alive reports whether no shutdown has been triggered yet.
func (i *Interceptor) Alive() bool {
	select {
	case <-i.stopping:
		return false
	default:
		return true
	}
}

// RequestShutdown triggers a graceful shutdown. Calls after the first return
// immediately.
func (i *Interceptor) RequestShutdown() {
	select {
	case i.requests <- struct{}{}:
	case <-i.stopping:
		log.Debugf("Already shutting down")
	}
}

// ShutdownChannel is closed once the interceptor has released the process'
// signals and the connector should exit.
func (i *Interceptor) ShutdownChannel() <-chan struct{} {
	return i.stopped
}
