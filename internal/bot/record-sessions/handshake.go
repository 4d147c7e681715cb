package recordsessions

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrCleanupAlreadyRequested = errors.New("cleanup already requested")

type Signal int

const (
	SignalCleanupRequested Signal = iota + 1
	SignalCleanupComplete
)

func (s Signal) String() string {
	switch s {
	case SignalCleanupRequested:
		return "cleanup_requested"
	case SignalCleanupComplete:
		return "cleanup_complete"
	default:
		return "unknown"
	}
}

// CleanupReport summarises what the session listener finalized.
type CleanupReport struct {
	Finalized int
	Killed    int
	Failed    int
}

type ack struct {
	signal Signal
	report CleanupReport
}

// Handshake is the two step shutdown protocol between a supervisor and its
// session listener: one request, one acknowledgement.
type Handshake struct {
	requests  chan Signal
	acks      chan ack
	requested atomic.Bool
	completed atomic.Bool
}

func NewHandshake() *Handshake {
	return &Handshake{
		requests: make(chan Signal, 1),
		acks:     make(chan ack, 1),
	}
}

// Request asks the listener to clean up and waits for its acknowledgement.
func (h *Handshake) Request(ctx context.Context) (CleanupReport, error) {
	if !h.requested.CompareAndSwap(false, true) {
		return CleanupReport{}, ErrCleanupAlreadyRequested
	}

	// Buffered, never blocks.
	h.requests <- SignalCleanupRequested

	for {
		select {
		case a := <-h.acks:
			if a.signal != SignalCleanupComplete {
				continue
			}
			return a.report, nil
		case <-ctx.Done():
			return CleanupReport{}, fmt.Errorf("cleanup was not acknowledged: %w", ctx.Err())
		}
	}
}

// Requests is read by the session listener.
func (h *Handshake) Requests() <-chan Signal {
	return h.requests
}

// Complete acknowledges the request. Extra calls are ignored.
func (h *Handshake) Complete(report CleanupReport) {
	if !h.completed.CompareAndSwap(false, true) {
		return
	}

	h.acks <- ack{signal: SignalCleanupComplete, report: report}
}
