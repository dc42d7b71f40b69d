package tp

import (
	"context"
	"sync"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
)

// Handle tracks one transmission started by Send.
type Handle struct {
	layer   *TransportLayer
	ref     slotRef[*txChannel]
	pair    addressing.Pair
	size    int
	started time.Time

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	err     error
}

func newHandle(l *TransportLayer, ref slotRef[*txChannel], pair addressing.Pair, size int, now time.Time) *Handle {
	return &Handle{
		layer:   l,
		ref:     ref,
		pair:    pair,
		size:    size,
		started: now,
		done:    make(chan struct{}),
	}
}

func (h *Handle) Pair() addressing.Pair { return h.pair }

// Size is the payload length in bytes.
func (h *Handle) Size() int { return h.size }

// Done is closed once the transmission has reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the final outcome; ok is false while the transfer is running.
func (h *Handle) Outcome() (o Outcome, ok bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return 0, false
	}
}

// Err returns the detailed error of a failed transfer, nil on success or while running.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the transfer finishes or ctx is done. It never cancels the transfer.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, h.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Cancel aborts the transfer at the next safe point. It reports whether this call
// ended the transfer.
func (h *Handle) Cancel() bool {
	return h.layer.cancel(h)
}

func (h *Handle) finish(o Outcome, err error) bool {
	finished := false
	h.once.Do(func() {
		h.outcome = o
		h.err = err
		close(h.done)
		finished = true
	})
	return finished
}
