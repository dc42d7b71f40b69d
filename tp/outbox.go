package tp

import (
	"github.com/LoveWonYoung/docan/addressing"
	"go.uber.org/zap"
)

type eventKind uint8

const (
	eventReceived eventKind = iota
	eventReceiveFailed
	eventSendComplete
)

type event struct {
	kind    eventKind
	pair    addressing.Pair
	payload []byte
	outcome Outcome
	err     error
	handle  *Handle
}

// outbox collects the notifications of one transition so they can be delivered
// after the slot lock is dropped.
type outbox struct {
	events []event

	gauge     string
	gaugeSize int
}

func (o *outbox) received(pair addressing.Pair, payload []byte) {
	o.events = append(o.events, event{kind: eventReceived, pair: pair, payload: payload})
}

func (o *outbox) receiveFailed(pair addressing.Pair, outcome Outcome, err error) {
	o.events = append(o.events, event{kind: eventReceiveFailed, pair: pair, outcome: outcome, err: err})
}

func (o *outbox) sendComplete(h *Handle, outcome Outcome, err error) {
	o.events = append(o.events, event{kind: eventSendComplete, pair: h.pair, outcome: outcome, err: err, handle: h})
}

func (o *outbox) released(direction string, active int) {
	o.gauge = direction
	o.gaugeSize = active
}

func (t *TransportLayer) dispatch(out *outbox) {
	if out.gauge != "" {
		t.metrics.channels(t.cfg.Name, out.gauge, out.gaugeSize)
	}
	for _, e := range out.events {
		switch e.kind {
		case eventReceived:
			t.metrics.finished(t.cfg.Name, directionRx, Success)
			t.log.Debug("message received", zap.Stringer("pair", e.pair), zap.Int("size", len(e.payload)))
			t.listener.MessageReceived(e.pair, e.payload)

		case eventReceiveFailed:
			t.metrics.finished(t.cfg.Name, directionRx, e.outcome)
			t.log.Warn("reception failed",
				zap.Stringer("pair", e.pair),
				zap.Stringer("outcome", e.outcome),
				zap.Error(e.err),
			)
			t.listener.ReceiveFailed(e.pair, e.outcome)

		case eventSendComplete:
			if !e.handle.finish(e.outcome, e.err) {
				continue
			}
			t.metrics.finished(t.cfg.Name, directionTx, e.outcome)
			t.metrics.transferred(t.cfg.Name, e.outcome, t.now().Sub(e.handle.started))
			if e.outcome == Success {
				t.log.Debug("message sent", zap.Stringer("pair", e.pair), zap.Int("size", e.handle.Size()))
			} else {
				t.log.Warn("transmission failed",
					zap.Stringer("pair", e.pair),
					zap.Stringer("outcome", e.outcome),
					zap.Error(e.err),
				)
			}
			t.listener.SendComplete(e.handle, e.outcome)
		}
	}
}
