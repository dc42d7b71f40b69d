package tp

import (
	"errors"
	"time"

	"github.com/LoveWonYoung/docan/codec"
	"github.com/LoveWonYoung/docan/driver"
)

type txState uint8

const (
	txIdle txState = iota
	txSendingSingle
	txSendingFirst
	txAwaitingFlowControl
	txSendingConsecutive
	txComplete
	txAborted
)

func (s txState) String() string {
	switch s {
	case txIdle:
		return "idle"
	case txSendingSingle:
		return "sending_single"
	case txSendingFirst:
		return "sending_first"
	case txAwaitingFlowControl:
		return "awaiting_flow_control"
	case txSendingConsecutive:
		return "sending_consecutive"
	case txComplete:
		return "complete"
	case txAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// txChannel segments one outgoing message.
type txChannel struct {
	boundGen uint64
	key      channelKey
	handle   *Handle

	state      txState
	payload    []byte
	offset     int
	seq        uint8
	first      []byte
	blockSize  int
	blockSent  int
	stmin      time.Duration
	nextSendAt time.Time
	waitCount  int
	timer      Timer
	timerName  string
}

func (c *txChannel) bind(gen uint64, key channelKey) {
	if c.boundGen == gen {
		return
	}
	c.boundGen = gen
	c.key = key
	c.handle = nil
	c.state = txIdle
	c.payload = nil
	c.first = nil
	c.offset = 0
	c.seq = 0
	c.blockSize = 0
	c.blockSent = 0
	c.waitCount = 0
	c.timer.Stop()
}

func (c *txChannel) active() bool {
	switch c.state {
	case txSendingSingle, txSendingFirst, txAwaitingFlowControl, txSendingConsecutive:
		return true
	}
	return false
}

func (c *txChannel) finish(out *outbox, o Outcome, err error) bool {
	if o == Success {
		c.state = txComplete
	} else {
		c.state = txAborted
	}
	c.timer.Stop()
	out.sendComplete(c.handle, o, err)
	return true
}

func (c *txChannel) startTimer(now time.Time, name string, d time.Duration) {
	c.timerName = name
	c.timer.Start(now, d)
}

// start sends a single frame or the first frame of a segmented message.
// The channel takes ownership of payload.
func (c *txChannel) start(l *TransportLayer, h *Handle, payload []byte, now time.Time, out *outbox) bool {
	c.handle = h
	c.payload = payload
	c.seq = 1
	c.waitCount = 0

	prefix := c.key.conn.TxPrefix()
	format := c.key.pair.Format
	var err error
	if len(payload) <= l.codec.SingleFrameCapacity(format) {
		c.first, err = l.codec.EncodeSingleFrame(prefix, c.payload)
		c.offset = len(c.payload)
		c.state = txSendingSingle
	} else {
		n := l.codec.FirstFrameCapacity(format, len(c.payload))
		c.first, err = l.codec.EncodeFirstFrame(prefix, len(c.payload), c.payload[:n])
		c.offset = n
		c.state = txSendingFirst
	}
	if err != nil {
		return c.finish(out, InvalidFrame, err)
	}
	c.startTimer(now, "N_As", l.cfg.TimeoutN_As)
	return c.pushFirst(l, now, out)
}

func (c *txChannel) pushFirst(l *TransportLayer, now time.Time, out *outbox) bool {
	err := l.sendFrame(c.key.conn, c.first)
	switch {
	case err == nil:
	case errors.Is(err, driver.ErrBusy):
		return false
	default:
		return c.finish(out, LinkFailure, err)
	}
	if c.state == txSendingSingle {
		return c.finish(out, Success, nil)
	}
	c.state = txAwaitingFlowControl
	c.startTimer(now, "N_Bs", l.cfg.TimeoutN_Bs)
	return false
}

func (c *txChannel) onFlowControl(l *TransportLayer, fc codec.FlowControlFrame, now time.Time, out *outbox) bool {
	if c.state != txAwaitingFlowControl {
		return false
	}
	switch fc.Status {
	case codec.ContinueToSend:
		c.blockSize = int(fc.BlockSize)
		c.blockSent = 0
		c.stmin = max(fc.SeparationTime, l.cfg.MinTxSeparationTime)
		c.waitCount = 0
		c.state = txSendingConsecutive
		c.nextSendAt = now
		c.startTimer(now, "N_Cs", l.cfg.TimeoutN_Cs)
		return c.pump(l, now, out)
	case codec.Wait:
		c.waitCount++
		if c.waitCount > l.cfg.MaxWaitFrames {
			return c.finish(out, WaitLimitExceeded, ErrWaitLimit)
		}
		c.startTimer(now, "N_Bs", l.cfg.TimeoutN_Bs)
		return false
	default:
		return c.finish(out, Overflow, ErrOverflow)
	}
}

// pump sends every consecutive frame that is due at now.
func (c *txChannel) pump(l *TransportLayer, now time.Time, out *outbox) bool {
	prefix := c.key.conn.TxPrefix()
	capacity := l.codec.ConsecutiveFrameCapacity(c.key.pair.Format)
	for c.state == txSendingConsecutive && !now.Before(c.nextSendAt) {
		end := min(c.offset+capacity, len(c.payload))
		frame, err := l.codec.EncodeConsecutiveFrame(prefix, c.seq, c.payload[c.offset:end])
		if err != nil {
			return c.finish(out, InvalidFrame, err)
		}
		err = l.sendFrame(c.key.conn, frame)
		switch {
		case err == nil:
		case errors.Is(err, driver.ErrBusy):
			return false
		default:
			return c.finish(out, LinkFailure, err)
		}
		c.offset = end
		c.seq = (c.seq + 1) & 0x0F
		c.blockSent++
		if c.offset == len(c.payload) {
			return c.finish(out, Success, nil)
		}
		if c.blockSize > 0 && c.blockSent >= c.blockSize {
			c.blockSent = 0
			c.state = txAwaitingFlowControl
			c.startTimer(now, "N_Bs", l.cfg.TimeoutN_Bs)
			return false
		}
		c.nextSendAt = now.Add(c.stmin)
		c.startTimer(c.nextSendAt, "N_Cs", l.cfg.TimeoutN_Cs)
	}
	return false
}

func (c *txChannel) tick(l *TransportLayer, now time.Time, out *outbox) bool {
	if !c.active() {
		return false
	}
	if c.timer.IsTimedOut(now) {
		return c.finish(out, Timeout, TimeoutError{Timer: c.timerName})
	}
	switch c.state {
	case txSendingSingle, txSendingFirst:
		return c.pushFirst(l, now, out)
	case txSendingConsecutive:
		return c.pump(l, now, out)
	}
	return false
}

// abortInvalid ends the transfer when a malformed flow control frame arrives.
func (c *txChannel) abortInvalid(reason string, out *outbox) bool {
	if c.state != txAwaitingFlowControl {
		return false
	}
	return c.finish(out, InvalidFrame, errors.Join(ErrInvalidFrame, errors.New(reason)))
}

func (c *txChannel) cancel(h *Handle, out *outbox) bool {
	if c.handle != h || !c.active() {
		return false
	}
	return c.finish(out, Cancelled, ErrCancelled)
}
