package tp

import (
	"errors"
	"time"

	"github.com/LoveWonYoung/docan/codec"
	"github.com/LoveWonYoung/docan/driver"
	"go.uber.org/zap"
)

type rxState uint8

const (
	rxIdle rxState = iota
	rxFlowControlPending
	rxReassembling
	rxComplete
	rxAborted
)

func (s rxState) String() string {
	switch s {
	case rxIdle:
		return "idle"
	case rxFlowControlPending:
		return "flow_control_pending"
	case rxReassembling:
		return "reassembling"
	case rxComplete:
		return "complete"
	case rxAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// rxChannel reassembles one segmented message.
type rxChannel struct {
	boundGen uint64
	key      channelKey

	state      rxState
	buf        []byte
	total      int
	seq        uint8
	blockCount int
	fcStatus   codec.FlowStatus
	timer      Timer
	timerName  string
}

func (c *rxChannel) bind(gen uint64, key channelKey) {
	if c.boundGen == gen {
		return
	}
	c.boundGen = gen
	c.key = key
	c.state = rxIdle
	c.buf = c.buf[:0]
	c.total = 0
	c.seq = 0
	c.blockCount = 0
	c.timer.Stop()
}

func (c *rxChannel) active() bool {
	return c.state == rxFlowControlPending || c.state == rxReassembling
}

func (c *rxChannel) abort(out *outbox, o Outcome, err error) bool {
	c.state = rxAborted
	c.timer.Stop()
	out.receiveFailed(c.key.pair, o, err)
	return true
}

// interrupt ends an ongoing reception when a new SF or FF arrives for the pair.
func (c *rxChannel) interrupt(out *outbox) {
	if c.active() {
		out.receiveFailed(c.key.pair, Interrupted, ErrInterrupted)
	}
	c.state = rxIdle
	c.timer.Stop()
}

// onFrame consumes a decoded frame and reports whether the channel is finished.
func (c *rxChannel) onFrame(l *TransportLayer, f codec.Frame, now time.Time, out *outbox) bool {
	switch fr := f.(type) {
	case codec.SingleFrame:
		c.interrupt(out)
		if len(fr.Data) > l.cfg.MaxMessageSize {
			return c.abort(out, Overflow, FrameTooLongError{Size: len(fr.Data), Limit: l.cfg.MaxMessageSize})
		}
		c.state = rxComplete
		out.received(c.key.pair, append([]byte(nil), fr.Data...))
		return true

	case codec.FirstFrame:
		if c.key.functional {
			l.log.Debug("ignoring first frame on functional address", zap.Stringer("pair", c.key.pair))
			return true
		}
		c.interrupt(out)
		if !c.key.hasConn {
			return c.abort(out, LinkFailure, UnknownAddressError{Pair: c.key.pair.Reverse()})
		}
		if fr.TotalSize > l.cfg.MaxMessageSize {
			c.fcStatus = codec.Overflow
			if err := c.sendFlowControl(l); err != nil {
				l.log.Debug("overflow flow control not sent", zap.Stringer("pair", c.key.pair), zap.Error(err))
			}
			return c.abort(out, Overflow, FrameTooLongError{Size: fr.TotalSize, Limit: l.cfg.MaxMessageSize})
		}
		if cap(c.buf) < fr.TotalSize {
			c.buf = make([]byte, 0, fr.TotalSize)
		}
		c.buf = append(c.buf[:0], fr.Data...)
		c.total = fr.TotalSize
		c.seq = 1
		c.blockCount = 0
		return c.requestBlock(l, now, out)

	case codec.ConsecutiveFrame:
		if c.state != rxReassembling {
			l.log.Debug("unexpected consecutive frame", zap.Stringer("pair", c.key.pair), zap.Stringer("state", c.state))
			return false
		}
		if fr.SequenceNumber != c.seq {
			return c.abort(out, SequenceError, WrongSequenceNumberError{Expected: c.seq, Got: fr.SequenceNumber})
		}
		n := min(len(fr.Data), c.total-len(c.buf))
		c.buf = append(c.buf, fr.Data[:n]...)
		c.seq = (c.seq + 1) & 0x0F
		c.blockCount++
		if len(c.buf) == c.total {
			c.state = rxComplete
			c.timer.Stop()
			out.received(c.key.pair, append([]byte(nil), c.buf...))
			return true
		}
		if l.cfg.BlockSize > 0 && c.blockCount >= l.cfg.BlockSize {
			c.blockCount = 0
			return c.requestBlock(l, now, out)
		}
		c.startTimer(now, "N_Cr", l.cfg.TimeoutN_Cr)
		return false

	case codec.InvalidFrame:
		if c.active() {
			return c.abort(out, InvalidFrame, errors.Join(ErrInvalidFrame, errors.New(fr.Reason)))
		}
	}
	return false
}

// requestBlock asks the sender for the next block; the FC is retried on tick while the link is busy.
func (c *rxChannel) requestBlock(l *TransportLayer, now time.Time, out *outbox) bool {
	c.state = rxFlowControlPending
	c.fcStatus = codec.ContinueToSend
	c.startTimer(now, "N_Br", l.cfg.TimeoutN_Br)
	return c.flush(l, now, out)
}

func (c *rxChannel) flush(l *TransportLayer, now time.Time, out *outbox) bool {
	err := c.sendFlowControl(l)
	switch {
	case err == nil:
		c.state = rxReassembling
		c.startTimer(now, "N_Cr", l.cfg.TimeoutN_Cr)
		return false
	case errors.Is(err, driver.ErrBusy):
		return false
	default:
		return c.abort(out, LinkFailure, err)
	}
}

func (c *rxChannel) sendFlowControl(l *TransportLayer) error {
	frame, err := l.codec.EncodeFlowControlFrame(c.key.conn.TxPrefix(), c.fcStatus, uint8(l.cfg.BlockSize), l.cfg.SeparationTime)
	if err != nil {
		return err
	}
	return l.sendFrame(c.key.conn, frame)
}

func (c *rxChannel) startTimer(now time.Time, name string, d time.Duration) {
	c.timerName = name
	c.timer.Start(now, d)
}

func (c *rxChannel) tick(l *TransportLayer, now time.Time, out *outbox) bool {
	if !c.active() {
		return false
	}
	if c.timer.IsTimedOut(now) {
		return c.abort(out, Timeout, TimeoutError{Timer: c.timerName})
	}
	if c.state == rxFlowControlPending {
		return c.flush(l, now, out)
	}
	return false
}
