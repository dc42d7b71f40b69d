package tp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
	"github.com/LoveWonYoung/docan/codec"
	"github.com/LoveWonYoung/docan/driver"
	"github.com/LoveWonYoung/docan/filter"
	"go.uber.org/zap"
)

// TransportLayer multiplexes segmented transfers of many address pairs over one link.
type TransportLayer struct {
	cfg      Config
	codec    codec.Codec
	link     driver.Link
	dir      *addressing.Directory
	routes   *filter.Table
	listener Listener
	log      *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	dropped atomic.Uint64

	mu     sync.Mutex
	rx     pool[*rxChannel]
	tx     pool[*txChannel]
	closed bool
}

type Option func(*TransportLayer)

func WithListener(l Listener) Option {
	return func(t *TransportLayer) { t.listener = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *TransportLayer) { t.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(t *TransportLayer) { t.metrics = m }
}

// WithClock replaces time.Now for OnFrameReceived and Send.
func WithClock(now func() time.Time) Option {
	return func(t *TransportLayer) { t.now = now }
}

// WithRoutes replaces the receive routes derived from the directory.
func WithRoutes(r *filter.Table) Option {
	return func(t *TransportLayer) { t.routes = r }
}

func NewTransportLayer(link driver.Link, dir *addressing.Directory, cfg Config, opts ...Option) (*TransportLayer, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: nil link", ErrInvalidConfig)
	}
	if dir == nil {
		return nil, fmt.Errorf("%w: nil directory", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := cfg.Codec()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	t := &TransportLayer{
		cfg:      cfg,
		codec:    c,
		link:     link,
		dir:      dir,
		listener: ListenerFuncs{},
		log:      zap.NewNop(),
		now:      time.Now,
		rx:       newPool(directionRx, cfg.MaxConcurrentChannels, func() *rxChannel { return &rxChannel{} }),
		tx:       newPool(directionTx, cfg.MaxConcurrentChannels, func() *txChannel { return &txChannel{} }),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.routes == nil {
		t.routes = filter.FromDirectory(dir)
	}
	t.log = t.log.With(zap.String("interface", cfg.Name))
	return t, nil
}

func (t *TransportLayer) Config() Config { return t.cfg }

// Routes returns the receive routing table, e.g. to derive hardware filters.
func (t *TransportLayer) Routes() *filter.Table { return t.routes }

// DroppedFrames counts received frames that no channel consumed.
func (t *TransportLayer) DroppedFrames() uint64 { return t.dropped.Load() }

// ActiveChannels returns the number of receive and transmit channels in use.
func (t *TransportLayer) ActiveChannels() (rx, tx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rx.active, t.tx.active
}

func (t *TransportLayer) drop(reason string, msg driver.CanMessage) {
	t.dropped.Add(1)
	t.metrics.dropped(t.cfg.Name, reason)
	t.log.Debug("frame dropped", zap.String("reason", reason), zap.Stringer("msg", msg))
}

func (t *TransportLayer) sendFrame(conn addressing.Connection, data []byte) error {
	return t.link.SendFrame(driver.CanMessage{
		ArbitrationID: conn.TxID,
		Data:          data,
		IsExtendedID:  conn.Extended,
		IsFD:          conn.FD || len(data) > 8,
		BitrateSwitch: conn.FD,
	})
}

// Send starts transmitting payload to pair. The payload is copied; the returned
// handle reports the outcome. Errors are returned synchronously when the request
// cannot be accepted.
func (t *TransportLayer) Send(pair addressing.Pair, payload []byte) (*Handle, error) {
	if len(payload) == 0 {
		return nil, codec.ErrEmptyPayload
	}
	if len(payload) > t.cfg.MaxMessageSize {
		return nil, FrameTooLongError{Size: len(payload), Limit: t.cfg.MaxMessageSize}
	}
	conn, ok := t.dir.Transmit(pair)
	if !ok {
		return nil, UnknownAddressError{Pair: pair}
	}
	if limit := t.codec.SingleFrameCapacity(pair.Format); conn.Functional && len(payload) > limit {
		return nil, FrameTooLongError{Size: len(payload), Limit: limit}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if _, busy := t.tx.lookup(pair, conn.Functional); busy {
		t.mu.Unlock()
		return nil, ErrChannelBusy
	}
	ref, ok := t.tx.allocate(channelKey{pair: pair, conn: conn, hasConn: true, functional: conn.Functional})
	active := t.tx.active
	t.mu.Unlock()
	if !ok {
		t.metrics.finished(t.cfg.Name, directionTx, CapacityExceeded)
		return nil, ErrCapacityExceeded
	}
	t.metrics.channels(t.cfg.Name, directionTx, active)
	return t.start(ref, pair, append([]byte(nil), payload...)), nil
}

// start hands an owned payload to the freshly allocated channel behind ref.
func (t *TransportLayer) start(ref slotRef[*txChannel], pair addressing.Pair, payload []byte) *Handle {
	now := t.now()
	h := newHandle(t, ref, pair, len(payload), now)
	if !step(t, &t.tx, ref, func(c *txChannel, out *outbox) bool {
		return c.start(t, h, payload, now, out)
	}) {
		// released by Close before the first frame went out
		var out outbox
		out.sendComplete(h, Cancelled, ErrCancelled)
		t.dispatch(&out)
	}
	return h
}

// OnFrameReceived feeds one frame from the data link. It never blocks on the peer.
func (t *TransportLayer) OnFrameReceived(msg driver.CanMessage) {
	res, ok := t.routes.Resolve(msg.ArbitrationID, msg.IsExtendedID, msg.Data)
	if !ok {
		return
	}
	frame := t.codec.Decode(res.Pair.Format, msg.Data)
	now := t.now()

	switch f := frame.(type) {
	case codec.FlowControlFrame:
		if !t.withTx(res.Pair.Reverse(), func(c *txChannel, out *outbox) bool {
			return c.onFlowControl(t, f, now, out)
		}) {
			t.drop("unexpected_flow_control", msg)
		}

	case codec.SingleFrame, codec.FirstFrame:
		ref, err := t.acquireRx(res)
		if errors.Is(err, ErrClosed) {
			t.drop("closed", msg)
			return
		}
		if err != nil {
			t.drop("capacity", msg)
			return
		}
		step(t, &t.rx, ref, func(c *rxChannel, out *outbox) bool {
			return c.onFrame(t, frame, now, out)
		})

	case codec.ConsecutiveFrame:
		if !t.withRx(res.Pair, res.Functional, func(c *rxChannel, out *outbox) bool {
			return c.onFrame(t, f, now, out)
		}) {
			t.drop("unexpected_consecutive", msg)
		}

	case codec.InvalidFrame:
		t.log.Debug("invalid frame", zap.Stringer("msg", msg), zap.String("reason", f.Reason))
		var handled bool
		if f.PCIType == codec.FlowControlType {
			handled = t.withTx(res.Pair.Reverse(), func(c *txChannel, out *outbox) bool {
				return c.abortInvalid(f.Reason, out)
			})
		} else {
			handled = t.withRx(res.Pair, res.Functional, func(c *rxChannel, out *outbox) bool {
				return c.onFrame(t, f, now, out)
			})
		}
		if !handled {
			t.drop("invalid", msg)
		}
	}
}

// acquireRx returns the receive channel of res, allocating one when none is
// active. It fails with ErrClosed or ErrCapacityExceeded.
func (t *TransportLayer) acquireRx(res filter.Resolution) (slotRef[*rxChannel], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return slotRef[*rxChannel]{}, ErrClosed
	}
	if ref, ok := t.rx.lookup(res.Pair, res.Functional); ok {
		return ref, nil
	}
	conn, hasConn := t.dir.Receive(res.Pair)
	if !hasConn {
		conn, hasConn = t.dir.Transmit(res.Pair.Reverse())
	}
	ref, ok := t.rx.allocate(channelKey{pair: res.Pair, conn: conn, hasConn: hasConn, functional: res.Functional})
	if !ok {
		return ref, ErrCapacityExceeded
	}
	t.metrics.channels(t.cfg.Name, directionRx, t.rx.active)
	return ref, nil
}

func (t *TransportLayer) withRx(pair addressing.Pair, functional bool, fn func(c *rxChannel, out *outbox) bool) bool {
	t.mu.Lock()
	ref, ok := t.rx.lookup(pair, functional)
	t.mu.Unlock()
	return ok && step(t, &t.rx, ref, fn)
}

// withTx runs fn on the physical transmit channel of pair; functional
// transfers never wait for flow control.
func (t *TransportLayer) withTx(pair addressing.Pair, fn func(c *txChannel, out *outbox) bool) bool {
	t.mu.Lock()
	ref, ok := t.tx.lookup(pair, false)
	t.mu.Unlock()
	return ok && step(t, &t.tx, ref, fn)
}

// step runs one transition of the channel behind ref and releases it when the
// transition ends the transfer. Notifications are dispatched after unlocking.
func step[T machine](t *TransportLayer, p *pool[T], ref slotRef[T], fn func(c T, out *outbox) bool) bool {
	if !ref.lock() {
		return false
	}
	ref.s.ch.bind(ref.gen, ref.s.key)
	var out outbox
	if fn(ref.s.ch, &out) {
		t.mu.Lock()
		p.release(ref)
		active := p.active
		t.mu.Unlock()
		out.released(p.direction, active)
	}
	ref.s.mu.Unlock()
	t.dispatch(&out)
	return true
}

// Tick advances timers and consecutive frame pacing of every active channel.
func (t *TransportLayer) Tick(now time.Time) {
	t.mu.Lock()
	rx := t.rx.snapshot()
	tx := t.tx.snapshot()
	t.mu.Unlock()

	for _, ref := range rx {
		step(t, &t.rx, ref, func(c *rxChannel, out *outbox) bool { return c.tick(t, now, out) })
	}
	for _, ref := range tx {
		step(t, &t.tx, ref, func(c *txChannel, out *outbox) bool { return c.tick(t, now, out) })
	}
}

func (t *TransportLayer) cancel(h *Handle) bool {
	cancelled := false
	step(t, &t.tx, h.ref, func(c *txChannel, out *outbox) bool {
		cancelled = c.cancel(h, out)
		return cancelled
	})
	return cancelled
}

// Run calls Tick every period until ctx is done.
func (t *TransportLayer) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// Serve opens dev, feeds its frames into the layer and ticks every period until
// ctx is done or the device fails.
func (t *TransportLayer) Serve(ctx context.Context, dev driver.CANDriver, period time.Duration) error {
	if err := dev.Open(); err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- dev.Run(ctx, t)
		cancel()
	}()
	_ = t.Run(ctx, period)
	if err := <-errc; err != nil {
		return fmt.Errorf("%s: %w", t.cfg.Name, err)
	}
	return nil
}

// Close aborts every active transfer with Cancelled and rejects new ones.
func (t *TransportLayer) Close() {
	t.mu.Lock()
	t.closed = true
	rx := t.rx.snapshot()
	tx := t.tx.snapshot()
	t.mu.Unlock()

	for _, ref := range rx {
		step(t, &t.rx, ref, func(c *rxChannel, out *outbox) bool {
			if !c.active() {
				return c.state == rxIdle
			}
			return c.abort(out, Cancelled, ErrCancelled)
		})
	}
	for _, ref := range tx {
		step(t, &t.tx, ref, func(c *txChannel, out *outbox) bool {
			if !c.active() {
				return c.state == txIdle
			}
			return c.finish(out, Cancelled, ErrCancelled)
		})
	}
}
