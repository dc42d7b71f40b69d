package tp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
	"github.com/LoveWonYoung/docan/driver"
	"go.uber.org/zap/zaptest"
)

// recordingLink captures every frame handed to the data link.
type recordingLink struct {
	mu     sync.Mutex
	frames []driver.CanMessage
	busy   int
	err    error
}

func (l *recordingLink) SendFrame(msg driver.CanMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy != 0 {
		if l.busy > 0 {
			l.busy--
		}
		return driver.ErrBusy
	}
	if l.err != nil {
		return l.err
	}
	l.frames = append(l.frames, msg.Clone())
	return nil
}

// setBusy makes the next n sends fail with ErrBusy; n < 0 keeps the link busy.
func (l *recordingLink) setBusy(n int) {
	l.mu.Lock()
	l.busy = n
	l.mu.Unlock()
}

func (l *recordingLink) take() []driver.CanMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.frames
	l.frames = nil
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type sendResult struct {
	pair    addressing.Pair
	outcome Outcome
}

type failure struct {
	pair    addressing.Pair
	outcome Outcome
}

// eventRecorder is a Listener collecting every notification.
type eventRecorder struct {
	mu       sync.Mutex
	messages []Message
	failures []failure
	sent     []sendResult
}

func (r *eventRecorder) MessageReceived(pair addressing.Pair, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Pair: pair, Payload: payload})
}

func (r *eventRecorder) ReceiveFailed(pair addressing.Pair, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, failure{pair: pair, outcome: outcome})
}

func (r *eventRecorder) SendComplete(h *Handle, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sendResult{pair: h.Pair(), outcome: outcome})
}

func (r *eventRecorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func (r *eventRecorder) Failures() []failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure(nil), r.failures...)
}

func (r *eventRecorder) Sent() []sendResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sendResult(nil), r.sent...)
}

// testConn is a tester (0xF1) talking to an ECU (0x10) on 0x7E0/0x7E8.
var testConn = addressing.Connection{
	Name:   "ecu",
	Local:  0xF1,
	Remote: 0x10,
	Format: addressing.Normal,
	TxID:   0x7E0,
	RxID:   0x7E8,
}

// peerConn is the ECU side of testConn.
var peerConn = addressing.Connection{
	Name:   "tester",
	Local:  0x10,
	Remote: 0xF1,
	Format: addressing.Normal,
	TxID:   0x7E8,
	RxID:   0x7E0,
}

type harness struct {
	layer *TransportLayer
	link  *recordingLink
	clock *fakeClock
	rec   *eventRecorder
}

func newHarness(t *testing.T, cfg Config, conns []addressing.Connection, opts ...Option) *harness {
	t.Helper()
	if conns == nil {
		conns = []addressing.Connection{testConn}
	}
	dir, err := addressing.NewDirectory(conns)
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	h := &harness{link: &recordingLink{}, clock: newFakeClock(), rec: &eventRecorder{}}
	opts = append([]Option{
		WithListener(h.rec),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(h.clock.Now),
	}, opts...)
	h.layer, err = NewTransportLayer(h.link, dir, cfg, opts...)
	if err != nil {
		t.Fatalf("NewTransportLayer: %v", err)
	}
	return h
}

// feed delivers a frame received on the given identifier.
func (h *harness) feed(id uint32, data ...byte) {
	h.layer.OnFrameReceived(driver.CanMessage{ArbitrationID: id, Data: data})
}

func (h *harness) tick(d time.Duration) {
	h.layer.Tick(h.clock.Advance(d))
}

func mustSend(t *testing.T, l *TransportLayer, pair addressing.Pair, payload []byte) *Handle {
	t.Helper()
	h, err := l.Send(pair, payload)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	return h
}

func outcomeOf(t *testing.T, h *Handle) Outcome {
	t.Helper()
	o, ok := h.Outcome()
	if !ok {
		t.Fatalf("transfer to %s still running", h.Pair())
	}
	return o
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

var errLinkDown = errors.New("link down")

func driverMessage(id uint32, extended bool, data ...byte) driver.CanMessage {
	return driver.CanMessage{ArbitrationID: id, IsExtendedID: extended, Data: data}
}
