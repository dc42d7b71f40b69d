package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/LoveWonYoung/docan/filter"
	"go.bug.st/serial"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu   sync.Mutex
	msgs []CanMessage
}

func (c *collector) OnFrameReceived(msg CanMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg.Clone())
}

func (c *collector) snapshot() []CanMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CanMessage(nil), c.msgs...)
}

func TestLoopbackDelivery(t *testing.T) {
	bus := NewLoopbackBus(zaptest.NewLogger(t))
	a := bus.Port("a", 4)
	b := bus.Port("b", 4)
	if err := a.SendFrame(CanMessage{ArbitrationID: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed port err = %v", err)
	}
	_ = a.Open()
	_ = b.Open()

	data := []byte{0x02, 0x10, 0x01}
	if err := a.SendFrame(CanMessage{ArbitrationID: 0x7E0, Data: data}); err != nil {
		t.Fatal(err)
	}
	data[0] = 0xFF
	if a.Pending() != 0 {
		t.Errorf("sender must not receive its own frame")
	}
	var got collector
	if n := b.Drain(&got); n != 1 {
		t.Fatalf("drained %d frames", n)
	}
	msgs := got.snapshot()
	if msgs[0].ArbitrationID != 0x7E0 || !bytes.Equal(msgs[0].Data, []byte{0x02, 0x10, 0x01}) {
		t.Errorf("unexpected %v", msgs[0])
	}
	if len(a.WriteLog()) != 1 {
		t.Errorf("write log not recorded")
	}
	a.ClearWriteLog()
	if len(a.WriteLog()) != 0 {
		t.Errorf("write log not cleared")
	}
}

func TestCanTypeMaxDataLength(t *testing.T) {
	if CAN.MaxDataLength() != 8 || CANFD.MaxDataLength() != 64 {
		t.Errorf("max data length = %d / %d", CAN.MaxDataLength(), CANFD.MaxDataLength())
	}
}

func TestLoopbackBusyAndDrop(t *testing.T) {
	bus := NewLoopbackBus(nil)
	a := bus.Port("a", 0)
	b := bus.Port("b", 0)
	_ = a.Open()
	_ = b.Open()

	a.FailNext(2)
	for i := 0; i < 2; i++ {
		if err := a.SendFrame(CanMessage{ArbitrationID: 1}); !errors.Is(err, ErrBusy) {
			t.Fatalf("send %d err = %v, want ErrBusy", i, err)
		}
	}
	a.SetDropFunc(func(m CanMessage) bool { return m.ArbitrationID == 2 })
	_ = a.SendFrame(CanMessage{ArbitrationID: 1})
	_ = a.SendFrame(CanMessage{ArbitrationID: 2})
	if b.Pending() != 1 {
		t.Errorf("pending = %d, want 1", b.Pending())
	}
}

func TestLoopbackAutoResponseAndRun(t *testing.T) {
	bus := NewLoopbackBus(nil)
	a := bus.Port("a", 0)
	_ = a.Open()
	a.AddResponse(AutoResponse{
		TriggerID:   0x7E0,
		TriggerData: []byte{0x02, 0x3E},
		Response:    CanMessage{ArbitrationID: 0x7E8, Data: []byte{0x02, 0x7E, 0x00}},
	})
	_ = a.SendFrame(CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x3E, 0x00}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got collector
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, &got) }()

	deadline := time.Now().Add(time.Second)
	for len(got.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	msgs := got.snapshot()
	if len(msgs) != 1 || msgs[0].ArbitrationID != 0x7E8 {
		t.Fatalf("auto response not delivered: %v", msgs)
	}
}

func TestSocketCANFrameLayout(t *testing.T) {
	tests := []CanMessage{
		{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}},
		{ArbitrationID: 0x18DA10F1, IsExtendedID: true, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{ArbitrationID: 0x123, IsFD: true, BitrateSwitch: true, Data: bytes.Repeat([]byte{0xAB}, 64)},
	}
	for _, msg := range tests {
		buf, err := marshalSocketCAN(msg)
		if err != nil {
			t.Fatal(err)
		}
		got, ok, err := unmarshalSocketCAN(buf)
		if err != nil || !ok {
			t.Fatalf("unmarshal %v: ok=%v err=%v", msg, ok, err)
		}
		if got.String() != msg.String() {
			t.Errorf("got %v, want %v", got, msg)
		}
	}
	if _, err := marshalSocketCAN(CanMessage{Data: make([]byte, 9)}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("9 bytes on classic frame err = %v", err)
	}
}

func TestKernelFilter(t *testing.T) {
	id, mask := kernelFilter(filter.IDMask{ID: 0x7E8, Mask: 0x7FF})
	if id != 0x7E8 || mask != 0x7FF|canEFFFlag|canRTRFlag {
		t.Errorf("standard filter id=%#x mask=%#x", id, mask)
	}
	id, _ = kernelFilter(filter.IDMask{ID: 0x18DAF100, Mask: 0x1FFFFF00, Extended: true})
	if id != 0x18DAF100|canEFFFlag {
		t.Errorf("extended filter id=%#x", id)
	}
}

func TestSLCANLines(t *testing.T) {
	line, err := EncodeSLCAN(CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}})
	if err != nil || line != "t7E03021003\r" {
		t.Fatalf("line %q err %v", line, err)
	}
	line, _ = EncodeSLCAN(CanMessage{ArbitrationID: 0x18DA10F1, IsExtendedID: true})
	if line != "T18DA10F10\r" {
		t.Errorf("extended line %q", line)
	}
	if _, err := EncodeSLCAN(CanMessage{IsFD: true}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("fd frame err = %v", err)
	}

	tests := []struct {
		line string
		ok   bool
		want CanMessage
	}{
		{"t7E8306500000", false, CanMessage{}},
		{"t7E83065000", true, CanMessage{ArbitrationID: 0x7E8, Data: []byte{0x06, 0x50, 0x00}}},
		{"t7E830650001A2B", true, CanMessage{ArbitrationID: 0x7E8, Data: []byte{0x06, 0x50, 0x00}}},
		{"T18DAF1108AABBCCDDEEFF0011", true, CanMessage{ArbitrationID: 0x18DAF110, IsExtendedID: true, Data: []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11}}},
		{"x123", false, CanMessage{}},
		{"t7E", false, CanMessage{}},
		{"t7E89", false, CanMessage{}},
	}
	for _, tt := range tests {
		got, err := ParseSLCAN(tt.line)
		if tt.ok != (err == nil) {
			t.Errorf("%q: err = %v", tt.line, err)
			continue
		}
		if tt.ok && got.String() != tt.want.String() {
			t.Errorf("%q: got %v want %v", tt.line, got, tt.want)
		}
	}
}

// pipePort 模拟串口：写入记录到 written，读取来自 incoming
type pipePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	incoming *io.PipeReader
	closer   *io.PipeWriter
}

func (p *pipePort) Read(b []byte) (int, error) { return p.incoming.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) Close() error { return p.closer.Close() }

func (p *pipePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func TestSLCANDriver(t *testing.T) {
	r, w := io.Pipe()
	port := &pipePort{incoming: r, closer: w}
	dev := NewSLCAN("/dev/ttyUSB0", 500000, WithSerialOpener(func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
		if mode.BaudRate != 115200 {
			t.Errorf("baud %d", mode.BaudRate)
		}
		return port, nil
	}))
	if err := dev.Open(); err != nil {
		t.Fatal(err)
	}
	if err := dev.SendFrame(CanMessage{ArbitrationID: 0x7E0, Data: []byte{0x01, 0x3E}}); err != nil {
		t.Fatal(err)
	}
	if got := port.output(); got != "C\rS6\rO\rt7E02013E\r" {
		t.Errorf("serial output %q", got)
	}

	var got collector
	done := make(chan error, 1)
	go func() { done <- dev.Run(context.Background(), &got) }()
	_, _ = io.WriteString(w, "z\rt7E8")
	_, _ = io.WriteString(w, "3027E00\r")
	_ = w.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	msgs := got.snapshot()
	if len(msgs) != 1 || msgs[0].ArbitrationID != 0x7E8 || !bytes.Equal(msgs[0].Data, []byte{0x02, 0x7E, 0x00}) {
		t.Fatalf("received %v", msgs)
	}
	if err := NewSLCAN("x", 12345).Open(); err == nil {
		t.Errorf("unsupported bitrate must fail")
	}
}
