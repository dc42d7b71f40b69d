package logrecorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/LoveWonYoung/docan/driver"
	"github.com/fxamacker/cbor/v2"
)

const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

// Record 是报文记录文件中的一条，使用整数键的 CBOR 编码
type Record struct {
	Micros    int64  `cbor:"1,keyasint"`
	Direction string `cbor:"2,keyasint"`
	ID        uint32 `cbor:"3,keyasint"`
	Extended  bool   `cbor:"4,keyasint,omitempty"`
	FD        bool   `cbor:"5,keyasint,omitempty"`
	Data      []byte `cbor:"6,keyasint"`
	Err       string `cbor:"7,keyasint,omitempty"`
}

func (r Record) Time() time.Time {
	return time.UnixMicro(r.Micros)
}

func (r Record) Message() driver.CanMessage {
	return driver.CanMessage{ArbitrationID: r.ID, Data: r.Data, IsExtendedID: r.Extended, IsFD: r.FD}
}

// FrameRecorder 把收发的每一帧写入 CBOR 流
type FrameRecorder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	c   io.Closer
	now func() time.Time
}

func NewFrameRecorder(w io.Writer) *FrameRecorder {
	r := &FrameRecorder{enc: cbor.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// OpenFrameTrace 在 root 下的日期目录中创建按大小轮换的 name.cbor 记录文件
func OpenFrameTrace(root, name string, c Config) (*FrameRecorder, error) {
	dir, err := MakeDir(root, time.Now())
	if err != nil {
		return nil, err
	}
	return NewFrameRecorder(c.rotating(filepath.Join(dir, name+".cbor"))), nil
}

func (r *FrameRecorder) Record(direction string, msg driver.CanMessage, sendErr error) error {
	rec := Record{
		Direction: direction,
		ID:        msg.ArbitrationID,
		Extended:  msg.IsExtendedID,
		FD:        msg.IsFD,
		Data:      msg.Data,
	}
	if sendErr != nil {
		rec.Err = sendErr.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Micros = r.now().UnixMicro()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("frame record: %w", err)
	}
	return nil
}

func (r *FrameRecorder) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

// ReadRecords 读取 CBOR 记录流直到结束
func ReadRecords(rd io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(rd)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("frame record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

type recordingDriver struct {
	driver.CANDriver
	rec *FrameRecorder
}

// Wrap 返回记录所有收发报文的驱动，记录失败不影响收发
func Wrap(d driver.CANDriver, rec *FrameRecorder) driver.CANDriver {
	return &recordingDriver{CANDriver: d, rec: rec}
}

func (d *recordingDriver) SendFrame(msg driver.CanMessage) error {
	err := d.CANDriver.SendFrame(msg)
	_ = d.rec.Record(DirectionTx, msg, err)
	return err
}

func (d *recordingDriver) Run(ctx context.Context, l driver.FrameListener) error {
	return d.CANDriver.Run(ctx, driver.FrameListenerFunc(func(msg driver.CanMessage) {
		_ = d.rec.Record(DirectionRx, msg, nil)
		l.OnFrameReceived(msg)
	}))
}
