package driver

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SLCAN 通过串口使用 Lawicel ASCII 协议访问 USB-CAN 适配器，只支持经典 CAN
type SLCAN struct {
	portName string
	bitrate  int
	opener   func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)
	log      *zap.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
}

var _ CANDriver = (*SLCAN)(nil)

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

const slcanReadTimeout = 50 * time.Millisecond

type SLCANOption func(*SLCAN)

func WithSLCANLogger(l *zap.Logger) SLCANOption {
	return func(s *SLCAN) { s.log = l }
}

// WithSerialOpener 替换串口打开方式，测试时可以接入内存管道
func WithSerialOpener(open func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)) SLCANOption {
	return func(s *SLCAN) { s.opener = open }
}

func NewSLCAN(portName string, bitrate int, opts ...SLCANOption) *SLCAN {
	s := &SLCAN{
		portName: portName,
		bitrate:  bitrate,
		log:      zap.NewNop(),
		opener: func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
			return serial.Open(name, mode)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SLCAN) Open() error {
	code, ok := slcanBitrates[s.bitrate]
	if !ok {
		return fmt.Errorf("slcan: unsupported bitrate %d", s.bitrate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := s.opener(s.portName, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("slcan: open %s: %w", s.portName, err)
	}
	if t, ok := port.(interface{ SetReadTimeout(time.Duration) error }); ok {
		if err := t.SetReadTimeout(slcanReadTimeout); err != nil {
			_ = port.Close()
			return fmt.Errorf("slcan: read timeout: %w", err)
		}
	}
	// 先关闭通道再设置波特率，最后打开
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(port, cmd); err != nil {
			_ = port.Close()
			return fmt.Errorf("slcan: init %q: %w", cmd, err)
		}
	}
	s.port = port
	s.log.Info("slcan opened", zap.String("port", s.portName), zap.Int("bitrate", s.bitrate))
	return nil
}

func (s *SLCAN) SendFrame(msg CanMessage) error {
	line, err := EncodeSLCAN(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrClosed
	}
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

func (s *SLCAN) Run(ctx context.Context, l FrameListener) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}
	var pending []byte
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("slcan: read: %w", err)
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexAny(pending, "\r\a")
			if i < 0 {
				break
			}
			line := string(pending[:i])
			pending = pending[i+1:]
			if line == "" || line == "z" || line == "Z" {
				continue
			}
			msg, err := ParseSLCAN(line)
			if err != nil {
				s.log.Debug("ignoring slcan line", zap.String("line", line), zap.Error(err))
				continue
			}
			l.OnFrameReceived(msg)
		}
	}
	return nil
}

func (s *SLCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	_, _ = io.WriteString(s.port, "C\r")
	err := s.port.Close()
	s.port = nil
	return err
}

// EncodeSLCAN 生成 tiiildd..\r 或 Tiiiiiiiildd..\r 发送命令
func EncodeSLCAN(msg CanMessage) (string, error) {
	if msg.IsFD || len(msg.Data) > 8 {
		return "", fmt.Errorf("%w: slcan carries classic frames only", ErrUnsupported)
	}
	var b bytes.Buffer
	if msg.IsExtendedID {
		fmt.Fprintf(&b, "T%08X", msg.ArbitrationID&canEFFMask)
	} else {
		fmt.Fprintf(&b, "t%03X", msg.ArbitrationID&canSFFMask)
	}
	b.WriteByte('0' + byte(len(msg.Data)))
	for _, d := range msg.Data {
		fmt.Fprintf(&b, "%02X", d)
	}
	b.WriteByte('\r')
	return b.String(), nil
}

// ParseSLCAN 解析一条接收行（不含结尾的 \r）
func ParseSLCAN(line string) (CanMessage, error) {
	if line == "" {
		return CanMessage{}, errors.New("empty slcan line")
	}
	var idLen int
	var msg CanMessage
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		msg.IsExtendedID = true
	default:
		return CanMessage{}, fmt.Errorf("unsupported slcan command %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return CanMessage{}, fmt.Errorf("short slcan line %q", line)
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return CanMessage{}, fmt.Errorf("bad slcan id: %w", err)
	}
	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > 8 {
		return CanMessage{}, fmt.Errorf("bad slcan dlc %q", line[1+idLen])
	}
	hexData := line[2+idLen:]
	// 部分适配器会在数据后追加 4 位时间戳
	if len(hexData) == dlc*2+4 {
		hexData = hexData[:dlc*2]
	}
	if len(hexData) != dlc*2 {
		return CanMessage{}, fmt.Errorf("slcan data length mismatch in %q", line)
	}
	data, err := hex.DecodeString(hexData)
	if err != nil {
		return CanMessage{}, fmt.Errorf("bad slcan data: %w", err)
	}
	msg.ArbitrationID = uint32(id)
	msg.Data = data
	return msg, nil
}
