package driver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy 表示发送邮箱已满，调用方应稍后重试
	ErrBusy = errors.New("can link busy")
	// ErrClosed 表示设备未打开或已关闭
	ErrClosed = errors.New("can link closed")
	// ErrUnsupported 表示设备不支持该帧格式
	ErrUnsupported = errors.New("frame format not supported by device")
)

// CanType 区分经典 CAN 与 CAN FD
type CanType byte

const (
	CAN   CanType = 0
	CANFD CanType = 1
)

// MaxDataLength 返回该类型单帧最大数据长度
func (t CanType) MaxDataLength() int {
	if t == CANFD {
		return 64
	}
	return 8
}

// CanMessage 代表一个 CAN 报文 (ISO-11898)。
type CanMessage struct {
	ArbitrationID uint32
	Data          []byte
	IsExtendedID  bool
	IsFD          bool
	BitrateSwitch bool
}

// Clone 复制报文，数据不与原报文共享
func (m CanMessage) Clone() CanMessage {
	m.Data = append([]byte(nil), m.Data...)
	return m
}

func (m CanMessage) String() string {
	var idStr string
	if m.IsExtendedID {
		idStr = fmt.Sprintf("%08x", m.ArbitrationID)
	} else {
		idStr = fmt.Sprintf("%03x", m.ArbitrationID)
	}
	var flags []string
	if m.IsFD {
		flags = append(flags, "fd")
	}
	if m.BitrateSwitch {
		flags = append(flags, "bs")
	}
	var flagStr string
	if len(flags) > 0 {
		flagStr = fmt.Sprintf(" (%s)", strings.Join(flags, ","))
	}
	return fmt.Sprintf("<CanMessage %s [%d]%s \"%s\">", idStr, len(m.Data), flagStr, hex.EncodeToString(m.Data))
}

// Link 是传输层使用的发送接口。
// SendFrame 不阻塞；邮箱满时返回 ErrBusy。
type Link interface {
	SendFrame(msg CanMessage) error
}

// FrameListener 接收链路上收到的每一帧。调用方在回调返回后可以复用 Data。
type FrameListener interface {
	OnFrameReceived(msg CanMessage)
}

// FrameListenerFunc 把普通函数适配为 FrameListener
type FrameListenerFunc func(msg CanMessage)

func (f FrameListenerFunc) OnFrameReceived(msg CanMessage) { f(msg) }

// CANDriver 定义了CAN/CAN-FD驱动的统一接口
type CANDriver interface {
	Link
	Open() error
	// Run 把收到的报文交给 l，直到 ctx 结束或设备出错。
	Run(ctx context.Context, l FrameListener) error
	Close() error
}
