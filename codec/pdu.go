package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
)

// PCIType is the high nibble of the protocol control information byte.
type PCIType uint8

const (
	SingleFrameType PCIType = iota
	FirstFrameType
	ConsecutiveFrameType
	FlowControlType
	UnknownType PCIType = 0xFF
)

func (t PCIType) String() string {
	switch t {
	case SingleFrameType:
		return "SF"
	case FirstFrameType:
		return "FF"
	case ConsecutiveFrameType:
		return "CF"
	case FlowControlType:
		return "FC"
	default:
		return "??"
	}
}

type FlowStatus uint8

const (
	ContinueToSend FlowStatus = iota
	Wait
	Overflow
)

func (s FlowStatus) String() string {
	switch s {
	case ContinueToSend:
		return "CTS"
	case Wait:
		return "WAIT"
	case Overflow:
		return "OVFLW"
	default:
		return fmt.Sprintf("FlowStatus(%d)", uint8(s))
	}
}

// Frame is one decoded transport frame. Data slices alias the decoded buffer.
type Frame interface {
	Type() PCIType
	isFrame()
}

type SingleFrame struct{ Data []byte }

type FirstFrame struct {
	TotalSize int
	Data      []byte
}

type ConsecutiveFrame struct {
	SequenceNumber uint8
	Data           []byte
}

type FlowControlFrame struct {
	Status         FlowStatus
	BlockSize      uint8
	SeparationTime time.Duration
}

// InvalidFrame is returned for anything that cannot be a well-formed frame.
type InvalidFrame struct {
	PCIType PCIType
	Reason  string
}

func (SingleFrame) Type() PCIType      { return SingleFrameType }
func (FirstFrame) Type() PCIType       { return FirstFrameType }
func (ConsecutiveFrame) Type() PCIType { return ConsecutiveFrameType }
func (FlowControlFrame) Type() PCIType { return FlowControlType }
func (f InvalidFrame) Type() PCIType   { return f.PCIType }

func (SingleFrame) isFrame()      {}
func (FirstFrame) isFrame()       {}
func (ConsecutiveFrame) isFrame() {}
func (FlowControlFrame) isFrame() {}
func (InvalidFrame) isFrame()     {}

func (f InvalidFrame) String() string {
	return fmt.Sprintf("invalid %s frame: %s", f.PCIType, f.Reason)
}

func invalid(t PCIType, format string, args ...any) InvalidFrame {
	return InvalidFrame{PCIType: t, Reason: fmt.Sprintf(format, args...)}
}

// DecodeSeparationTime converts an STmin byte. Reserved values count as 127ms.
func DecodeSeparationTime(b byte) time.Duration {
	if b <= 0x7F {
		return time.Duration(b) * time.Millisecond
	}
	if b >= 0xF1 && b <= 0xF9 {
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	}
	return 127 * time.Millisecond
}

// EncodeSeparationTime returns the smallest STmin byte not shorter than d.
func EncodeSeparationTime(d time.Duration) byte {
	const step = 100 * time.Microsecond
	switch {
	case d <= 0:
		return 0
	case d < time.Millisecond:
		n := (d + step - 1) / step
		if n >= 10 {
			return 0x01
		}
		return 0xF0 + byte(n)
	default:
		ms := (d + time.Millisecond - 1) / time.Millisecond
		if ms > 0x7F {
			return 0x7F
		}
		return byte(ms)
	}
}

// singleFrameLimit is the largest SF payload a frame of rxLength bytes can carry.
func singleFrameLimit(offset, rxLength int) int {
	if rxLength <= classicLength {
		return classicLength - offset - 1
	}
	return rxLength - offset - 2
}

// Decode parses a raw CAN payload. It never fails: malformed input yields InvalidFrame.
func Decode(format addressing.Format, data []byte) Frame {
	off := format.HeaderOffset()
	if len(data) <= off {
		return invalid(UnknownType, "no PCI byte in %d byte frame", len(data))
	}
	payload := data[off:]
	low := payload[0] & 0x0F

	switch PCIType(payload[0] >> 4) {
	case SingleFrameType:
		if low != 0 {
			// 短格式只允许出现在 CAN_DL <= 8 的帧里
			if len(data) > classicLength {
				return invalid(SingleFrameType, "short length form in %d byte frame", len(data))
			}
			if int(low) > len(payload)-1 {
				return invalid(SingleFrameType, "length %d exceeds %d available bytes", low, len(payload)-1)
			}
			return SingleFrame{Data: payload[1 : 1+int(low)]}
		}
		if len(data) <= classicLength {
			return invalid(SingleFrameType, "zero length")
		}
		length := int(payload[1])
		if length == 0 {
			return invalid(SingleFrameType, "zero escaped length")
		}
		if length > len(payload)-2 {
			return invalid(SingleFrameType, "escaped length %d exceeds %d available bytes", length, len(payload)-2)
		}
		return SingleFrame{Data: payload[2 : 2+length]}

	case FirstFrameType:
		if len(data) < classicLength {
			return invalid(FirstFrameType, "first frame of %d bytes is shorter than 8", len(data))
		}
		total := int(low)<<8 | int(payload[1])
		start := 2
		if total == 0 {
			if len(payload) < 6 {
				return invalid(FirstFrameType, "truncated 32-bit length")
			}
			long := binary.BigEndian.Uint32(payload[2:6])
			if long <= maxShortFirstFrameLength {
				return invalid(FirstFrameType, "32-bit length %d fits 12 bits", long)
			}
			if uint64(long) > uint64(maxInt) {
				return invalid(FirstFrameType, "length %d not addressable", long)
			}
			total = int(long)
			start = 6
		}
		if limit := singleFrameLimit(off, len(data)); total <= limit {
			return invalid(FirstFrameType, "total size %d fits a single frame (limit %d)", total, limit)
		}
		return FirstFrame{TotalSize: total, Data: payload[start:]}

	case ConsecutiveFrameType:
		if len(payload) < 2 {
			return invalid(ConsecutiveFrameType, "no data")
		}
		return ConsecutiveFrame{SequenceNumber: low, Data: payload[1:]}

	case FlowControlType:
		if len(payload) < 3 {
			return invalid(FlowControlType, "flow control needs 3 bytes, got %d", len(payload))
		}
		if FlowStatus(low) > Overflow {
			return invalid(FlowControlType, "reserved flow status %d", low)
		}
		return FlowControlFrame{
			Status:         FlowStatus(low),
			BlockSize:      payload[1],
			SeparationTime: DecodeSeparationTime(payload[2]),
		}

	default:
		return invalid(UnknownType, "unknown PCI nibble %#x", payload[0]>>4)
	}
}
