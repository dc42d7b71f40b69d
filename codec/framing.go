package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
)

const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30

	classicLength            = 8
	maxShortFirstFrameLength = 0xFFF
	maxInt                   = int(^uint(0) >> 1)
)

var (
	ErrFrameTooLarge   = errors.New("payload does not fit in frame")
	ErrEmptyPayload    = errors.New("empty payload")
	ErrSequenceNumber  = errors.New("sequence number must be between 0 and 15")
	ErrFrameLength     = errors.New("invalid frame length")
	ErrPrefixTooLong   = errors.New("address prefix longer than one byte")
	ErrMessageTooLarge = errors.New("message length exceeds 32-bit first frame")
)

var fdLengths = []int{8, 12, 16, 20, 24, 32, 48, 64}

// ValidFrameLength reports whether n is a CAN or CAN FD data length.
func ValidFrameLength(n int) bool {
	for _, l := range fdLengths {
		if l == n {
			return true
		}
	}
	return false
}

// RoundUpFrameLength returns the smallest valid frame length holding n bytes.
func RoundUpFrameLength(n int) int {
	if n <= classicLength {
		return n
	}
	for _, l := range fdLengths {
		if l >= n {
			return l
		}
	}
	return fdLengths[len(fdLengths)-1]
}

// Codec encodes and decodes frames for one link MTU.
type Codec struct {
	// FrameLength is the link MTU: 8 for classic CAN, up to 64 for CAN FD.
	FrameLength int
	// Padding fills unused trailing bytes when set.
	Padding *byte
}

func New(frameLength int, padding *byte) (Codec, error) {
	if !ValidFrameLength(frameLength) {
		return Codec{}, fmt.Errorf("%w: %d", ErrFrameLength, frameLength)
	}
	return Codec{FrameLength: frameLength, Padding: padding}, nil
}

// Decode rejects frames longer than the MTU before parsing them.
func (c Codec) Decode(format addressing.Format, data []byte) Frame {
	if len(data) > c.FrameLength {
		return invalid(UnknownType, "frame of %d bytes exceeds MTU %d", len(data), c.FrameLength)
	}
	return Decode(format, data)
}

// SingleFrameCapacity is the largest payload sent as one single frame.
func (c Codec) SingleFrameCapacity(format addressing.Format) int {
	return singleFrameLimit(format.HeaderOffset(), c.FrameLength)
}

// FirstFrameCapacity is the number of payload bytes carried by a first frame.
func (c Codec) FirstFrameCapacity(format addressing.Format, total int) int {
	header := 2
	if total > maxShortFirstFrameLength {
		header = 6
	}
	return c.FrameLength - format.HeaderOffset() - header
}

func (c Codec) ConsecutiveFrameCapacity(format addressing.Format) int {
	return c.FrameLength - format.HeaderOffset() - 1
}

func checkPrefix(prefix []byte) error {
	if len(prefix) > 1 {
		return ErrPrefixTooLong
	}
	return nil
}

func (c Codec) EncodeSingleFrame(prefix, data []byte) ([]byte, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	off := len(prefix)
	if limit := singleFrameLimit(off, c.FrameLength); len(data) > limit {
		return nil, fmt.Errorf("%w: single frame holds %d bytes, got %d", ErrFrameTooLarge, limit, len(data))
	}
	out := make([]byte, 0, c.FrameLength)
	out = append(out, prefix...)
	if len(data) <= classicLength-off-1 {
		out = append(out, pciSingleFrame|byte(len(data)))
	} else {
		// CAN FD 使用长度转义
		out = append(out, pciSingleFrame, byte(len(data)))
	}
	out = append(out, data...)
	return c.pad(out), nil
}

// EncodeFirstFrame builds a first frame announcing total bytes; chunk is the leading slice of the message.
func (c Codec) EncodeFirstFrame(prefix []byte, total int, chunk []byte) ([]byte, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	format := addressing.Normal
	if len(prefix) == 1 {
		format = addressing.Extended
	}
	if total <= c.SingleFrameCapacity(format) {
		return nil, fmt.Errorf("%w: %d bytes belong in a single frame", ErrFrameTooLarge, total)
	}
	if uint64(total) > 0xFFFFFFFF {
		return nil, ErrMessageTooLarge
	}
	if capacity := c.FirstFrameCapacity(format, total); len(chunk) > capacity || len(chunk) > total {
		return nil, fmt.Errorf("%w: first frame holds %d bytes, got %d", ErrFrameTooLarge, capacity, len(chunk))
	}
	out := make([]byte, 0, c.FrameLength)
	out = append(out, prefix...)
	if total <= maxShortFirstFrameLength {
		out = append(out, pciFirstFrame|byte(total>>8&0x0F), byte(total))
	} else {
		var long [4]byte
		binary.BigEndian.PutUint32(long[:], uint32(total))
		out = append(out, pciFirstFrame, 0x00)
		out = append(out, long[:]...)
	}
	out = append(out, chunk...)
	return c.pad(out), nil
}

func (c Codec) EncodeConsecutiveFrame(prefix []byte, seq uint8, chunk []byte) ([]byte, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if seq > 0x0F {
		return nil, ErrSequenceNumber
	}
	if len(chunk) == 0 {
		return nil, ErrEmptyPayload
	}
	if capacity := c.FrameLength - len(prefix) - 1; len(chunk) > capacity {
		return nil, fmt.Errorf("%w: consecutive frame holds %d bytes, got %d", ErrFrameTooLarge, capacity, len(chunk))
	}
	out := make([]byte, 0, c.FrameLength)
	out = append(out, prefix...)
	out = append(out, pciConsecutiveFrame|seq)
	out = append(out, chunk...)
	return c.pad(out), nil
}

func (c Codec) EncodeFlowControlFrame(prefix []byte, status FlowStatus, blockSize uint8, stmin time.Duration) ([]byte, error) {
	if err := checkPrefix(prefix); err != nil {
		return nil, err
	}
	if status > Overflow {
		return nil, fmt.Errorf("reserved flow status %d", status)
	}
	out := make([]byte, 0, c.FrameLength)
	out = append(out, prefix...)
	out = append(out, pciFlowControl|byte(status), blockSize, EncodeSeparationTime(stmin))
	return c.pad(out), nil
}

// pad fills the frame up to the configured length. Frames above 8 bytes are always
// rounded up to a valid CAN FD length.
func (c Codec) pad(frame []byte) []byte {
	target := len(frame)
	filler := byte(0x00)
	if c.Padding != nil {
		filler = *c.Padding
		if target < classicLength {
			target = classicLength
		}
	}
	target = RoundUpFrameLength(target)
	for len(frame) < target {
		frame = append(frame, filler)
	}
	return frame
}
