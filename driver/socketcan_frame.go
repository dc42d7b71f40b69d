package driver

import (
	"encoding/binary"
	"fmt"

	"github.com/LoveWonYoung/docan/filter"
)

// linux/can.h 中的常量
const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canSFFMask = 0x000007FF
	canEFFMask = 0x1FFFFFFF

	canMTU   = 16
	canFDMTU = 72

	canFDBRS = 0x01
	canFDFDF = 0x04
)

// marshalSocketCAN 按 struct can_frame / struct canfd_frame 布局编码
func marshalSocketCAN(msg CanMessage) ([]byte, error) {
	limit := 8
	size := canMTU
	if msg.IsFD {
		limit = 64
		size = canFDMTU
	}
	if len(msg.Data) > limit {
		return nil, fmt.Errorf("%w: %d data bytes", ErrUnsupported, len(msg.Data))
	}
	id := msg.ArbitrationID & canSFFMask
	if msg.IsExtendedID {
		id = msg.ArbitrationID&canEFFMask | canEFFFlag
	}
	buf := make([]byte, size)
	binary.NativeEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(msg.Data))
	if msg.IsFD {
		flags := byte(canFDFDF)
		if msg.BitrateSwitch {
			flags |= canFDBRS
		}
		buf[5] = flags
	}
	copy(buf[8:], msg.Data)
	return buf, nil
}

// unmarshalSocketCAN 解析内核返回的帧；错误帧和远程帧返回 ok=false
func unmarshalSocketCAN(buf []byte) (CanMessage, bool, error) {
	if len(buf) != canMTU && len(buf) != canFDMTU {
		return CanMessage{}, false, fmt.Errorf("unexpected socketcan frame size %d", len(buf))
	}
	raw := binary.NativeEndian.Uint32(buf[0:4])
	if raw&(canERRFlag|canRTRFlag) != 0 {
		return CanMessage{}, false, nil
	}
	length := int(buf[4])
	if length > len(buf)-8 {
		return CanMessage{}, false, fmt.Errorf("socketcan length %d exceeds frame", length)
	}
	msg := CanMessage{
		IsExtendedID: raw&canEFFFlag != 0,
		IsFD:         len(buf) == canFDMTU,
		Data:         append([]byte(nil), buf[8:8+length]...),
	}
	if msg.IsExtendedID {
		msg.ArbitrationID = raw & canEFFMask
	} else {
		msg.ArbitrationID = raw & canSFFMask
	}
	if msg.IsFD {
		msg.BitrateSwitch = buf[5]&canFDBRS != 0
	}
	return msg, true, nil
}

// kernelFilter 把接收规则转换为 CAN_RAW_FILTER 的 id/mask
func kernelFilter(e filter.IDMask) (id, mask uint32) {
	id = e.ID & e.Mask
	mask = e.Mask | canEFFFlag | canRTRFlag
	if e.Extended {
		id |= canEFFFlag
	}
	return id, mask
}
