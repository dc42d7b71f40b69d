package driver

import (
	"errors"
	"testing"
)

func TestSocketCANRejectsOversizedFrames(t *testing.T) {
	tests := []struct {
		name    string
		canType CanType
		msg     CanMessage
	}{
		{"fd frame on classic socket", CAN, CanMessage{ArbitrationID: 0x7E0, IsFD: true, Data: make([]byte, 12)}},
		{"classic payload too long", CAN, CanMessage{ArbitrationID: 0x7E0, Data: make([]byte, 9)}},
		{"fd payload too long", CANFD, CanMessage{ArbitrationID: 0x7E0, IsFD: true, Data: make([]byte, 65)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSocketCAN("vcan0", WithCanType(tt.canType))
			if err := s.SendFrame(tt.msg); !errors.Is(err, ErrUnsupported) {
				t.Errorf("SendFrame() = %v, want ErrUnsupported", err)
			}
		})
	}
}
