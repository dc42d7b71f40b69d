package codec

import (
	"bytes"
	"testing"

	"github.com/LoveWonYoung/docan/addressing"
)

func TestDecodeInvalidFrames(t *testing.T) {
	tests := []struct {
		name   string
		format addressing.Format
		data   []byte
		kind   PCIType
	}{
		{"empty", addressing.Normal, nil, UnknownType},
		{"extended without pci", addressing.Extended, []byte{0x10}, UnknownType},
		{"unknown nibble", addressing.Normal, []byte{0x40, 0x00}, UnknownType},
		{"sf zero length classic", addressing.Normal, []byte{0x00, 0x01, 0x02}, SingleFrameType},
		{"sf length beyond data", addressing.Normal, []byte{0x05, 0x01, 0x02}, SingleFrameType},
		{"sf short form in fd frame", addressing.Normal, append([]byte{0x03}, make([]byte, 11)...), SingleFrameType},
		{"sf escape zero", addressing.Normal, append([]byte{0x00, 0x00}, make([]byte, 10)...), SingleFrameType},
		{"sf escape beyond data", addressing.Normal, append([]byte{0x00, 0x20}, make([]byte, 10)...), SingleFrameType},
		{"ff too short", addressing.Normal, []byte{0x10, 0x14, 1, 2, 3}, FirstFrameType},
		{"ff fits single frame", addressing.Normal, []byte{0x10, 0x07, 1, 2, 3, 4, 5, 6}, FirstFrameType},
		{"ff zero total", addressing.Normal, []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 1, 2}, FirstFrameType},
		{"ff escape fits 12 bits", addressing.Normal, []byte{0x10, 0x00, 0x00, 0x00, 0x0F, 0xFF, 1, 2}, FirstFrameType},
		{"ff extended fits single frame", addressing.Extended, []byte{0xF1, 0x10, 0x06, 1, 2, 3, 4, 5}, FirstFrameType},
		{"cf without data", addressing.Normal, []byte{0x21}, ConsecutiveFrameType},
		{"fc truncated", addressing.Normal, []byte{0x30, 0x00}, FlowControlType},
		{"fc reserved status", addressing.Normal, []byte{0x33, 0x00, 0x00}, FlowControlType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.format, tt.data)
			inv, ok := got.(InvalidFrame)
			if !ok {
				t.Fatalf("expected InvalidFrame, got %#v", got)
			}
			if inv.PCIType != tt.kind {
				t.Errorf("kind = %s, want %s (%s)", inv.PCIType, tt.kind, inv.Reason)
			}
			if inv.Reason == "" {
				t.Errorf("invalid frame must carry a reason")
			}
		})
	}
}

func TestDecodeRejectsFramesAboveMTU(t *testing.T) {
	c := Codec{FrameLength: 8}
	got := c.Decode(addressing.Normal, make([]byte, 12))
	if _, ok := got.(InvalidFrame); !ok {
		t.Fatalf("12 byte frame on classic link decoded as %#v", got)
	}
}

func TestDecodeStripsAddressPrefix(t *testing.T) {
	got := Decode(addressing.Mixed, []byte{0xAE, 0x03, 0x22, 0xF1, 0x90, 0xCC, 0xCC, 0xCC})
	sf, ok := got.(SingleFrame)
	if !ok {
		t.Fatalf("got %#v", got)
	}
	if !bytes.Equal(sf.Data, []byte{0x22, 0xF1, 0x90}) {
		t.Errorf("data % X", sf.Data)
	}
}

func TestDecodeFlowControlIgnoresPadding(t *testing.T) {
	got := Decode(addressing.Normal, []byte{0x30, 0x08, 0xF3, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA})
	fc, ok := got.(FlowControlFrame)
	if !ok {
		t.Fatalf("got %#v", got)
	}
	if fc.Status != ContinueToSend || fc.BlockSize != 8 || fc.SeparationTime.Microseconds() != 300 {
		t.Errorf("unexpected %+v", fc)
	}
}
