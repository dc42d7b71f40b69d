package tp

import (
	"errors"
	"fmt"
	"time"

	"github.com/LoveWonYoung/docan/addressing"
	"github.com/LoveWonYoung/docan/codec"
)

var ErrInvalidConfig = errors.New("invalid transport config")

// Config defines the configuration of one transport interface.
type Config struct {
	// Name labels logs and metrics of this interface.
	Name string `mapstructure:"name"`

	// PaddingByte, if not nil, is used to pad frames to declared length (8 or next FD length).
	PaddingByte *byte `mapstructure:"padding_byte"`
	// TxDataLength is the link MTU: 8 for CAN 2.0, up to 64 for CAN FD.
	TxDataLength int `mapstructure:"tx_data_length"`

	// MaxConcurrentChannels bounds active channels per direction.
	MaxConcurrentChannels int `mapstructure:"max_concurrent_channels"`
	// MaxMessageSize bounds reassembled and transmitted payloads.
	MaxMessageSize int `mapstructure:"max_message_size"`

	// Transmitter Side Timeouts
	TimeoutN_As time.Duration `mapstructure:"timeout_n_as"` // Time for transmission of SF/FF on sender side
	TimeoutN_Bs time.Duration `mapstructure:"timeout_n_bs"` // Time until reception of FlowControl
	TimeoutN_Cs time.Duration `mapstructure:"timeout_n_cs"` // Time until transmission of next CF once due

	// Receiver Side Timeouts
	TimeoutN_Br time.Duration `mapstructure:"timeout_n_br"` // Time until transmission of FlowControl
	TimeoutN_Cr time.Duration `mapstructure:"timeout_n_cr"` // Time until reception of next CF

	// Receiver parameters announced in FlowControl. BlockSize 0 means unlimited.
	BlockSize      int           `mapstructure:"block_size"`
	SeparationTime time.Duration `mapstructure:"separation_time"`

	// MinTxSeparationTime is the lower bound used between our own consecutive frames,
	// whatever the receiver asked for.
	MinTxSeparationTime time.Duration `mapstructure:"min_tx_separation_time"`

	// MaxWaitFrames (WFTmax) is the number of FlowControl Wait frames tolerated per block.
	MaxWaitFrames int `mapstructure:"max_wait_frames"`

	Connections []addressing.Connection `mapstructure:"connections"`
}

// DefaultConfig returns the standard ISO-15765-2 default values.
func DefaultConfig() Config {
	return Config{
		Name:         "can0",
		PaddingByte:  nil, // No padding by default
		TxDataLength: 8,

		MaxConcurrentChannels: 4,
		MaxMessageSize:        4095,

		TimeoutN_As: 1000 * time.Millisecond,
		TimeoutN_Bs: 1000 * time.Millisecond,
		TimeoutN_Cs: 1000 * time.Millisecond,

		TimeoutN_Br: 1000 * time.Millisecond,
		TimeoutN_Cr: 1000 * time.Millisecond,

		BlockSize:      0,
		SeparationTime: 0,

		MaxWaitFrames: 0,
	}
}

// Validate checks if the configuration parameters are valid.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if !codec.ValidFrameLength(c.TxDataLength) {
		return fail("tx_data_length %d is not a CAN/CAN FD length", c.TxDataLength)
	}
	if c.MaxConcurrentChannels < 1 {
		return fail("max_concurrent_channels must be at least 1")
	}
	if c.MaxMessageSize < 1 || int64(c.MaxMessageSize) > 0xFFFFFFFF {
		return fail("max_message_size %d out of range", c.MaxMessageSize)
	}
	if c.BlockSize < 0 || c.BlockSize > 0xFF {
		return fail("block_size %d out of range", c.BlockSize)
	}
	if c.SeparationTime < 0 || c.SeparationTime > 127*time.Millisecond {
		return fail("separation_time %v out of range", c.SeparationTime)
	}
	if c.MinTxSeparationTime < 0 {
		return fail("min_tx_separation_time must not be negative")
	}
	if c.MaxWaitFrames < 0 {
		return fail("max_wait_frames must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"timeout_n_as": c.TimeoutN_As,
		"timeout_n_bs": c.TimeoutN_Bs,
		"timeout_n_cs": c.TimeoutN_Cs,
		"timeout_n_br": c.TimeoutN_Br,
		"timeout_n_cr": c.TimeoutN_Cr,
	} {
		if d <= 0 {
			return fail("%s must be positive", name)
		}
	}
	return nil
}

// Codec returns the frame codec matching the link settings.
func (c *Config) Codec() (codec.Codec, error) {
	return codec.New(c.TxDataLength, c.PaddingByte)
}

// Directory builds the connection table declared in the configuration.
func (c *Config) Directory(opts ...addressing.DirectoryOption) (*addressing.Directory, error) {
	return addressing.NewDirectory(c.Connections, opts...)
}
