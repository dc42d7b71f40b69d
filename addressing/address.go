package addressing

import (
	"errors"
	"fmt"
)

// Format selects where the protocol control information starts inside a CAN frame.
type Format uint8

const (
	// Normal addressing carries the PCI in the first data byte.
	Normal Format = iota
	// Extended addressing prepends the target address as the first data byte.
	Extended
	// Mixed addressing prepends an address extension byte.
	Mixed
)

func (f Format) String() string {
	switch f {
	case Normal:
		return "normal"
	case Extended:
		return "extended"
	case Mixed:
		return "mixed"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// HeaderOffset is the number of address bytes preceding the PCI.
func (f Format) HeaderOffset() int {
	if f == Extended || f == Mixed {
		return 1
	}
	return 0
}

func (f Format) valid() bool {
	return f <= Mixed
}

// Pair identifies one logical direction of a conversation.
type Pair struct {
	Source uint16
	Target uint16
	Format Format
}

func (p Pair) String() string {
	return fmt.Sprintf("%#02x->%#02x/%s", p.Source, p.Target, p.Format)
}

// Reverse swaps source and target.
func (p Pair) Reverse() Pair {
	return Pair{Source: p.Target, Target: p.Source, Format: p.Format}
}

func (p Pair) Equal(o Pair) bool {
	return p == o
}

// Compare orders pairs by source, target, then format.
func (p Pair) Compare(o Pair) int {
	switch {
	case p.Source != o.Source:
		return cmpUint(uint32(p.Source), uint32(o.Source))
	case p.Target != o.Target:
		return cmpUint(uint32(p.Target), uint32(o.Target))
	default:
		return cmpUint(uint32(p.Format), uint32(o.Format))
	}
}

func (p Pair) Less(o Pair) bool {
	return p.Compare(o) < 0
}

func cmpUint(a, b uint32) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

const (
	max11BitID = 0x7FF
	max29BitID = 0x1FFFFFFF
)

var ErrInvalidConnection = errors.New("invalid connection")

// Connection binds a local/remote logical address pair to CAN identifiers.
type Connection struct {
	Name        string `mapstructure:"name" toml:"name"`
	Local       uint16 `mapstructure:"local" toml:"local"`
	Remote      uint16 `mapstructure:"remote" toml:"remote"`
	Format      Format `mapstructure:"format" toml:"format"`
	TxID        uint32 `mapstructure:"tx_id" toml:"tx_id"`
	RxID        uint32 `mapstructure:"rx_id" toml:"rx_id"`
	Extended    bool   `mapstructure:"extended" toml:"extended"`
	FD          bool   `mapstructure:"fd" toml:"fd"`
	TxExtension byte   `mapstructure:"tx_extension" toml:"tx_extension"`
	RxExtension byte   `mapstructure:"rx_extension" toml:"rx_extension"`
	// Functional connections only carry single frames.
	Functional bool `mapstructure:"functional" toml:"functional"`
	// RxOnly connections never transmit; TxOnly never receive.
	RxOnly bool `mapstructure:"rx_only" toml:"rx_only"`
	TxOnly bool `mapstructure:"tx_only" toml:"tx_only"`
}

// TxPair is the pair used for frames we transmit.
func (c Connection) TxPair() Pair {
	return Pair{Source: c.Local, Target: c.Remote, Format: c.Format}
}

// RxPair is the pair of frames addressed to us on this connection.
func (c Connection) RxPair() Pair {
	return Pair{Source: c.Remote, Target: c.Local, Format: c.Format}
}

// TxPrefix returns the address bytes placed before the PCI of transmitted frames.
func (c Connection) TxPrefix() []byte {
	if c.Format.HeaderOffset() == 0 {
		return nil
	}
	return []byte{c.TxExtension}
}

func (c Connection) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidConnection, c.Name, fmt.Sprintf(format, args...))
	}
	if !c.Format.valid() {
		return fail("unknown addressing format %d", c.Format)
	}
	if c.RxOnly && c.TxOnly {
		return fail("connection cannot be tx only and rx only")
	}
	limit := uint32(max11BitID)
	if c.Extended {
		limit = max29BitID
	}
	if !c.RxOnly && c.TxID > limit {
		return fail("txid %#x exceeds %#x", c.TxID, limit)
	}
	if !c.TxOnly && c.RxID > limit {
		return fail("rxid %#x exceeds %#x", c.RxID, limit)
	}
	if !c.RxOnly && !c.TxOnly && c.TxID == c.RxID && c.TxExtension == c.RxExtension {
		return fail("txid and rxid must be different")
	}
	if c.Format != Normal && (c.Local > 0xFF || c.Remote > 0xFF) {
		return fail("%s addressing requires 8-bit logical addresses", c.Format)
	}
	return nil
}
