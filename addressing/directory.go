package addressing

import (
	"fmt"
)

const (
	// NormalFixedPhysical is the 29-bit 0x18DA<TA><SA> priority/format base.
	NormalFixedPhysical uint32 = 0x18DA0000
	// NormalFixedFunctional is the 29-bit 0x18DB<TA><SA> base.
	NormalFixedFunctional uint32 = 0x18DB0000
)

// NormalFixedID builds a normal-fixed 29-bit identifier.
func NormalFixedID(target, source byte, functional bool) uint32 {
	base := NormalFixedPhysical
	if functional {
		base = NormalFixedFunctional
	}
	return base | uint32(target)<<8 | uint32(source)
}

// Directory is the static table of connections known to one interface.
type Directory struct {
	conns      []Connection
	fixed      bool
	fixedLocal byte
}

type DirectoryOption func(*Directory)

// WithNormalFixed enables normal-fixed 29-bit addressing for the given local address.
// Any remote 8-bit address can then be reached without a static connection.
func WithNormalFixed(local byte) DirectoryOption {
	return func(d *Directory) {
		d.fixed = true
		d.fixedLocal = local
	}
}

func NewDirectory(conns []Connection, opts ...DirectoryOption) (*Directory, error) {
	d := &Directory{}
	for _, opt := range opts {
		opt(d)
	}
	seen := make(map[Pair]string, len(conns))
	for _, c := range conns {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if !c.RxOnly {
			if other, ok := seen[c.TxPair()]; ok {
				return nil, fmt.Errorf("%w %q: pair %s already used by %q", ErrInvalidConnection, c.Name, c.TxPair(), other)
			}
			seen[c.TxPair()] = c.Name
		}
		d.conns = append(d.conns, c)
	}
	return d, nil
}

func (d *Directory) Connections() []Connection {
	out := make([]Connection, len(d.conns))
	copy(out, d.conns)
	return out
}

// NormalFixed reports the local address of the normal-fixed scheme, if enabled.
func (d *Directory) NormalFixed() (byte, bool) {
	return d.fixedLocal, d.fixed
}

// Transmit finds the connection used to send frames for pair.
func (d *Directory) Transmit(pair Pair) (Connection, bool) {
	for _, c := range d.conns {
		if !c.RxOnly && c.TxPair() == pair {
			return c, true
		}
	}
	if d.fixed && pair.Format == Normal && pair.Source == uint16(d.fixedLocal) && pair.Target <= 0xFF {
		return d.fixedConnection(byte(pair.Target), false), true
	}
	return Connection{}, false
}

// Receive finds the connection that frames for pair arrive on.
func (d *Directory) Receive(pair Pair) (Connection, bool) {
	for _, c := range d.conns {
		if !c.TxOnly && c.RxPair() == pair {
			return c, true
		}
	}
	if d.fixed && pair.Format == Normal && pair.Target == uint16(d.fixedLocal) && pair.Source <= 0xFF {
		return d.fixedConnection(byte(pair.Source), false), true
	}
	return Connection{}, false
}

func (d *Directory) fixedConnection(remote byte, functional bool) Connection {
	return Connection{
		Name:       fmt.Sprintf("fixed-%02x", remote),
		Local:      uint16(d.fixedLocal),
		Remote:     uint16(remote),
		Format:     Normal,
		TxID:       NormalFixedID(remote, d.fixedLocal, functional),
		RxID:       NormalFixedID(d.fixedLocal, remote, functional),
		Extended:   true,
		Functional: functional,
	}
}
