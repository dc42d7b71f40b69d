package filter

import (
	"github.com/LoveWonYoung/docan/addressing"
)

// Route maps accepted frames to the address pair they belong to.
type Route struct {
	Name     string
	Rule     Rule
	Extended bool
	Format   addressing.Format
	// Extension is the expected first data byte for extended and mixed addressing.
	Extension byte
	Pair      addressing.Pair
	// Derive computes the pair from the identifier when set; Pair is ignored then.
	Derive     func(id uint32, extension byte) addressing.Pair
	Functional bool
}

type Resolution struct {
	Pair       addressing.Pair
	Functional bool
	Route      string
}

// Table is an ordered list of routes. The first matching route wins.
type Table struct {
	routes []Route
}

func NewTable(routes ...Route) *Table {
	return &Table{routes: routes}
}

func (t *Table) Add(r Route) {
	t.routes = append(t.routes, r)
}

func (t *Table) Len() int { return len(t.routes) }

// Resolve is a pure function of the table and the frame.
func (t *Table) Resolve(id uint32, extended bool, data []byte) (Resolution, bool) {
	for _, r := range t.routes {
		if r.Extended != extended || !r.Rule.Match(id) {
			continue
		}
		var ext byte
		if r.Format.HeaderOffset() > 0 {
			if len(data) == 0 || data[0] != r.Extension {
				continue
			}
			ext = data[0]
		}
		pair := r.Pair
		if r.Derive != nil {
			pair = r.Derive(id, ext)
		}
		return Resolution{Pair: pair, Functional: r.Functional, Route: r.Name}, true
	}
	return Resolution{}, false
}

// HardwareFilters merges every route rule into id/mask acceptance entries.
func (t *Table) HardwareFilters() []IDMask {
	var out []IDMask
	for _, r := range t.routes {
		hw := &Hardware{Extended: r.Extended}
		r.Rule.MergeInto(hw)
		out = append(out, hw.Entries...)
	}
	return out
}

// FromDirectory builds the receive routes of every connection in d.
func FromDirectory(d *addressing.Directory) *Table {
	t := NewTable()
	for _, c := range d.Connections() {
		if c.TxOnly {
			continue
		}
		t.Add(Route{
			Name:       c.Name,
			Rule:       Exact(c.RxID),
			Extended:   c.Extended,
			Format:     c.Format,
			Extension:  c.RxExtension,
			Pair:       c.RxPair(),
			Functional: c.Functional,
		})
	}
	if local, ok := d.NormalFixed(); ok {
		derive := func(id uint32, _ byte) addressing.Pair {
			return addressing.Pair{Source: uint16(id & 0xFF), Target: uint16(local), Format: addressing.Normal}
		}
		t.Add(Route{
			Name:     "normal-fixed",
			Rule:     Mask{ID: addressing.NormalFixedID(local, 0, false), Mask: 0x1FFFFF00},
			Extended: true,
			Derive:   derive,
		})
		t.Add(Route{
			Name:       "normal-fixed-functional",
			Rule:       Mask{ID: addressing.NormalFixedID(local, 0, true), Mask: 0x1FFFFF00},
			Extended:   true,
			Derive:     derive,
			Functional: true,
		})
	}
	return t
}
