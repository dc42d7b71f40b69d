// Package filter decides which received CAN identifiers belong to this node and
// which logical address pair they carry.
package filter

import "fmt"

// Merger receives rules in their most compact form.
type Merger interface {
	MergeExact(id uint32)
	MergeInterval(from, to uint32)
	MergeMask(id, mask uint32)
}

// Rule is an identifier acceptance rule.
type Rule interface {
	Match(id uint32) bool
	MergeInto(m Merger)
}

// Exact accepts a single identifier.
type Exact uint32

func (e Exact) Match(id uint32) bool { return id == uint32(e) }

func (e Exact) MergeInto(m Merger) { m.MergeExact(uint32(e)) }

func (e Exact) String() string { return fmt.Sprintf("id==%#x", uint32(e)) }

// Interval accepts identifiers in [From, To].
type Interval struct {
	From uint32
	To   uint32
}

func (r Interval) Match(id uint32) bool { return id >= r.From && id <= r.To }

func (r Interval) MergeInto(m Merger) { m.MergeInterval(r.From, r.To) }

func (r Interval) String() string { return fmt.Sprintf("%#x<=id<=%#x", r.From, r.To) }

// Mask accepts identifiers whose masked bits equal ID's masked bits.
type Mask struct {
	ID   uint32
	Mask uint32
}

func (r Mask) Match(id uint32) bool { return id&r.Mask == r.ID&r.Mask }

func (r Mask) MergeInto(m Merger) { m.MergeMask(r.ID, r.Mask) }

func (r Mask) String() string { return fmt.Sprintf("id&%#x==%#x", r.Mask, r.ID&r.Mask) }

// Any matches when at least one of its rules does.
type Any []Rule

func (a Any) Match(id uint32) bool {
	for _, r := range a {
		if r.Match(id) {
			return true
		}
	}
	return false
}

func (a Any) MergeInto(m Merger) {
	for _, r := range a {
		r.MergeInto(m)
	}
}
