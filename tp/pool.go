package tp

import (
	"sync"
	"sync/atomic"

	"github.com/LoveWonYoung/docan/addressing"
)

// channelKey describes what a slot is bound to while it is active.
type channelKey struct {
	pair       addressing.Pair
	conn       addressing.Connection
	hasConn    bool
	functional bool
}

// machine is implemented by the receive and transmit state machines.
type machine interface {
	// bind resets the machine when the slot was reallocated since its last step.
	bind(gen uint64, key channelKey)
}

// slot is one pre-allocated channel. mu is held for a single transition of the
// channel; the layer mutex may be taken while holding it, never the reverse.
type slot[T machine] struct {
	mu  sync.Mutex
	gen atomic.Uint64

	// guarded by the layer mutex
	active bool
	key    channelKey

	// guarded by mu
	ch T
}

type slotRef[T machine] struct {
	s   *slot[T]
	gen uint64
}

// pool is a fixed-capacity arena of slots with linear lookup by pair.
// All methods require the layer mutex.
type pool[T machine] struct {
	direction string
	slots     []*slot[T]
	active    int
}

func newPool[T machine](direction string, n int, mk func() T) pool[T] {
	p := pool[T]{direction: direction, slots: make([]*slot[T], n)}
	for i := range p.slots {
		p.slots[i] = &slot[T]{ch: mk()}
	}
	return p
}

// lookup finds the active slot of pair. Functional and physical traffic of the
// same pair live in separate slots.
func (p *pool[T]) lookup(pair addressing.Pair, functional bool) (slotRef[T], bool) {
	for _, s := range p.slots {
		if s.active && s.key.pair == pair && s.key.functional == functional {
			return slotRef[T]{s: s, gen: s.gen.Load()}, true
		}
	}
	return slotRef[T]{}, false
}

// allocate binds a free slot to key. It fails when every slot is active.
func (p *pool[T]) allocate(key channelKey) (slotRef[T], bool) {
	for _, s := range p.slots {
		if !s.active {
			s.active = true
			s.key = key
			p.active++
			return slotRef[T]{s: s, gen: s.gen.Add(1)}, true
		}
	}
	return slotRef[T]{}, false
}

// release frees the slot if it still belongs to ref.
func (p *pool[T]) release(ref slotRef[T]) bool {
	if !ref.s.active || ref.s.gen.Load() != ref.gen {
		return false
	}
	ref.s.active = false
	ref.s.gen.Add(1)
	p.active--
	return true
}

func (p *pool[T]) snapshot() []slotRef[T] {
	out := make([]slotRef[T], 0, p.active)
	for _, s := range p.slots {
		if s.active {
			out = append(out, slotRef[T]{s: s, gen: s.gen.Load()})
		}
	}
	return out
}

// lock acquires the slot for one transition. It fails when the slot was released
// or reallocated after ref was taken.
func (ref slotRef[T]) lock() bool {
	ref.s.mu.Lock()
	if ref.s.gen.Load() != ref.gen {
		ref.s.mu.Unlock()
		return false
	}
	return true
}
