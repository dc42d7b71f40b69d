package tp

import (
	"sync/atomic"

	"github.com/LoveWonYoung/docan/addressing"
)

// Listener receives transport notifications. Callbacks run without any transport
// lock held and may call back into the layer.
type Listener interface {
	MessageReceived(pair addressing.Pair, payload []byte)
	ReceiveFailed(pair addressing.Pair, outcome Outcome)
	SendComplete(h *Handle, outcome Outcome)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnMessage       func(pair addressing.Pair, payload []byte)
	OnReceiveFailed func(pair addressing.Pair, outcome Outcome)
	OnSendComplete  func(h *Handle, outcome Outcome)
}

func (f ListenerFuncs) MessageReceived(pair addressing.Pair, payload []byte) {
	if f.OnMessage != nil {
		f.OnMessage(pair, payload)
	}
}

func (f ListenerFuncs) ReceiveFailed(pair addressing.Pair, outcome Outcome) {
	if f.OnReceiveFailed != nil {
		f.OnReceiveFailed(pair, outcome)
	}
}

func (f ListenerFuncs) SendComplete(h *Handle, outcome Outcome) {
	if f.OnSendComplete != nil {
		f.OnSendComplete(h, outcome)
	}
}

// Message is one reassembled payload.
type Message struct {
	Pair    addressing.Pair
	Payload []byte
}

// ChanListener queues received messages on a buffered channel. Messages arriving
// while the channel is full are counted in Lost and discarded.
type ChanListener struct {
	ListenerFuncs
	C    chan Message
	lost atomic.Int64
}

func NewChanListener(size int) *ChanListener {
	cl := &ChanListener{C: make(chan Message, size)}
	cl.OnMessage = func(pair addressing.Pair, payload []byte) {
		select {
		case cl.C <- Message{Pair: pair, Payload: payload}:
		default:
			cl.lost.Add(1)
		}
	}
	return cl
}

// Recv returns a queued message without blocking.
func (cl *ChanListener) Recv() (Message, bool) {
	select {
	case m := <-cl.C:
		return m, true
	default:
		return Message{}, false
	}
}

// Lost returns the number of messages discarded so far.
func (cl *ChanListener) Lost() int64 {
	return cl.lost.Load()
}
