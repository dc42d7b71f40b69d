package driver

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 缓冲区配置常量
const (
	DefaultQueueSize = 1024
)

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	Message   CanMessage
	Timestamp time.Time
}

// AutoResponse 定义预设的自动响应
type AutoResponse struct {
	TriggerID   uint32        // 触发响应的请求 ID
	TriggerData []byte        // 触发响应的数据前缀 (可选)
	Response    CanMessage    // 响应报文
	Delay       time.Duration // 响应延迟
}

// LoopbackBus 是进程内的虚拟 CAN 总线，一个端口发送的报文会到达其他所有端口
type LoopbackBus struct {
	mu    sync.Mutex
	ports []*LoopbackPort
	log   *zap.Logger
}

func NewLoopbackBus(logger *zap.Logger) *LoopbackBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopbackBus{log: logger}
}

// Port 在总线上创建一个新端口，queueSize <= 0 时使用默认大小
func (b *LoopbackBus) Port(name string, queueSize int) *LoopbackPort {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &LoopbackPort{
		bus:  b,
		name: name,
		rx:   make(chan CanMessage, queueSize),
		log:  b.log.With(zap.String("port", name)),
	}
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

func (b *LoopbackBus) broadcast(from *LoopbackPort, msg CanMessage) {
	b.mu.Lock()
	peers := make([]*LoopbackPort, 0, len(b.ports))
	for _, p := range b.ports {
		if p != from {
			peers = append(peers, p)
		}
	}
	b.mu.Unlock()
	for _, p := range peers {
		if err := p.Inject(msg); err != nil {
			p.log.Debug("frame lost", zap.Stringer("msg", msg), zap.Error(err))
		}
	}
}

// LoopbackPort 实现 CANDriver，用于开发和测试，不依赖实际硬件
type LoopbackPort struct {
	bus  *LoopbackBus
	name string
	rx   chan CanMessage
	log  *zap.Logger

	mu        sync.Mutex
	open      bool
	busy      int
	drop      func(CanMessage) bool
	writeLog  []WriteRecord
	responses []AutoResponse
}

var _ CANDriver = (*LoopbackPort)(nil)

func (p *LoopbackPort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

func (p *LoopbackPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// SendFrame 把报文广播到总线上的其他端口
func (p *LoopbackPort) SendFrame(msg CanMessage) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.busy > 0 {
		p.busy--
		p.mu.Unlock()
		return ErrBusy
	}
	msg = msg.Clone()
	p.writeLog = append(p.writeLog, WriteRecord{Message: msg, Timestamp: time.Now()})
	dropped := p.drop != nil && p.drop(msg)
	var triggered []AutoResponse
	for _, r := range p.responses {
		if r.TriggerID == msg.ArbitrationID && bytes.HasPrefix(msg.Data, r.TriggerData) {
			triggered = append(triggered, r)
		}
	}
	p.mu.Unlock()

	p.log.Debug("tx", zap.Stringer("msg", msg), zap.Bool("dropped", dropped))
	if !dropped {
		p.bus.broadcast(p, msg)
	}
	for _, r := range triggered {
		resp := r.Response.Clone()
		if r.Delay <= 0 {
			_ = p.Inject(resp)
			continue
		}
		time.AfterFunc(r.Delay, func() { _ = p.Inject(resp) })
	}
	return nil
}

// Inject 向接收队列注入一条报文 (模拟接收)
func (p *LoopbackPort) Inject(msg CanMessage) error {
	select {
	case p.rx <- msg.Clone():
		return nil
	default:
		return ErrBusy
	}
}

// Run 把接收队列中的报文交给 l，直到 ctx 结束
func (p *LoopbackPort) Run(ctx context.Context, l FrameListener) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.rx:
			l.OnFrameReceived(msg)
		}
	}
}

// Drain 同步投递当前队列中的全部报文，返回投递数量
func (p *LoopbackPort) Drain(l FrameListener) int {
	n := 0
	for {
		select {
		case msg := <-p.rx:
			l.OnFrameReceived(msg)
			n++
		default:
			return n
		}
	}
}

// Pending 返回尚未投递的报文数量
func (p *LoopbackPort) Pending() int {
	return len(p.rx)
}

// FailNext 让接下来 n 次发送返回 ErrBusy
func (p *LoopbackPort) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = n
}

// SetDropFunc 设置丢帧规则，返回 true 的报文发送成功但不会到达其他端口
func (p *LoopbackPort) SetDropFunc(f func(CanMessage) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop = f
}

// AddResponse 添加一个预设响应
func (p *LoopbackPort) AddResponse(r AutoResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, r)
}

// WriteLog 获取写入日志
func (p *LoopbackPort) WriteLog() []WriteRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WriteRecord(nil), p.writeLog...)
}

// ClearWriteLog 清除写入日志
func (p *LoopbackPort) ClearWriteLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLog = nil
}
