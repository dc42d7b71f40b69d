//go:build linux

package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/LoveWonYoung/docan/filter"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const pollInterval = 100 // ms

// SocketCAN 通过 Linux 原始 CAN 套接字收发报文
type SocketCAN struct {
	iface   string
	canType CanType
	filters []filter.IDMask
	log     *zap.Logger

	mu sync.Mutex
	fd int
}

var _ CANDriver = (*SocketCAN)(nil)

type SocketCANOption func(*SocketCAN)

func WithCanType(t CanType) SocketCANOption {
	return func(s *SocketCAN) { s.canType = t }
}

// WithFilters 在内核中安装接收过滤，减少无关报文
func WithFilters(filters []filter.IDMask) SocketCANOption {
	return func(s *SocketCAN) { s.filters = filters }
}

func WithSocketLogger(l *zap.Logger) SocketCANOption {
	return func(s *SocketCAN) { s.log = l }
}

func NewSocketCAN(iface string, opts ...SocketCANOption) *SocketCAN {
	s := &SocketCAN{iface: iface, fd: -1, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SocketCAN) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		return nil
	}
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil {
		return fmt.Errorf("socketcan: lookup %s: %w", s.iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := s.configure(fd, ifi.Index); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.fd = fd
	s.log.Info("socketcan opened", zap.String("iface", s.iface), zap.Bool("fd", s.canType == CANFD), zap.Int("filters", len(s.filters)))
	return nil
}

func (s *SocketCAN) configure(fd, ifindex int) error {
	if s.canType == CANFD {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			return fmt.Errorf("socketcan: enable fd frames: %w", err)
		}
	}
	if len(s.filters) > 0 {
		kf := make([]unix.CanFilter, 0, len(s.filters))
		for _, f := range s.filters {
			id, mask := kernelFilter(f)
			kf = append(kf, unix.CanFilter{Id: id, Mask: mask})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
			return fmt.Errorf("socketcan: install filters: %w", err)
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("socketcan: nonblock: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		return fmt.Errorf("socketcan: bind %s: %w", s.iface, err)
	}
	return nil
}

func (s *SocketCAN) handle() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return -1, ErrClosed
	}
	return s.fd, nil
}

func (s *SocketCAN) SendFrame(msg CanMessage) error {
	if (msg.IsFD && s.canType != CANFD) || len(msg.Data) > s.canType.MaxDataLength() {
		return ErrUnsupported
	}
	buf, err := marshalSocketCAN(msg)
	if err != nil {
		return err
	}
	fd, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, buf); err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
			return ErrBusy
		}
		return fmt.Errorf("socketcan: write: %w", err)
	}
	return nil
}

func (s *SocketCAN) Run(ctx context.Context, l FrameListener) error {
	buf := make([]byte, canFDMTU)
	for ctx.Err() == nil {
		fd, err := s.handle()
		if err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("socketcan: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		size, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("socketcan: read: %w", err)
		}
		msg, ok, err := unmarshalSocketCAN(buf[:size])
		if err != nil {
			s.log.Warn("discarding frame", zap.Error(err))
			continue
		}
		if ok {
			l.OnFrameReceived(msg)
		}
	}
	return nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
