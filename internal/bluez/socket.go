//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const connectPollInterval = 100 * time.Millisecond

// parseAddr converts "AA:BB:CC:DD:EE:FF" to the kernel's little-endian
// bdaddr layout.
func parseAddr(addr string) ([6]uint8, error) {
	var b [6]uint8
	hw, err := net.ParseMAC(addr)
	if err != nil {
		return b, err
	}
	if len(hw) != 6 {
		return b, fmt.Errorf("invalid bluetooth address %q", addr)
	}
	for i := range b {
		b[i] = hw[5-i]
	}
	return b, nil
}

// dialRFCOMM connects a stream socket to an RFCOMM server channel.
func dialRFCOMM(ctx context.Context, addr string, channel uint8) (*os.File, error) {
	bd, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	return dial(ctx, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM,
		&unix.SockaddrRFCOMM{Addr: bd, Channel: channel}, "rfcomm:"+addr)
}

// dialL2CAP connects a sequenced packet socket to an L2CAP PSM. Each read
// returns one packet.
func dialL2CAP(ctx context.Context, addr string, psm uint16) (*os.File, error) {
	bd, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	return dial(ctx, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP,
		&unix.SockaddrL2{PSM: psm, Addr: bd}, "l2cap:"+addr)
}

// dial does a non-blocking connect bounded by ctx. The returned file is
// registered with the runtime poller, so deadlines work on it.
func dial(ctx context.Context, typ, proto int, sa unix.Sockaddr, name string) (*os.File, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := waitConnected(ctx, fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), name), nil
}

func waitConnected(ctx context.Context, fd int) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(pfd, int(connectPollInterval/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("getsockopt: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("connect: %w", unix.Errno(soErr))
		}
		return nil
	}
}
