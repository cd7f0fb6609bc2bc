package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// listenUDP binds addr and widens the kernel receive buffer so frame
// bursts are not dropped before the loop drains them.
func listenUDP(ctx context.Context, addr string) (*net.UDPConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)
	// Best effort; the OS may clamp it below the requested size.
	_ = conn.SetReadBuffer(socketBufferSize)
	return conn, nil
}

// udpReceiveLoop reads datagrams from conn until ctx is cancelled,
// invoking handle for each one. Reads carry a short deadline so
// cancellation is noticed within [readTimeout]. The buffer passed to
// handle is reused between iterations and must not be retained.
func udpReceiveLoop(ctx context.Context, conn *net.UDPConn, handle func(data []byte, remote net.Addr)) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("relay: set read deadline: %w", err)
		}
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: udp read: %w", err)
		}
		handle(buf[:n], remote)
	}
}
