package groups

import (
	"context"
	"fmt"
	"net"
)

const (
	DefaultGroupIP = "224.76.78.75"
	DefaultPort    = 20809 // distinct port from the tempo channel (spec.md §4.3)
)

type datagramHandler func(data []byte, from *net.UDPAddr)

// socket is a thin multicast UDP wrapper for the groups channel. Unlike
// tempo's transport, it does not need per-interface re-enumeration —
// spec.md only calls that out for the tempo session (§4.2); the groups
// channel is lower-traffic, fire-and-forget, best-effort by design (§4.3).
type socket struct {
	conn    *net.UDPConn
	group   *net.UDPAddr
	handler datagramHandler
}

func newSocket(groupIP string, port int, handler datagramHandler) (*socket, error) {
	group := &net.UDPAddr{IP: net.ParseIP(groupIP), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return nil, fmt.Errorf("groups: bind multicast socket: %w", err)
	}
	conn.SetReadBuffer(1 << 16)
	return &socket{conn: conn, group: group, handler: handler}, nil
}

func (s *socket) broadcast(data []byte) {
	_, _ = s.conn.WriteToUDP(data, s.group)
}

func (s *socket) unicast(addr *net.UDPAddr, data []byte) {
	_, _ = s.conn.WriteToUDP(data, addr)
}

func (s *socket) receiveLoop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		s.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handler(data, addr)
	}
}

func (s *socket) Close() error { return s.conn.Close() }
