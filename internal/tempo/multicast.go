package tempo

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// transport abstracts the multicast socket; Session holds it through this
// interface and leaves it nil in --disable-link mode.
type transport interface {
	broadcast(data []byte)
	unicast(addr *net.UDPAddr, data []byte)
	receiveLoop(ctx context.Context)
	Close() error
}

// frameHandler is invoked once per received datagram with its raw bytes
// (decoding is left to the handler) along with the remote address it
// arrived from, so the caller can unicast a
// Response back on first sight of a new peer (§4.2).
type frameHandler func(data []byte, from *net.UDPAddr)

// multicastTransport binds one UDP socket, joins the multicast group on
// every multicast-capable interface, and re-enumerates interfaces
// periodically so interfaces that come and go (e.g. a laptop waking from
// sleep, a USB NIC being plugged in) are picked up without a restart.
type multicastTransport struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	group   *net.UDPAddr
	handler frameHandler

	joined map[string]bool // interface name -> currently joined
}

func newMulticastTransport(groupIP string, port int, handler frameHandler) (*multicastTransport, error) {
	group := &net.UDPAddr{IP: net.ParseIP(groupIP), Port: port}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("tempo: bind multicast socket: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	_ = pconn.SetMulticastLoopback(true)

	t := &multicastTransport{
		conn:    conn,
		pconn:   pconn,
		group:   group,
		handler: handler,
		joined:  make(map[string]bool),
	}

	if err := t.joinAllInterfaces(); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

// joinAllInterfaces joins the multicast group on every interface that
// supports multicast, logging (not failing) per-interface bind errors —
// the process only exits if NO interface could be bound (§7 NetworkBindFailed
// / exit code 1 is handled by the caller when joined stays empty).
func (t *multicastTransport) joinAllInterfaces() error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("tempo: enumerate interfaces: %w", err)
	}
	anyJoined := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := t.pconn.JoinGroup(&iface, t.group); err != nil {
			log.Warnf("tempo: NetworkBindFailed on %s: %v", iface.Name, err)
			continue
		}
		t.joined[iface.Name] = true
		anyJoined = true
	}
	if !anyJoined {
		return fmt.Errorf("tempo: no multicast-capable interface could be bound")
	}
	return nil
}

// reconcileInterfaces re-enumerates interfaces, joining new ones and
// dropping ones that disappeared (spec.md §4.2: "re-enumerated every few
// seconds; new interfaces join the multicast group, disappeared ones are
// dropped").
func (t *multicastTransport) reconcileInterfaces() {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}
	seen := make(map[string]bool, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		seen[iface.Name] = true
		if !t.joined[iface.Name] {
			if err := t.pconn.JoinGroup(&iface, t.group); err == nil {
				t.joined[iface.Name] = true
			}
		}
	}
	for name := range t.joined {
		if !seen[name] {
			delete(t.joined, name)
		}
	}
}

func (t *multicastTransport) broadcast(data []byte) {
	_, _ = t.conn.WriteToUDP(data, t.group)
}

func (t *multicastTransport) unicast(addr *net.UDPAddr, data []byte) {
	_, _ = t.conn.WriteToUDP(data, addr)
}

func (t *multicastTransport) receiveLoop(ctx context.Context) {
	buf := make([]byte, 2048)
	rescan := time.NewTicker(interfaceScan)
	defer rescan.Stop()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		t.conn.Close()
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-rescan.C:
				t.reconcileInterfaces()
			}
		}
	}()

	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			// transient read error; keep the session self-healing (§7)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.handler(data, addr)
	}
}

func (t *multicastTransport) Close() error {
	return t.conn.Close()
}
