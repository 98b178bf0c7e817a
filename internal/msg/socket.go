// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package msg

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/metrics"
	"golang.org/x/net/ipv4"
)

// defaultReadBuffer matches the burst of a full systems-check fan-out reply
// landing on the socket in the same scheduler tick.
const defaultReadBuffer = 1 << 20 // 1 MiB

// maxDatagramSize is generous for a slash-addressed control message; any
// single OSC packet larger than this is a malformed or hostile datagram and
// is dropped by Receive rather than reported to handlers.
const maxDatagramSize = 64 * 1024

// Handler is invoked for every inbound Message, along with the address it
// arrived from.
type Handler func(from *net.UDPAddr, m Message)

// Socket is the hub's message socket: every message from and to control
// clients passes through it. Datagram drivers reach their own devices
// through separate Client sockets.
type Socket struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	mu      sync.RWMutex
	targets map[string]*net.UDPAddr // reply-target set, keyed by addr.String()
}

// NewSocket binds a UDP socket at listenAddr (host:port, empty host binds
// all interfaces) and sizes its kernel receive buffer to absorb bursts
// without datagram loss.
func NewSocket(listenAddr string) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("msg: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("msg: listen %q: %w", listenAddr, err)
	}
	if err := conn.SetReadBuffer(defaultReadBuffer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("msg: set read buffer: %w", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	// Tag inbound control messages with destination info; useful for
	// diagnosing datagrams that arrive on an unexpected local address when
	// the host has more than one interface.
	if err := pconn.SetControlMessage(ipv4.FlagDst, true); err != nil {
		// Not fatal: some platforms/sockets don't support this flag.
		_ = err
	}

	return &Socket{
		conn:    conn,
		pconn:   pconn,
		targets: make(map[string]*net.UDPAddr),
	}, nil
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the underlying UDP socket.
func (s *Socket) Close() error { return s.conn.Close() }

// AddReplyTarget registers addr as a recipient of feedback broadcasts. The
// hub calls this whenever a message arrives from a new sender, so replies
// and unsolicited feedback reach every client that has ever spoken to it.
func (s *Socket) AddReplyTarget(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[addr.String()] = addr
}

// RemoveReplyTarget drops addr from the reply-target set.
func (s *Socket) RemoveReplyTarget(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, addr.String())
}

// ReplyTargets returns a snapshot of the current reply-target set.
func (s *Socket) ReplyTargets() []*net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*net.UDPAddr, 0, len(s.targets))
	for _, a := range s.targets {
		out = append(out, a)
	}
	return out
}

// SendTo encodes m and writes it to a single address.
func (s *Socket) SendTo(m Message, addr *net.UDPAddr) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, addr)
	return err
}

// Broadcast encodes m once and writes it to every registered reply target.
// Per-driver feedback ordering is the caller's responsibility (the hub
// serializes feedback per driver before calling Broadcast); this method
// itself issues the writes in reply-target iteration order, which is
// unordered across targets but irrelevant since each target is a distinct
// client.
func (s *Socket) Broadcast(m Message) {
	data, err := Encode(m)
	if err != nil {
		return
	}
	for _, addr := range s.ReplyTargets() {
		_, _ = s.conn.WriteToUDP(data, addr)
	}
}

// Receive runs the inbound read loop until ctx is cancelled or the socket is
// closed, invoking handler for every well-formed datagram. Malformed
// datagrams are logged and dropped; they never reach handler.
func (s *Socket) Receive(ctx context.Context, handler Handler) error {
	buf := make([]byte, maxDatagramSize)
	logger := log.WithComponentFromContext(ctx, "msg")

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("msg: receive: %w", err)
		}

		m, err := Decode(buf[:n])
		if err != nil {
			logger.Warn().Err(err).Str("from", from.String()).Msg("dropping malformed datagram")
			metrics.IncDropped("decode_error")
			continue
		}
		handler(from, m)
	}
}
