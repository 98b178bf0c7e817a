// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package msg

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/mousetraptech/productionhub/internal/value"
)

// Client is a fire-and-forget datagram sender for drivers whose device
// speaks the same address+args wire format as the hub's own socket
// (lighting consoles, visual-programming endpoints). It satisfies the
// drivers' Sender interfaces.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewClient builds a Client targeting host:port. The socket is dialed
// lazily on first Send, so construction never fails on an unresolvable
// device that may appear later.
func NewClient(host string, port int) *Client {
	return &Client{addr: fmt.Sprintf("%s:%d", host, port)}
}

// Send encodes and transmits one message. Errors are returned to the
// calling driver, which reports them through its own error event.
func (c *Client) Send(_ context.Context, address string, args []value.Value) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		var err error
		conn, err = net.Dial("udp", c.addr)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("msg: dial %s: %w", c.addr, err)
		}
		c.conn = conn
	}
	c.mu.Unlock()

	data, err := Encode(Message{Address: address, Args: args})
	if err != nil {
		return err
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("msg: send %s: %w", c.addr, err)
	}
	return nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
