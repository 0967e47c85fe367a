// Package transporttest provides an in-memory transport.Conn for tests.
package transporttest

import (
	"net"
	"sync"

	"github.com/gopatchy/lxnet/transport"
)

type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Conn queues delivered datagrams for Receive and records everything sent.
// Receive on an empty queue returns transport.ErrTimeout.
type Conn struct {
	mu      sync.Mutex
	local   *net.UDPAddr
	inbox   []Datagram
	sent    []Datagram
	closed  bool
	SendErr error
}

func New(local string) *Conn {
	addr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		panic(err)
	}
	return &Conn{local: addr}
}

// Deliver queues data as if it arrived from the address from.
func (c *Conn) Deliver(data []byte, from string) {
	addr, err := net.ResolveUDPAddr("udp4", from)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.inbox = append(c.inbox, Datagram{Data: append([]byte(nil), data...), Addr: addr})
	c.mu.Unlock()
}

func (c *Conn) Receive(buf []byte) (int, *net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, transport.ErrClosed
	}
	if len(c.inbox) == 0 {
		return 0, nil, transport.ErrTimeout
	}
	d := c.inbox[0]
	c.inbox = c.inbox[1:]
	return copy(buf, d.Data), d.Addr, nil
}

func (c *Conn) Send(data []byte, dst *net.UDPAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Datagram{Data: append([]byte(nil), data...), Addr: dst})
	return nil
}

// Sent returns a copy of every datagram sent so far.
func (c *Conn) Sent() []Datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Datagram(nil), c.sent...)
}

func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.local
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
