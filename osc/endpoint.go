package osc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gopatchy/lxnet/transport"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "osc")

const (
	// MaxPacketSize bounds outbound packets
	MaxPacketSize  = 1024
	recvBufferSize = 8192
)

var ErrNoDestination = errors.New("osc: no destination")

// Endpoint sends and receives OSC packets over one connection
type Endpoint struct {
	conn transport.Conn
	dest *net.UDPAddr
}

// NewEndpoint returns an endpoint on conn. dest may be nil when only
// replies are sent.
func NewEndpoint(conn transport.Conn, dest *net.UDPAddr) *Endpoint {
	return &Endpoint{conn: conn, dest: dest}
}

func (e *Endpoint) SetDestination(dest *net.UDPAddr) {
	e.dest = dest
}

// ReadPacket performs one receive. A timeout yields no messages and no
// error. Messages decoded before a bad element are still returned.
func (e *Endpoint) ReadPacket() ([]*Message, *net.UDPAddr, error) {
	buf := make([]byte, recvBufferSize)
	n, src, err := e.conn.Receive(buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	msgs, err := Parse(buf[:n])
	if err != nil {
		log.Debugf("parse from %s: %v", src, err)
	}
	return msgs, src, nil
}

func (e *Endpoint) Send(m *Message) error {
	return e.SendTo(m, e.dest)
}

// SendBundle wraps msgs in a bundle stamped with the current time
func (e *Endpoint) SendBundle(msgs ...*Message) error {
	b := NewBundle(NTPTime(time.Now()))
	for _, m := range msgs {
		b.Elements = append(b.Elements, m)
	}
	return e.SendTo(b, e.dest)
}

// SendTo encodes p into a MaxPacketSize buffer and sends it. Packets that do
// not fit are not sent.
func (e *Endpoint) SendTo(p Packet, dst *net.UDPAddr) error {
	if dst == nil {
		return ErrNoDestination
	}
	buf := make([]byte, MaxPacketSize)
	n, err := marshalTo(p, buf)
	if err != nil {
		return err
	}
	return e.conn.Send(buf[:n], dst)
}

// Serve reads packets and dispatches them to r until ctx is done or the
// connection closes.
func (e *Endpoint) Serve(ctx context.Context, r *Router) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, src, err := e.ReadPacket()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			log.Warnf("read error: %v", err)
			continue
		}
		for _, m := range msgs {
			r.Dispatch(m, src)
		}
	}
}
