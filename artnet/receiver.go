package artnet

import (
	"errors"
	"net"

	"github.com/gopatchy/lxnet/transport"
)

// PacketHandler is called after an endpoint has acted on a packet
type PacketHandler interface {
	HandleDMX(src *net.UDPAddr, ep *Endpoint)
	HandlePoll(src *net.UDPAddr, ep *Endpoint)
	HandleAddress(src *net.UDPAddr, ep *Endpoint)
}

// Receiver reads packets from one connection and hands each to every
// endpoint sharing it. ArtAddress only goes to the first endpoint, which is
// the port the node advertises.
type Receiver struct {
	conn      transport.Conn
	endpoints []*Endpoint
	handler   PacketHandler
	done      chan struct{}
}

// NewReceiver creates a receiver for endpoints. handler may be nil.
func NewReceiver(conn transport.Conn, handler PacketHandler, endpoints ...*Endpoint) *Receiver {
	return &Receiver{
		conn:      conn,
		endpoints: endpoints,
		handler:   handler,
		done:      make(chan struct{}),
	}
}

// Start begins receiving packets
func (r *Receiver) Start() {
	go r.receiveLoop()
}

// Stop stops the receiver. The connection is left to its owner.
func (r *Receiver) Stop() {
	close(r.done)
}

func (r *Receiver) receiveLoop() {
	buf := make([]byte, 1024)

	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, src, err := r.conn.Receive(buf)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			log.Warnf("read error: %v", err)
			continue
		}

		r.handlePacket(src, buf[:n])
	}
}

func (r *Receiver) handlePacket(src *net.UDPAddr, data []byte) {
	endpoints := r.endpoints
	switch ParseOpCode(data) {
	case OpNop:
		return
	case OpAddress:
		endpoints = endpoints[:min(len(endpoints), 1)]
	}

	for _, ep := range endpoints {
		op, err := ep.Process(r.conn, src, data)
		if err != nil {
			continue
		}
		if r.handler == nil {
			continue
		}

		switch op {
		case OpDmx:
			r.handler.HandleDMX(src, ep)
		case OpPoll:
			r.handler.HandlePoll(src, ep)
		case OpAddress:
			r.handler.HandleAddress(src, ep)
		}
	}
}

// LocalAddr returns the local address of the underlying connection
func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr()
}
