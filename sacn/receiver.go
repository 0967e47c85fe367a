package sacn

import (
	"errors"
	"net"

	"github.com/gopatchy/lxnet/transport"
)

// DMXHandler is called after an endpoint merged new slot data
type DMXHandler func(src *net.UDPAddr, ep *Endpoint)

// DiscoveryHandler is called for every universe discovery page
type DiscoveryHandler func(src *net.UDPAddr, pkt *DiscoveryPacket)

// Receiver reads sACN packets from one connection and hands data packets to
// the endpoints sharing it.
type Receiver struct {
	conn        transport.Conn
	endpoints   []*Endpoint
	handler     DMXHandler
	OnDiscovery DiscoveryHandler
	done        chan struct{}
}

// NewReceiver creates a receiver for endpoints. handler may be nil.
func NewReceiver(conn transport.Conn, handler DMXHandler, endpoints ...*Endpoint) *Receiver {
	return &Receiver{
		conn:      conn,
		endpoints: endpoints,
		handler:   handler,
		done:      make(chan struct{}),
	}
}

// Groups returns the multicast groups for the receiver's endpoints
func (r *Receiver) Groups() []net.IP {
	groups := make([]net.IP, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		groups = append(groups, MulticastGroup(ep.Universe()))
	}
	return groups
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
	buf := make([]byte, max(MaxPacketSize, MaxDiscoveryPageSize))

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
	pkt, err := ParsePacket(data)
	if err != nil {
		return
	}

	switch p := pkt.(type) {
	case *DiscoveryPacket:
		if r.OnDiscovery != nil {
			r.OnDiscovery(src, p)
		}
	case *DataPacket:
		for _, ep := range r.endpoints {
			if ep.Universe() != p.Universe {
				continue
			}
			if ep.Process(data) && r.handler != nil {
				r.handler(src, ep)
			}
		}
	}
}
