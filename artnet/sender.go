package artnet

import (
	"net"

	"github.com/gopatchy/lxnet/transport"
)

// DMXPacket builds an ArtDmx packet from the send buffer and advances the
// sequence.
func (e *Endpoint) DMXPacket() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return BuildDMXPacket(e.universe, e.seq.Next(), e.merger.Primary())
}

// SendDMX sends the send buffer to the output node, or to the broadcast
// address when no output node has been selected.
func (e *Endpoint) SendDMX(conn transport.Conn) error {
	e.mu.Lock()
	dst := e.output
	if dst == nil {
		dst = e.broadcast
	}
	e.mu.Unlock()

	if dst == nil {
		return ErrNoDestination
	}
	return e.SendDMXTo(conn, dst)
}

func (e *Endpoint) SendDMXTo(conn transport.Conn, dst *net.UDPAddr) error {
	if err := conn.Send(e.DMXPacket(), dst); err != nil {
		log.Warnf("dmx send error: dst=%s err=%v", dst, err)
		return err
	}
	return nil
}

// SendPoll broadcasts an ArtPoll, or sends it to dst when given.
func (e *Endpoint) SendPoll(conn transport.Conn, dst *net.UDPAddr) error {
	if dst == nil {
		e.mu.Lock()
		dst = e.broadcast
		e.mu.Unlock()
	}
	if dst == nil {
		return ErrNoDestination
	}
	return conn.Send(BuildPollPacket(), dst)
}

// SendPollReply sends this endpoint's ArtPollReply to dst.
func (e *Endpoint) SendPollReply(conn transport.Conn, dst *net.UDPAddr) error {
	e.mu.Lock()
	pkt := e.pollReplyPacket()
	e.mu.Unlock()
	return conn.Send(pkt, dst)
}

// SendAddressCommand sends an ArtAddress carrying command to dst, or to the
// output node when dst is nil.
func (e *Endpoint) SendAddressCommand(conn transport.Conn, command uint8, dst *net.UDPAddr) error {
	if dst == nil {
		dst = e.OutputAddr()
	}
	if dst == nil {
		return ErrNoDestination
	}
	return conn.Send(BuildAddressPacket(command), dst)
}
