package artnet

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/gopatchy/lxnet/dmx"
	"github.com/gopatchy/lxnet/transport"
	"github.com/sirupsen/logrus"
)

var (
	log = logrus.WithField("module", "artnet")

	ErrNoDestination = errors.New("no output node and broadcast disabled")
)

// PollReplyListener is told about every ArtPollReply an endpoint receives.
// Returning true selects the replying node as the DMX output target.
type PollReplyListener interface {
	PollReply(info PollReplyInfo) bool
}

type PollReplyListenerFunc func(info PollReplyInfo) bool

func (f PollReplyListenerFunc) PollReply(info PollReplyInfo) bool {
	return f(info)
}

// Endpoint is one Art-Net universe. It merges ArtDmx from up to two
// senders, answers ArtPoll and ArtAddress, and sends its own slot buffer.
type Endpoint struct {
	mu        sync.Mutex
	universe  Universe
	merger    *dmx.Merger[netip.Addr]
	seq       dmx.Sequence
	localIP   net.IP
	broadcast *net.UDPAddr
	output    *net.UDPAddr
	shortName string
	longName  string
	listener  PollReplyListener
}

var _ dmx.Endpoint = (*Endpoint)(nil)

// NewEndpoint creates an endpoint for universe. broadcast may be nil, in
// which case poll replies go back to the poller and DMX is only sent once an
// output node is known.
func NewEndpoint(universe Universe, localIP net.IP, broadcast *net.UDPAddr) *Endpoint {
	return &Endpoint{
		universe:  universe,
		merger:    dmx.NewMerger[netip.Addr](dmx.HTP, dmx.UniverseSize, dmx.UniverseSize),
		localIP:   localIP,
		broadcast: broadcast,
		shortName: "lxnet",
		longName:  "lxnet DMX Ethernet",
	}
}

func (e *Endpoint) Universe() Universe {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.universe
}

func (e *Endpoint) SetUniverse(u Universe) {
	e.mu.Lock()
	e.universe = u
	e.mu.Unlock()
}

func (e *Endpoint) SetNames(shortName, longName string) {
	e.mu.Lock()
	e.shortName = shortName
	e.longName = longName
	e.mu.Unlock()
}

func (e *Endpoint) SetPollReplyListener(l PollReplyListener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// SetBroadcast changes the broadcast address; nil disables broadcasting.
func (e *Endpoint) SetBroadcast(addr *net.UDPAddr) {
	e.mu.Lock()
	e.broadcast = addr
	e.mu.Unlock()
}

func (e *Endpoint) OutputAddr() *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

func (e *Endpoint) SetOutputAddr(addr *net.UDPAddr) {
	e.mu.Lock()
	e.output = addr
	e.mu.Unlock()
}

// Slot returns the merged level of the 1 based slot.
func (e *Endpoint) Slot(slot int) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merger.Level(slot - 1)
}

func (e *Endpoint) SetSlot(slot int, level uint8) {
	e.mu.Lock()
	e.merger.Set(slot-1, level)
	e.mu.Unlock()
}

func (e *Endpoint) NumberOfSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merger.Slots()
}

func (e *Endpoint) SetNumberOfSlots(n int) {
	e.mu.Lock()
	e.merger.SetSlots(max(n, dmx.MinSlots))
	e.mu.Unlock()
}

func (e *Endpoint) ClearSlots() {
	e.mu.Lock()
	e.merger.ClearLevels()
	e.mu.Unlock()
}

// Sources returns the addresses bound to the primary and secondary inputs.
func (e *Endpoint) Sources() []netip.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merger.Sources()
}

// Levels copies the merged levels of the current logical slot count.
func (e *Endpoint) Levels() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, e.merger.Slots())
	for i := range out {
		out[i] = e.merger.Level(i)
	}
	return out
}

// ReadPacket receives one datagram from conn and processes it. It reports
// whether slot data changed. A receive timeout is not an error.
func (e *Endpoint) ReadPacket(conn transport.Conn) (bool, error) {
	op, err := e.Receive(conn)
	return op == OpDmx, err
}

// Receive is ReadPacket returning the opcode that was handled.
func (e *Endpoint) Receive(conn transport.Conn) (OpCode, error) {
	buf := make([]byte, MaxPacketSize)
	n, src, err := conn.Receive(buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return OpNop, nil
		}
		return OpNop, err
	}
	return e.Process(conn, src, buf[:n])
}

// Process handles one inbound datagram from src and returns the opcode acted
// on. Foreign packets, packets for other universes and unhandled opcodes
// return OpNop with a nil error. An ArtAddress clear output command returns
// OpDmx. The error is only set when a reply could not be sent.
func (e *Endpoint) Process(conn transport.Conn, src *net.UDPAddr, data []byte) (OpCode, error) {
	op, pkt, err := ParsePacket(data)
	if err != nil {
		log.Debugf("drop from=%s op=%s: %v", src, op, err)
		return OpNop, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch p := pkt.(type) {
	case *DMXPacket:
		if e.acceptDMX(src, p) {
			return OpDmx, nil
		}
		return OpNop, nil

	case *PollPacket:
		return OpPoll, e.sendPollReply(conn, src)

	case *PollReplyPacket:
		e.handlePollReply(src, p)
		return OpPollReply, nil

	case *AddressPacket:
		op := e.applyAddress(p)
		if err := e.sendPollReply(conn, src); err != nil {
			return op, err
		}
		return op, nil
	}

	return OpNop, nil
}

func (e *Endpoint) acceptDMX(src *net.UDPAddr, p *DMXPacket) bool {
	if p.Universe != e.universe {
		return false
	}

	id, ok := netip.AddrFromSlice(src.IP.To4())
	if !ok {
		return false
	}
	if !e.merger.Accept(id, 0, p.Data) {
		log.Debugf("ignore third source=%s universe=%s", id, e.universe)
		return false
	}
	return true
}

func (e *Endpoint) handlePollReply(src *net.UDPAddr, p *PollReplyPacket) {
	info := p.Info()
	if src != nil && src.IP != nil {
		info.IP = src.IP
	}

	if e.listener == nil || !e.listener.PollReply(info) {
		return
	}
	if info.IP.Equal(e.localIP) {
		return
	}
	if e.output == nil || !e.output.IP.Equal(info.IP) {
		log.Infof("output node ip=%s name=%s", info.IP, info.ShortName)
	}
	e.output = &net.UDPAddr{IP: info.IP, Port: Port}
}

// changeRequested reports whether an ArtAddress field byte asks for a new
// value.
func changeRequested(b uint8) bool {
	return b&0x80 != 0 && b&0x7F != NoChange
}

func (e *Endpoint) applyAddress(p *AddressPacket) OpCode {
	n, sub, uni := e.universe.Net(), e.universe.SubNet(), e.universe.Universe()

	if changeRequested(p.NetSwitch) {
		n = p.NetSwitch & 0x7F
	}
	if changeRequested(p.SwOut[0]) {
		uni = p.SwOut[0] & 0x0F
	}
	if changeRequested(p.SubSwitch) {
		sub = p.SubSwitch & 0x0F
	}
	if u := NewUniverse(n, sub, uni); u != e.universe {
		log.Infof("address changed universe=%s -> %s", e.universe, u)
		e.universe = u
	}

	switch p.Command {
	case CmdCancelMerge:
		e.merger.CancelMerge()
	case CmdClearOutput:
		e.merger.Reset()
		return OpDmx
	}
	return OpAddress
}

func (e *Endpoint) pollReplyPacket() []byte {
	return BuildPollReplyPacket(PollReply{
		IP:        e.localIP,
		ShortName: e.shortName,
		LongName:  e.longName,
		Universe:  e.universe,
	})
}

func (e *Endpoint) sendPollReply(conn transport.Conn, src *net.UDPAddr) error {
	dst := e.broadcast
	if dst == nil {
		dst = src
	}
	if err := conn.Send(e.pollReplyPacket(), dst); err != nil {
		log.Warnf("pollreply error: dst=%s err=%v", dst, err)
		return err
	}
	return nil
}
