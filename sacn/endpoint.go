package sacn

import (
	"errors"
	"net"
	"sync"

	"github.com/gopatchy/lxnet/dmx"
	"github.com/gopatchy/lxnet/transport"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "sacn")

// Endpoint is one sACN universe. Slot 0 of its buffers is the start code, so
// the logical slot count it stores is one more than it reports.
type Endpoint struct {
	mu         sync.Mutex
	universe   uint16
	priority   uint8
	cid        CID
	sourceName string
	merger     *dmx.Merger[CID]
	seq        dmx.Sequence
	dest       *net.UDPAddr
}

var _ dmx.Endpoint = (*Endpoint)(nil)

func NewEndpoint(universe uint16, cid CID) *Endpoint {
	return &Endpoint{
		universe:   universe,
		priority:   DefaultPriority,
		cid:        cid,
		sourceName: "lxnet",
		merger:     dmx.NewMerger[CID](dmx.Priority, MaxSlots, MaxSlots),
	}
}

func (e *Endpoint) Universe() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.universe
}

func (e *Endpoint) SetUniverse(u uint16) {
	e.mu.Lock()
	e.universe = u
	e.mu.Unlock()
}

func (e *Endpoint) Priority() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.priority
}

// SetPriority sets the outbound priority, capped at MaxPriority.
func (e *Endpoint) SetPriority(p uint8) {
	e.mu.Lock()
	e.priority = min(p, MaxPriority)
	e.mu.Unlock()
}

func (e *Endpoint) CID() CID {
	return e.cid
}

func (e *Endpoint) SetSourceName(name string) {
	e.mu.Lock()
	e.sourceName = name
	e.mu.Unlock()
}

// SetDestination sends to addr instead of the universe multicast group. nil
// restores multicast.
func (e *Endpoint) SetDestination(addr *net.UDPAddr) {
	e.mu.Lock()
	e.dest = addr
	e.mu.Unlock()
}

func (e *Endpoint) Destination() *net.UDPAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dest != nil {
		return e.dest
	}
	return MulticastAddr(e.universe)
}

func (e *Endpoint) Slot(slot int) uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if slot < 1 {
		return 0
	}
	return e.merger.Level(slot)
}

func (e *Endpoint) SetSlot(slot int, level uint8) {
	if slot < 1 {
		return
	}
	e.mu.Lock()
	e.merger.Set(slot, level)
	e.mu.Unlock()
}

func (e *Endpoint) StartCode() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merger.Level(0)
}

func (e *Endpoint) NumberOfSlots() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.merger.Slots()-1, 0)
}

func (e *Endpoint) SetNumberOfSlots(n int) {
	e.mu.Lock()
	e.merger.SetSlots(max(n, dmx.MinSlots) + 1)
	e.mu.Unlock()
}

func (e *Endpoint) ClearSlots() {
	e.mu.Lock()
	e.merger.ClearLevels()
	e.mu.Unlock()
}

func (e *Endpoint) Sources() []CID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.merger.Sources()
}

// CancelMerge forgets both sources.
func (e *Endpoint) CancelMerge() {
	e.mu.Lock()
	e.merger.CancelMerge()
	e.mu.Unlock()
}

// Levels copies the merged DMX levels without the start code.
func (e *Endpoint) Levels() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, max(e.merger.Slots()-1, 0))
	for i := range out {
		out[i] = e.merger.Level(i + 1)
	}
	return out
}

// ReadPacket receives one datagram from conn and reports whether it carried
// DMX for this universe. A receive timeout is not an error.
func (e *Endpoint) ReadPacket(conn transport.Conn) (bool, error) {
	buf := make([]byte, MaxPacketSize)
	n, _, err := conn.Receive(buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return false, nil
		}
		return false, err
	}
	return e.Process(buf[:n]), nil
}

// Process merges a data packet and reports whether slot data changed.
// Foreign packets, other universes, alternate start codes and a third source
// all return false.
func (e *Endpoint) Process(data []byte) bool {
	pkt, err := ParseDataPacket(data)
	if err != nil {
		return false
	}
	if pkt.StartCode() != 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if pkt.Universe != e.universe {
		return false
	}
	if !e.merger.Accept(pkt.CID, pkt.Priority, pkt.Slots) {
		log.Debugf("ignore third source cid=%s universe=%d", pkt.CID, e.universe)
		return false
	}
	return true
}

// DataPacket builds a data packet from the send buffer and advances the
// sequence.
func (e *Endpoint) DataPacket() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return BuildDataPacket(&DataPacket{
		CID:        e.cid,
		SourceName: e.sourceName,
		Priority:   e.priority,
		Sequence:   e.seq.Next(),
		Universe:   e.universe,
		Slots:      e.merger.Primary(),
	})
}

func (e *Endpoint) SendDMX(conn transport.Conn) error {
	dst := e.Destination()
	if err := conn.Send(e.DataPacket(), dst); err != nil {
		log.Warnf("dmx send error: dst=%s err=%v", dst, err)
		return err
	}
	return nil
}
