package dmx

import "github.com/gopatchy/lxnet/transport"

// Sequence is an outbound sequence counter. Zero is only the state before
// the first send; Next never returns it.
type Sequence uint8

func (s *Sequence) Next() uint8 {
	*s++
	if *s == 0 {
		*s = 1
	}
	return uint8(*s)
}

// Endpoint is a single universe DMX over Ethernet endpoint. Slots are
// addressed from 1.
type Endpoint interface {
	Slot(slot int) uint8
	SetSlot(slot int, level uint8)
	NumberOfSlots() int
	SetNumberOfSlots(n int)
	ClearSlots()

	// ReadPacket performs one receive on conn and reports whether slot data
	// changed.
	ReadPacket(conn transport.Conn) (bool, error)
	SendDMX(conn transport.Conn) error
}
