package sacn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/gopatchy/lxnet/wire"
)

const (
	Port = 5568

	VectorRootE131Data      = 0x00000004
	VectorRootE131Extended  = 0x00000008
	VectorE131DataPacket    = 0x00000002
	VectorE131Discovery     = 0x00000002
	VectorDMPSetProperty    = 0x02
	VectorUniverseDiscovery = 0x00000001

	AddressTypeDataType = 0xa1

	// DataHeaderSize is the offset of the start code in a data packet.
	DataHeaderSize = 125
	// MaxSlots counts the start code.
	MaxSlots      = 513
	MaxPacketSize = DataHeaderSize + MaxSlots

	// DiscoveryHeaderSize is the offset of the universe list in a
	// discovery page.
	DiscoveryHeaderSize  = 120
	MaxUniversesPerPage  = 512
	MaxDiscoveryPageSize = DiscoveryHeaderSize + 2*MaxUniversesPerPage

	DefaultPriority = 100
	MaxPriority     = 200

	flagsMask  = 0xF000
	flagsValue = 0x7000
	lengthMask = 0x0FFF
)

var (
	// ACN packet identifier (12 bytes)
	packetIdentifier = [12]byte{
		0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00,
	}

	ErrInvalidHeader  = errors.New("invalid sACN header")
	ErrInvalidFlags   = errors.New("invalid sACN flags and length")
	ErrInvalidVector  = errors.New("invalid sACN vector")
	ErrPacketTooShort = fmt.Errorf("sACN packet: %w", wire.ErrTruncated)
)

// DataPacket is an E1.31 data packet. Slots holds the property values with
// the start code first.
type DataPacket struct {
	CID         CID
	SourceName  string
	Priority    uint8
	SyncAddress uint16
	Sequence    uint8
	Options     uint8
	Universe    uint16
	Slots       []byte
}

func (p *DataPacket) StartCode() uint8 {
	if len(p.Slots) == 0 {
		return 0
	}
	return p.Slots[0]
}

// DMX returns the slot data without the start code.
func (p *DataPacket) DMX() []byte {
	if len(p.Slots) == 0 {
		return nil
	}
	return p.Slots[1:]
}

// DiscoveryPacket is one page of an E1.31 universe discovery packet
type DiscoveryPacket struct {
	CID        CID
	SourceName string
	Page       uint8
	LastPage   uint8
	Universes  []uint16
}

// checkFlagsAndLength validates the PDU flags and length field at off. The
// length must be nonzero and fit in remaining.
func checkFlagsAndLength(data []byte, off, remaining int) (int, error) {
	v, err := wire.Uint16(data, off)
	if err != nil {
		return 0, ErrPacketTooShort
	}
	if v&flagsMask != flagsValue {
		return 0, ErrInvalidFlags
	}
	length := int(v & lengthMask)
	if length == 0 || length > remaining {
		return 0, ErrInvalidFlags
	}
	return length, nil
}

func checkRootLayer(data []byte) (int, error) {
	if len(data) < 38 {
		return 0, ErrPacketTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != 0x0010 || !bytes.Equal(data[4:13], packetIdentifier[:9]) {
		return 0, ErrInvalidHeader
	}
	return checkFlagsAndLength(data, 16, len(data)-16)
}

// ParsePacket parses a data or universe discovery packet
func ParsePacket(data []byte) (any, error) {
	if _, err := checkRootLayer(data); err != nil {
		return nil, err
	}

	switch binary.BigEndian.Uint32(data[18:22]) {
	case VectorRootE131Data:
		return ParseDataPacket(data)
	case VectorRootE131Extended:
		return ParseDiscoveryPacket(data)
	default:
		return nil, ErrInvalidVector
	}
}

// ParseDataPacket validates all three layers of an E1.31 data packet. Any
// failure rejects the whole packet.
func ParseDataPacket(data []byte) (*DataPacket, error) {
	rootLen, err := checkRootLayer(data)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(data[18:22]) != VectorRootE131Data {
		return nil, ErrInvalidVector
	}

	if len(data) < DataHeaderSize {
		return nil, ErrPacketTooShort
	}

	framingLen, err := checkFlagsAndLength(data, 38, rootLen-22)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(data[40:44]) != VectorE131DataPacket {
		return nil, ErrInvalidVector
	}

	if _, err := checkFlagsAndLength(data, 115, framingLen-77); err != nil {
		return nil, err
	}
	if data[117] != VectorDMPSetProperty || data[118] != AddressTypeDataType {
		return nil, ErrInvalidVector
	}

	count := int(binary.BigEndian.Uint16(data[123:125]))
	if count < 1 || count > MaxSlots {
		return nil, ErrInvalidFlags
	}
	if len(data) < DataHeaderSize+count {
		return nil, ErrPacketTooShort
	}

	pkt := &DataPacket{
		SourceName:  wire.FixedString(data[44:108]),
		Priority:    data[108],
		SyncAddress: binary.BigEndian.Uint16(data[109:111]),
		Sequence:    data[111],
		Options:     data[112],
		Universe:    binary.BigEndian.Uint16(data[113:115]),
		Slots:       data[DataHeaderSize : DataHeaderSize+count],
	}
	copy(pkt.CID[:], data[22:38])

	return pkt, nil
}

// ParseDiscoveryPacket parses a universe discovery packet
func ParseDiscoveryPacket(data []byte) (*DiscoveryPacket, error) {
	if _, err := checkRootLayer(data); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(data[18:22]) != VectorRootE131Extended {
		return nil, ErrInvalidVector
	}
	if len(data) < DiscoveryHeaderSize {
		return nil, ErrPacketTooShort
	}
	if binary.BigEndian.Uint32(data[40:44]) != VectorE131Discovery {
		return nil, ErrInvalidVector
	}
	if binary.BigEndian.Uint32(data[114:118]) != VectorUniverseDiscovery {
		return nil, ErrInvalidVector
	}

	pkt := &DiscoveryPacket{
		SourceName: wire.FixedString(data[44:108]),
		Page:       data[118],
		LastPage:   data[119],
	}
	copy(pkt.CID[:], data[22:38])

	universeCount := (len(data) - DiscoveryHeaderSize) / 2
	pkt.Universes = make([]uint16, 0, universeCount)
	for i := 0; i < universeCount; i++ {
		off := DiscoveryHeaderSize + i*2
		u := binary.BigEndian.Uint16(data[off : off+2])
		if u >= 1 && u <= 63999 {
			pkt.Universes = append(pkt.Universes, u)
		}
	}

	return pkt, nil
}

// BuildDataPacket creates an E1.31 data packet sized to exactly the header
// plus len(p.Slots), capped at MaxSlots.
func BuildDataPacket(p *DataPacket) []byte {
	slots := min(len(p.Slots), MaxSlots)

	pktLen := DataHeaderSize + slots
	buf := make([]byte, pktLen)

	// Root Layer
	binary.BigEndian.PutUint16(buf[0:2], 0x0010)
	binary.BigEndian.PutUint16(buf[2:4], 0x0000)
	copy(buf[4:16], packetIdentifier[:])
	binary.BigEndian.PutUint16(buf[16:18], flagsValue|uint16(pktLen-16))
	binary.BigEndian.PutUint32(buf[18:22], VectorRootE131Data)
	copy(buf[22:38], p.CID[:])

	// Framing Layer
	binary.BigEndian.PutUint16(buf[38:40], flagsValue|uint16(pktLen-38))
	binary.BigEndian.PutUint32(buf[40:44], VectorE131DataPacket)
	copy(buf[44:107], p.SourceName)
	buf[108] = p.Priority
	binary.BigEndian.PutUint16(buf[109:111], p.SyncAddress)
	buf[111] = p.Sequence
	buf[112] = p.Options
	binary.BigEndian.PutUint16(buf[113:115], p.Universe)

	// DMP Layer
	binary.BigEndian.PutUint16(buf[115:117], flagsValue|uint16(pktLen-115))
	buf[117] = VectorDMPSetProperty
	buf[118] = AddressTypeDataType
	binary.BigEndian.PutUint16(buf[119:121], 0) // first property address
	binary.BigEndian.PutUint16(buf[121:123], 1) // address increment
	binary.BigEndian.PutUint16(buf[123:125], uint16(slots))
	copy(buf[DataHeaderSize:], p.Slots[:slots])

	return buf
}

func MulticastAddr(universe uint16) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   MulticastGroup(universe),
		Port: Port,
	}
}

func MulticastGroup(universe uint16) net.IP {
	return net.IPv4(239, 255, byte(universe>>8), byte(universe&0xff))
}

var DiscoveryAddr = &net.UDPAddr{
	IP:   net.IPv4(239, 255, 250, 214),
	Port: Port,
}

func BuildDiscoveryPacket(sourceName string, cid CID, page, lastPage uint8, universes []uint16) []byte {
	universeCount := min(len(universes), MaxUniversesPerPage)

	pktLen := DiscoveryHeaderSize + universeCount*2
	buf := make([]byte, pktLen)

	binary.BigEndian.PutUint16(buf[0:2], 0x0010)
	binary.BigEndian.PutUint16(buf[2:4], 0x0000)
	copy(buf[4:16], packetIdentifier[:])
	binary.BigEndian.PutUint16(buf[16:18], flagsValue|uint16(pktLen-16))
	binary.BigEndian.PutUint32(buf[18:22], VectorRootE131Extended)
	copy(buf[22:38], cid[:])

	binary.BigEndian.PutUint16(buf[38:40], flagsValue|uint16(pktLen-38))
	binary.BigEndian.PutUint32(buf[40:44], VectorE131Discovery)
	copy(buf[44:107], sourceName)
	binary.BigEndian.PutUint32(buf[108:112], 0)

	binary.BigEndian.PutUint16(buf[112:114], flagsValue|uint16(pktLen-112))
	binary.BigEndian.PutUint32(buf[114:118], VectorUniverseDiscovery)
	buf[118] = page
	buf[119] = lastPage
	for i := 0; i < universeCount; i++ {
		off := DiscoveryHeaderSize + i*2
		binary.BigEndian.PutUint16(buf[off:off+2], universes[i])
	}

	return buf
}
