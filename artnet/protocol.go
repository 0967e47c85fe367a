package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/gopatchy/lxnet/wire"
)

const (
	Port = 6454

	ProtocolVersion = 14

	PollSize      = 14
	PollReplySize = 239
	AddressSize   = 108
	HeaderSize    = 18
	MaxPacketSize = HeaderSize + 512

	// Address commands
	CmdCancelMerge = 0x01
	CmdClearOutput = 0x90

	// NoChange leaves an address field untouched in ArtAddress.
	NoChange = 0x7F
)

// OpCode is an Art-Net opcode as carried low byte first on the wire.
type OpCode uint16

const (
	OpNop       OpCode = 0x0000
	OpPoll      OpCode = 0x2000
	OpPollReply OpCode = 0x2100
	OpDmx       OpCode = 0x5000
	OpAddress   OpCode = 0x6000
)

func (op OpCode) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpPoll:
		return "poll"
	case OpPollReply:
		return "pollreply"
	case OpDmx:
		return "dmx"
	case OpAddress:
		return "address"
	default:
		return fmt.Sprintf("op(%#04x)", uint16(op))
	}
}

var (
	ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

	ErrInvalidHeader  = errors.New("invalid ArtNet header")
	ErrBadVersion     = errors.New("unsupported ArtNet protocol version")
	ErrPacketTooShort = fmt.Errorf("ArtNet packet: %w", wire.ErrTruncated)
)

// Universe is a 15 bit port address.
// Bits 14-8: Net (0-127)
// Bits 7-4: SubNet (0-15)
// Bits 3-0: Universe (0-15)
type Universe uint16

func NewUniverse(net, subnet, universe uint8) Universe {
	return Universe((uint16(net&0x7F) << 8) | (uint16(subnet&0x0F) << 4) | uint16(universe&0x0F))
}

func (u Universe) Net() uint8 {
	return uint8((u >> 8) & 0x7F)
}

func (u Universe) SubNet() uint8 {
	return uint8((u >> 4) & 0x0F)
}

func (u Universe) Universe() uint8 {
	return uint8(u & 0x0F)
}

// SubUni is the combined subnet and universe byte.
func (u Universe) SubUni() uint8 {
	return uint8(u & 0xFF)
}

func (u Universe) String() string {
	return fmt.Sprintf("%d.%d.%d", u.Net(), u.SubNet(), u.Universe())
}

// DMXPacket is an ArtDmx packet
type DMXPacket struct {
	ProtocolVersion uint16 // High byte first
	Sequence        uint8
	Physical        uint8
	Universe        Universe // Low byte first on the wire
	Length          uint16   // High byte first
	Data            []byte
}

// PollPacket is an ArtPoll packet
type PollPacket struct {
	ProtocolVersion uint16
	Flags           uint8
	DiagPriority    uint8
}

// PollReplyPacket is an ArtPollReply packet
type PollReplyPacket struct {
	IPAddress   [4]byte
	Port        uint16
	VersionInfo uint16
	NetSwitch   uint8
	SubSwitch   uint8
	OemHi       uint8
	Oem         uint8
	UbeaVersion uint8
	Status1     uint8
	EstaMan     uint16
	ShortName   [18]byte
	LongName    [64]byte
	NodeReport  [64]byte
	NumPortsHi  uint8
	NumPortsLo  uint8
	PortTypes   [4]byte
	GoodInput   [4]byte
	GoodOutput  [4]byte
	SwIn        [4]byte
	SwOut       [4]byte
	Style       uint8
	MAC         [6]byte
}

// AddressPacket is an ArtAddress packet
type AddressPacket struct {
	ProtocolVersion uint16
	NetSwitch       uint8
	ShortName       [18]byte
	LongName        [64]byte
	SwIn            [4]byte
	SwOut           [4]byte
	SubSwitch       uint8
	Command         uint8
}

// hasSignature checks the "Art-Net" text. The terminating NUL is not
// compared.
func hasSignature(data []byte) bool {
	return len(data) >= 7 && bytes.Equal(data[:7], ArtNetID[:7])
}

// ParseOpCode returns the opcode of data, or OpNop if data does not carry
// the Art-Net signature.
func ParseOpCode(data []byte) OpCode {
	if len(data) < 10 || !hasSignature(data) {
		return OpNop
	}
	return OpCode(binary.LittleEndian.Uint16(data[8:10]))
}

// ParsePacket parses a raw ArtNet packet and returns the OpCode and parsed data
func ParsePacket(data []byte) (OpCode, any, error) {
	if len(data) < 10 {
		return OpNop, nil, ErrPacketTooShort
	}
	if !hasSignature(data) {
		return OpNop, nil, ErrInvalidHeader
	}

	opCode := ParseOpCode(data)

	switch opCode {
	case OpDmx:
		pkt, err := parseDMXPacket(data)
		return opCode, pkt, err
	case OpPoll:
		pkt, err := parsePollPacket(data)
		return opCode, pkt, err
	case OpPollReply:
		pkt, err := parsePollReplyPacket(data)
		return opCode, pkt, err
	case OpAddress:
		pkt, err := parseAddressPacket(data)
		return opCode, pkt, err
	default:
		return opCode, nil, nil // Unknown but valid packet
	}
}

func parseDMXPacket(data []byte) (*DMXPacket, error) {
	if len(data) < HeaderSize {
		return nil, ErrPacketTooShort
	}

	pkt := &DMXPacket{
		ProtocolVersion: binary.BigEndian.Uint16(data[10:12]),
		Sequence:        data[12],
		Physical:        data[13],
		Universe:        Universe(binary.LittleEndian.Uint16(data[14:16])),
		Length:          binary.BigEndian.Uint16(data[16:18]),
	}
	if pkt.ProtocolVersion < ProtocolVersion {
		return nil, ErrBadVersion
	}

	dataLen := min(int(pkt.Length), 512)
	if len(data) < HeaderSize+dataLen {
		return nil, ErrPacketTooShort
	}
	pkt.Data = data[HeaderSize : HeaderSize+dataLen]

	return pkt, nil
}

func parsePollPacket(data []byte) (*PollPacket, error) {
	if len(data) < 12 {
		return nil, ErrPacketTooShort
	}

	pkt := &PollPacket{
		ProtocolVersion: binary.BigEndian.Uint16(data[10:12]),
	}
	if pkt.ProtocolVersion < ProtocolVersion {
		return nil, ErrBadVersion
	}
	if len(data) >= PollSize {
		pkt.Flags = data[12]
		pkt.DiagPriority = data[13]
	}
	return pkt, nil
}

func parsePollReplyPacket(data []byte) (*PollReplyPacket, error) {
	if len(data) < 207 {
		return nil, ErrPacketTooShort
	}

	pkt := &PollReplyPacket{
		Port:        binary.LittleEndian.Uint16(data[14:16]),
		VersionInfo: binary.BigEndian.Uint16(data[16:18]),
		NetSwitch:   data[18],
		SubSwitch:   data[19],
		OemHi:       data[20],
		Oem:         data[21],
		UbeaVersion: data[22],
		Status1:     data[23],
		EstaMan:     binary.LittleEndian.Uint16(data[24:26]),
		NumPortsHi:  data[172],
		NumPortsLo:  data[173],
		Style:       data[200],
	}

	copy(pkt.IPAddress[:], data[10:14])
	copy(pkt.ShortName[:], data[26:44])
	copy(pkt.LongName[:], data[44:108])
	copy(pkt.NodeReport[:], data[108:172])
	copy(pkt.PortTypes[:], data[174:178])
	copy(pkt.GoodInput[:], data[178:182])
	copy(pkt.GoodOutput[:], data[182:186])
	copy(pkt.SwIn[:], data[186:190])
	copy(pkt.SwOut[:], data[190:194])
	copy(pkt.MAC[:], data[201:207])

	return pkt, nil
}

func parseAddressPacket(data []byte) (*AddressPacket, error) {
	if len(data) < AddressSize-1 {
		return nil, ErrPacketTooShort
	}

	pkt := &AddressPacket{
		ProtocolVersion: binary.BigEndian.Uint16(data[10:12]),
		NetSwitch:       data[12],
		SubSwitch:       data[104],
		Command:         data[106],
	}
	if pkt.ProtocolVersion < ProtocolVersion {
		return nil, ErrBadVersion
	}

	copy(pkt.ShortName[:], data[14:32])
	copy(pkt.LongName[:], data[32:96])
	copy(pkt.SwIn[:], data[96:100])
	copy(pkt.SwOut[:], data[100:104])

	return pkt, nil
}

// PollReplyInfo is what a controller learns about a node from its
// ArtPollReply.
type PollReplyInfo struct {
	IP        net.IP
	ShortName string
	LongName  string
	Ports     int
	Universe  uint8 // port 1 output universe byte
	CanOutput bool
	Universes []Universe // every port able to output DMX
}

func (p *PollReplyPacket) Info() PollReplyInfo {
	info := PollReplyInfo{
		IP:        net.IPv4(p.IPAddress[0], p.IPAddress[1], p.IPAddress[2], p.IPAddress[3]),
		ShortName: wire.FixedString(p.ShortName[:]),
		LongName:  wire.FixedString(p.LongName[:]),
		Ports:     int(p.NumPortsLo),
		Universe:  p.SwOut[0],
		CanOutput: p.PortTypes[0]&0x80 == 0x80 && p.PortTypes[0]&0x3F == 0,
	}

	for i := 0; i < min(info.Ports, 4); i++ {
		if p.PortTypes[i]&0x80 != 0 {
			info.Universes = append(info.Universes, NewUniverse(p.NetSwitch, p.SubSwitch, p.SwOut[i]))
		}
	}
	return info
}

func putHeader(buf []byte, op OpCode) {
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(op))
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
}

// BuildDMXPacket creates a raw ArtDmx packet carrying exactly len(data)
// slots, capped at 512.
func BuildDMXPacket(universe Universe, sequence uint8, data []byte) []byte {
	dataLen := min(len(data), 512)

	buf := make([]byte, HeaderSize+dataLen)
	putHeader(buf, OpDmx)
	buf[12] = sequence
	buf[13] = 0 // Physical
	binary.LittleEndian.PutUint16(buf[14:16], uint16(universe))
	binary.BigEndian.PutUint16(buf[16:18], uint16(dataLen))
	copy(buf[HeaderSize:], data[:dataLen])

	return buf
}

// BuildPollPacket creates an ArtPoll packet
func BuildPollPacket() []byte {
	buf := make([]byte, PollSize)
	putHeader(buf, OpPoll)
	buf[12] = 0x00 // Flags
	buf[13] = 0x00 // DiagPriority
	return buf
}

// PollReply describes the single output port reported in an ArtPollReply.
type PollReply struct {
	IP        net.IP
	ShortName string
	LongName  string
	Universe  Universe
}

// BuildPollReplyPacket creates an ArtPollReply packet
func BuildPollReplyPacket(r PollReply) []byte {
	buf := make([]byte, PollReplySize)

	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], uint16(OpPollReply))
	if ip4 := r.IP.To4(); ip4 != nil {
		copy(buf[10:14], ip4)
	}
	binary.LittleEndian.PutUint16(buf[14:16], Port)
	binary.BigEndian.PutUint16(buf[16:18], ProtocolVersion)

	buf[18] = r.Universe.Net()
	buf[19] = r.Universe.SubNet()
	buf[24] = 0x50 // ESTA
	buf[25] = 0x12

	copy(buf[26:43], r.ShortName)
	copy(buf[44:107], r.LongName)

	buf[173] = 1    // one port
	buf[174] = 0x80 // output, DMX512
	buf[182] = 0x80 // data transmitted
	buf[190] = r.Universe.SubUni()

	return buf
}

// BuildAddressPacket creates an ArtAddress packet that changes nothing but
// carries command.
func BuildAddressPacket(command uint8) []byte {
	buf := make([]byte, AddressSize)
	putHeader(buf, OpAddress)

	buf[12] = NoChange
	for i := 96; i < 104; i++ {
		buf[i] = NoChange
	}
	buf[104] = NoChange
	buf[106] = command

	return buf
}
