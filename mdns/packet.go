package mdns

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
)

var ErrLabelTooLong = errors.New("mdns: label longer than 63 bytes")

type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h Header) IsResponse() bool {
	return h.Flags == flagsResponse
}

// ParseHeader accepts only a zero transaction id and either plain query or
// authoritative response flags.
func ParseHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, ErrTruncated
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[0:2]),
		Flags:   binary.BigEndian.Uint16(msg[2:4]),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
		NSCount: binary.BigEndian.Uint16(msg[8:10]),
		ARCount: binary.BigEndian.Uint16(msg[10:12]),
	}
	if h.ID != 0 {
		return h, ErrNotMDNS
	}
	if h.Flags != flagsQuery && h.Flags != flagsResponse {
		return h, ErrUnknownFlags
	}
	return h, nil
}

// Delegate receives records as a packet is walked. Question records go to
// QueryRecord and everything else to AnswerRecord.
type Delegate interface {
	QueryRecord(r *Record)
	AnswerRecord(r *Record)
}

// Walk validates the header and hands each record to d in packet order. It
// stops at the first bad record; records already delivered stay delivered.
func Walk(msg []byte, src *net.UDPAddr, packetID int, d Delegate) error {
	h, err := ParseHeader(msg)
	if err != nil {
		return err
	}

	off := HeaderSize
	sections := []struct {
		count    uint16
		question bool
	}{
		{h.QDCount, true},
		{h.ANCount, false},
		{h.NSCount, false},
		{h.ARCount, false},
	}
	for _, sec := range sections {
		for i := 0; i < int(sec.count); i++ {
			r, err := ParseRecord(msg, off, sec.question)
			if err != nil {
				return err
			}
			r.Sender = src
			r.PacketID = packetID
			off = r.NextOffset()

			if sec.question {
				d.QueryRecord(r)
			} else {
				d.AnswerRecord(r)
			}
		}
	}
	return nil
}

// Packet is a fully decoded message
type Packet struct {
	Header
	Questions   []*Record
	Answers     []*Record
	Authorities []*Record
	Additionals []*Record
}

type collector struct {
	p     *Packet
	seen  int
	split [2]int
}

func (c *collector) QueryRecord(r *Record) {
	c.p.Questions = append(c.p.Questions, r)
}

func (c *collector) AnswerRecord(r *Record) {
	switch {
	case c.seen < c.split[0]:
		c.p.Answers = append(c.p.Answers, r)
	case c.seen < c.split[1]:
		c.p.Authorities = append(c.p.Authorities, r)
	default:
		c.p.Additionals = append(c.p.Additionals, r)
	}
	c.seen++
}

// Parse decodes every section of msg
func Parse(msg []byte) (*Packet, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return nil, err
	}
	c := &collector{
		p:     &Packet{Header: h},
		split: [2]int{int(h.ANCount), int(h.ANCount) + int(h.NSCount)},
	}
	if err := Walk(msg, nil, 0, c); err != nil {
		return c.p, err
	}
	return c.p, nil
}

// BuildQuery encodes a single question for name, class IN.
func BuildQuery(name string, qtype uint16) ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+len(name)+6)
	binary.BigEndian.PutUint16(buf[4:6], 1)

	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" {
			continue
		}
		if len(label) > 63 {
			return nil, ErrLabelTooLong
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, qtype)
	buf = binary.BigEndian.AppendUint16(buf, ClassIN)
	return buf, nil
}
