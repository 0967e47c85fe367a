// Package mdns decodes multicast DNS packets and runs a simple query loop.
package mdns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/gopatchy/lxnet/wire"
)

const (
	TypeA    = 1
	TypePTR  = 12
	TypeTXT  = 16
	TypeAAAA = 28
	TypeSRV  = 33

	ClassIN = 1

	HeaderSize = 12

	flagsQuery    = 0x0000
	flagsResponse = 0x8400

	cacheFlushBit   = 0x8000
	maxPointerDepth = 16
)

var (
	ErrNotMDNS       = errors.New("mdns: nonzero transaction id")
	ErrUnknownFlags  = errors.New("mdns: unsupported header flags")
	ErrMalformedName = errors.New("mdns: malformed name")
	ErrTruncated     = fmt.Errorf("mdns: %w", wire.ErrTruncated)
	ErrWrongType     = errors.New("mdns: wrong record type")
)

// Record is one question or resource record. Question records carry no TTL
// or data.
type Record struct {
	Name     string
	Type     uint16
	TTL      uint32
	Data     []byte
	Sender   *net.UDPAddr
	PacketID int

	class   uint16
	next    int
	dataOff int
	msg     []byte
}

// Class returns the record class without the cache flush bit
func (r *Record) Class() uint16 {
	return r.class &^ cacheFlushBit
}

func (r *Record) CacheFlush() bool {
	return r.class&cacheFlushBit != 0
}

// NextOffset is the offset of the record that follows this one
func (r *Record) NextOffset() int {
	return r.next
}

// PTRName decodes the target name of a PTR record
func (r *Record) PTRName() (string, error) {
	if r.Type != TypePTR {
		return "", ErrWrongType
	}
	name, _, err := readName(r.msg, r.dataOff)
	return name, err
}

func (r *Record) A() (net.IP, error) {
	if r.Type != TypeA {
		return nil, ErrWrongType
	}
	if len(r.Data) != 4 {
		return nil, ErrTruncated
	}
	return net.IPv4(r.Data[0], r.Data[1], r.Data[2], r.Data[3]), nil
}

// TXT splits a TXT record into its character strings
func (r *Record) TXT() ([]string, error) {
	if r.Type != TypeTXT {
		return nil, ErrWrongType
	}
	var out []string
	for i := 0; i < len(r.Data); {
		n := int(r.Data[i])
		if i+1+n > len(r.Data) {
			return out, ErrTruncated
		}
		out = append(out, string(r.Data[i+1:i+1+n]))
		i += 1 + n
	}
	return out, nil
}

type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (r *Record) SRV() (SRV, error) {
	if r.Type != TypeSRV {
		return SRV{}, ErrWrongType
	}
	if len(r.Data) < 7 {
		return SRV{}, ErrTruncated
	}
	target, _, err := readName(r.msg, r.dataOff+6)
	if err != nil {
		return SRV{}, err
	}
	return SRV{
		Priority: binary.BigEndian.Uint16(r.Data[0:2]),
		Weight:   binary.BigEndian.Uint16(r.Data[2:4]),
		Port:     binary.BigEndian.Uint16(r.Data[4:6]),
		Target:   target,
	}, nil
}

// readName decodes the possibly compressed name at off. It returns the name
// and the offset just past the name as it appears at off.
func readName(msg []byte, off int) (string, int, error) {
	var labels []string
	next := -1
	ptr := off

	for hops := 0; ; {
		l, err := wire.Uint8(msg, ptr)
		if err != nil {
			return "", 0, ErrTruncated
		}

		switch {
		case l == 0:
			if next < 0 {
				next = ptr + 1
			}
			return strings.Join(labels, "."), next, nil

		case l&0xC0 == 0xC0:
			lo, err := wire.Uint8(msg, ptr+1)
			if err != nil {
				return "", 0, ErrTruncated
			}
			if next < 0 {
				next = ptr + 2
			}
			hops++
			if hops > maxPointerDepth {
				return "", 0, ErrMalformedName
			}
			ptr = int(l&0x3F)<<8 | int(lo)

		case l&0xC0 != 0:
			return "", 0, ErrMalformedName

		default:
			end := ptr + 1 + int(l)
			if end > len(msg) {
				return "", 0, ErrTruncated
			}
			labels = append(labels, string(msg[ptr+1:end]))
			ptr = end
		}
	}
}

// ParseRecord decodes the record at off. Question records stop after the
// class field.
func ParseRecord(msg []byte, off int, question bool) (*Record, error) {
	name, s, err := readName(msg, off)
	if err != nil {
		return nil, err
	}
	if s+4 > len(msg) {
		return nil, ErrTruncated
	}

	r := &Record{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[s:]),
		class: binary.BigEndian.Uint16(msg[s+2:]),
		msg:   msg,
	}
	s += 4

	if question {
		r.next = s
		return r, nil
	}

	if s+6 > len(msg) {
		return nil, ErrTruncated
	}
	r.TTL = binary.BigEndian.Uint32(msg[s:])
	dlen := int(binary.BigEndian.Uint16(msg[s+4:]))
	s += 6
	if s+dlen > len(msg) {
		return nil, ErrTruncated
	}
	r.dataOff = s
	r.Data = msg[s : s+dlen]
	r.next = s + dlen
	return r, nil
}
