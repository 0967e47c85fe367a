package osc

import (
	"fmt"

	"github.com/gopatchy/lxnet/wire"
)

const maxBundleDepth = 8

// Parse decodes a datagram and returns every message it carries, with
// bundles flattened in order. When an element fails to decode the messages
// decoded before it are still returned alongside the error.
func Parse(data []byte) ([]*Message, error) {
	p, err := ParsePacket(data)
	switch v := p.(type) {
	case *Message:
		return []*Message{v}, err
	case *Bundle:
		return v.Messages(), err
	}
	return nil, err
}

// ParsePacket decodes a single message or bundle. A bundle that fails part
// way holds the elements decoded up to the failure.
func ParsePacket(data []byte) (Packet, error) {
	return parsePacket(data, 0)
}

func parsePacket(data []byte, depth int) (Packet, error) {
	addr, off, err := wire.String(data, 0, len(data))
	if err != nil {
		return nil, fmt.Errorf("osc address: %w", wire.ErrTruncated)
	}
	if addr == BundleTag {
		b, err := parseBundle(data, off, depth)
		if b == nil {
			return nil, err
		}
		return b, err
	}
	if len(addr) == 0 || addr[0] != '/' {
		return nil, ErrInvalidAddress
	}

	m := &Message{Address: SplitAddress(addr)}
	if off >= len(data) {
		// no type tag string
		return m, nil
	}

	tags, off, err := wire.String(data, off, len(data))
	if err != nil {
		return nil, fmt.Errorf("osc type tags: %w", wire.ErrTruncated)
	}
	if len(tags) > 0 && tags[0] == ',' {
		tags = tags[1:]
	}

	for i := 0; i < len(tags); i++ {
		var a Argument
		a, off, err = parseArgument(tags[i], data, off)
		if err != nil {
			return nil, err
		}
		m.Args = append(m.Args, a)
	}
	return m, nil
}

func parseArgument(tag byte, data []byte, off int) (Argument, int, error) {
	switch tag {
	case 'i':
		v, err := wire.Int32(data, off)
		return Int(v), off + 4, err
	case 'f':
		v, err := wire.Float32(data, off)
		return Float(v), off + 4, err
	case 'd':
		v, err := wire.Float64(data, off)
		return Double(v), off + 8, err
	case 't':
		v, err := wire.Uint64(data, off)
		return Timestamp(v), off + 8, err
	case 's':
		s, next, err := wire.String(data, off, len(data))
		if err != nil {
			return nil, off, fmt.Errorf("osc string: %w", wire.ErrTruncated)
		}
		return String(s), next, nil
	case 'b':
		n, err := wire.Uint32(data, off)
		if err != nil {
			return nil, off, err
		}
		off += 4
		if int64(n) > int64(len(data)-off) {
			return nil, off, fmt.Errorf("osc blob: %w", wire.ErrTruncated)
		}
		blob := make(Blob, n)
		copy(blob, data[off:])
		return blob, off + wire.Pad4(int(n)), nil
	case 'T':
		return Bool(true), off, nil
	case 'F':
		return Bool(false), off, nil
	case 'I':
		return Impulse{}, off, nil
	case 'N':
		return Nil{}, off, nil
	}
	return nil, off, fmt.Errorf("%w %q", ErrUnknownType, tag)
}

func parseBundle(data []byte, off, depth int) (*Bundle, error) {
	if depth >= maxBundleDepth {
		return nil, ErrBundleDepth
	}
	t, err := wire.Uint64(data, off)
	if err != nil {
		return nil, fmt.Errorf("osc bundle time: %w", wire.ErrTruncated)
	}
	off += 8

	b := &Bundle{Time: Timestamp(t)}
	for off < len(data) {
		n, err := wire.Uint32(data, off)
		if err != nil {
			return b, fmt.Errorf("osc bundle element size: %w", wire.ErrTruncated)
		}
		off += 4
		if int64(n) > int64(len(data)-off) {
			return b, fmt.Errorf("osc bundle element: %w", wire.ErrTruncated)
		}

		p, err := parsePacket(data[off:off+int(n)], depth+1)
		if p != nil {
			b.Elements = append(b.Elements, p)
		}
		if err != nil {
			return b, err
		}
		off += int(n)
	}
	return b, nil
}
