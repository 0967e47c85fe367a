package osc

import (
	"errors"
	"strings"

	"github.com/gopatchy/lxnet/wire"
)

const BundleTag = "#bundle"

var (
	ErrUnknownType    = errors.New("osc: unknown type tag")
	ErrInvalidAddress = errors.New("osc: address must start with /")
	ErrBundleDepth    = errors.New("osc: bundles nested too deeply")
)

// Packet is a message or a bundle
type Packet interface {
	Size() int
	AppendTo(dst []byte) []byte
}

// Message is an address split into its parts plus typed arguments
type Message struct {
	Address []string
	Args    []Argument
}

func NewMessage(address string, args ...Argument) *Message {
	return &Message{Address: SplitAddress(address), Args: args}
}

// SplitAddress splits an address on '/' and drops empty parts.
func SplitAddress(address string) []string {
	parts := strings.Split(address, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (m *Message) String() string {
	if len(m.Address) == 0 {
		return "/"
	}
	return "/" + strings.Join(m.Address, "/")
}

func (m *Message) Append(args ...Argument) {
	m.Args = append(m.Args, args...)
}

// TypeTags returns the comma prefixed type tag string
func (m *Message) TypeTags() string {
	tags := make([]byte, 0, len(m.Args)+1)
	tags = append(tags, ',')
	for _, a := range m.Args {
		tags = append(tags, a.Tag())
	}
	return string(tags)
}

// Size is the exact encoded length of the message
func (m *Message) Size() int {
	n := wire.PaddedLen(m.String()) + wire.Pad4(len(m.Args)+2)
	for _, a := range m.Args {
		n += a.size()
	}
	return n
}

func (m *Message) AppendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, m.String())
	dst = wire.AppendString(dst, m.TypeTags())
	for _, a := range m.Args {
		dst = a.appendTo(dst)
	}
	return dst
}

func (m *Message) Marshal() []byte {
	return m.AppendTo(make([]byte, 0, m.Size()))
}

// MarshalTo encodes m into dst and returns the bytes written. dst is left
// untouched when the message does not fit.
func (m *Message) MarshalTo(dst []byte) (int, error) {
	return marshalTo(m, dst)
}

func marshalTo(p Packet, dst []byte) (int, error) {
	n := p.Size()
	if n > len(dst) {
		return 0, wire.ErrBufferTooSmall
	}
	return len(p.AppendTo(dst[:0])), nil
}

func (m *Message) Len() int {
	return len(m.Args)
}

func (m *Message) arg(i int) Argument {
	if i < 0 || i >= len(m.Args) {
		return nil
	}
	return m.Args[i]
}

// TypeAt returns the type tag of argument i, or 0 if there is none.
func (m *Message) TypeAt(i int) byte {
	if a := m.arg(i); a != nil {
		return a.Tag()
	}
	return 0
}

// IntAt returns argument i as an integer, converting from the numeric and
// boolean types. Missing or non-numeric arguments read as 0.
func (m *Message) IntAt(i int) int32 {
	switch v := m.arg(i).(type) {
	case Int:
		return int32(v)
	case Float:
		return int32(v)
	case Double:
		return int32(v)
	case Bool:
		if v {
			return 1
		}
	}
	return 0
}

func (m *Message) FloatAt(i int) float32 {
	return float32(m.DoubleAt(i))
}

func (m *Message) DoubleAt(i int) float64 {
	switch v := m.arg(i).(type) {
	case Int:
		return float64(v)
	case Float:
		return float64(v)
	case Double:
		return float64(v)
	case Bool:
		if v {
			return 1
		}
	}
	return 0
}

func (m *Message) StringAt(i int) string {
	if v, ok := m.arg(i).(String); ok {
		return string(v)
	}
	return ""
}

func (m *Message) BlobAt(i int) []byte {
	if v, ok := m.arg(i).(Blob); ok {
		return v
	}
	return nil
}

func (m *Message) BoolAt(i int) bool {
	switch v := m.arg(i).(type) {
	case Bool:
		return bool(v)
	case Int:
		return v != 0
	}
	return false
}

// Bundle groups packets under one time tag
type Bundle struct {
	Time     Timestamp
	Elements []Packet
}

func NewBundle(t Timestamp, elements ...Packet) *Bundle {
	return &Bundle{Time: t, Elements: elements}
}

func (b *Bundle) Size() int {
	n := wire.PaddedLen(BundleTag) + 8
	for _, e := range b.Elements {
		n += 4 + e.Size()
	}
	return n
}

func (b *Bundle) AppendTo(dst []byte) []byte {
	dst = wire.AppendString(dst, BundleTag)
	dst = b.Time.appendTo(dst)
	for _, e := range b.Elements {
		dst = Int(e.Size()).appendTo(dst)
		dst = e.AppendTo(dst)
	}
	return dst
}

func (b *Bundle) Marshal() []byte {
	return b.AppendTo(make([]byte, 0, b.Size()))
}

func (b *Bundle) MarshalTo(dst []byte) (int, error) {
	return marshalTo(b, dst)
}

// Messages flattens the bundle, including nested bundles, in order.
func (b *Bundle) Messages() []*Message {
	var out []*Message
	for _, e := range b.Elements {
		switch v := e.(type) {
		case *Message:
			out = append(out, v)
		case *Bundle:
			out = append(out, v.Messages()...)
		}
	}
	return out
}
