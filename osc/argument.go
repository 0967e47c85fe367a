// Package osc encodes and decodes OSC messages and bundles and routes them
// by address pattern.
package osc

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/gopatchy/lxnet/wire"
)

// Argument is one typed message argument. Each concrete type maps to exactly
// one type tag and wire width.
type Argument interface {
	Tag() byte
	size() int
	appendTo(dst []byte) []byte
}

type (
	Int       int32
	Float     float32
	Double    float64
	Timestamp uint64
	String    string
	Blob      []byte
	Bool      bool
	Impulse   struct{}
	Nil       struct{}
)

func (Int) Tag() byte       { return 'i' }
func (Float) Tag() byte     { return 'f' }
func (Double) Tag() byte    { return 'd' }
func (Timestamp) Tag() byte { return 't' }
func (String) Tag() byte    { return 's' }
func (Blob) Tag() byte      { return 'b' }
func (Impulse) Tag() byte   { return 'I' }
func (Nil) Tag() byte       { return 'N' }

func (b Bool) Tag() byte {
	if b {
		return 'T'
	}
	return 'F'
}

func (Int) size() int       { return 4 }
func (Float) size() int     { return 4 }
func (Double) size() int    { return 8 }
func (Timestamp) size() int { return 8 }
func (s String) size() int  { return wire.PaddedLen(string(s)) }
func (b Blob) size() int    { return 4 + wire.Pad4(len(b)) }
func (Bool) size() int      { return 0 }
func (Impulse) size() int   { return 0 }
func (Nil) size() int       { return 0 }

func (v Int) appendTo(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v))
}

func (v Float) appendTo(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
}

func (v Double) appendTo(dst []byte) []byte {
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(float64(v)))
}

func (v Timestamp) appendTo(dst []byte) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(v))
}

func (s String) appendTo(dst []byte) []byte {
	return wire.AppendString(dst, string(s))
}

func (b Blob) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	dst = append(dst, b...)
	return wire.AppendPad(dst)
}

func (Bool) appendTo(dst []byte) []byte    { return dst }
func (Impulse) appendTo(dst []byte) []byte { return dst }
func (Nil) appendTo(dst []byte) []byte     { return dst }

// Immediately is the time tag that asks for a bundle to be applied on
// receipt.
const Immediately Timestamp = 1

// 1900-01-01 to 1970-01-01
const ntpEpochOffset = 2208988800

// NTPTime converts t to a 64 bit NTP time tag.
func NTPTime(t time.Time) Timestamp {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return Timestamp(secs<<32 | frac)
}

// TimeFromNTP is the inverse of NTPTime, accurate to the nanosecond.
func TimeFromNTP(ts Timestamp) time.Time {
	secs := int64(ts>>32) - ntpEpochOffset
	frac := uint64(ts) & 0xffffffff
	nsec := (frac*uint64(time.Second) + 1<<31) >> 32
	return time.Unix(secs, int64(nsec))
}

func (ts Timestamp) Time() time.Time {
	return TimeFromNTP(ts)
}
