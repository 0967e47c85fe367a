// Package wire holds the bounds-checked byte helpers shared by the protocol
// codecs. Readers take a buffer and an offset; writers take a buffer and an
// offset and return the next free offset.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrTruncated      = errors.New("truncated buffer")
	ErrBufferTooSmall = errors.New("destination buffer too small")
	ErrUnterminated   = errors.New("string not terminated")
)

func check(b []byte, off, width int) error {
	if off < 0 || width < 0 || off+width > len(b) {
		return ErrTruncated
	}
	return nil
}

func Uint8(b []byte, off int) (uint8, error) {
	if err := check(b, off, 1); err != nil {
		return 0, err
	}
	return b[off], nil
}

func Uint16(b []byte, off int) (uint16, error) {
	if err := check(b, off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[off:]), nil
}

// Uint16LE reads the low-byte-first form used by Art-Net opcodes and port
// addresses.
func Uint16LE(b []byte, off int) (uint16, error) {
	if err := check(b, off, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[off:]), nil
}

func Uint32(b []byte, off int) (uint32, error) {
	if err := check(b, off, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[off:]), nil
}

func Int32(b []byte, off int) (int32, error) {
	v, err := Uint32(b, off)
	return int32(v), err
}

func Uint64(b []byte, off int) (uint64, error) {
	if err := check(b, off, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[off:]), nil
}

func Float32(b []byte, off int) (float32, error) {
	v, err := Uint32(b, off)
	return math.Float32frombits(v), err
}

func Float64(b []byte, off int) (float64, error) {
	v, err := Uint64(b, off)
	return math.Float64frombits(v), err
}

func PutUint16(b []byte, off int, v uint16) (int, error) {
	if err := check(b, off, 2); err != nil {
		return off, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint16(b[off:], v)
	return off + 2, nil
}

func PutUint32(b []byte, off int, v uint32) (int, error) {
	if err := check(b, off, 4); err != nil {
		return off, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(b[off:], v)
	return off + 4, nil
}

func PutUint64(b []byte, off int, v uint64) (int, error) {
	if err := check(b, off, 8); err != nil {
		return off, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint64(b[off:], v)
	return off + 8, nil
}

func PutInt32(b []byte, off int, v int32) (int, error) {
	return PutUint32(b, off, uint32(v))
}

func PutFloat32(b []byte, off int, v float32) (int, error) {
	return PutUint32(b, off, math.Float32bits(v))
}

func PutFloat64(b []byte, off int, v float64) (int, error) {
	return PutUint64(b, off, math.Float64bits(v))
}

// Pad4 rounds n up to the next multiple of four.
func Pad4(n int) int {
	return (n + 3) &^ 3
}

// PaddedLen is the encoded size of s as a NUL terminated string padded to
// four bytes.
func PaddedLen(s string) int {
	return Pad4(len(s) + 1)
}

// PutString writes s, a NUL terminator and zero padding to the next multiple
// of four.
func PutString(b []byte, off int, s string) (int, error) {
	n := PaddedLen(s)
	if err := check(b, off, n); err != nil {
		return off, ErrBufferTooSmall
	}
	copy(b[off:], s)
	clear(b[off+len(s) : off+n])
	return off + n, nil
}

// String scans for a NUL terminator in b[off:end] and returns the string and
// the padded offset that follows it.
func String(b []byte, off, end int) (string, int, error) {
	if end > len(b) {
		end = len(b)
	}
	if off < 0 || off >= end {
		return "", off, ErrTruncated
	}
	i := bytes.IndexByte(b[off:end], 0)
	if i < 0 {
		return "", off, ErrUnterminated
	}
	return string(b[off : off+i]), off + Pad4(i+1), nil
}

// FixedString returns the bytes of a fixed width field up to the first NUL.
func FixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// AppendString is the growable form of PutString.
func AppendString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	for n := PaddedLen(s) - len(s); n > 0; n-- {
		dst = append(dst, 0)
	}
	return dst
}

// AppendPad appends zero bytes until len(dst) is a multiple of four.
func AppendPad(dst []byte) []byte {
	for len(dst)%4 != 0 {
		dst = append(dst, 0)
	}
	return dst
}
