package wire

import (
	"errors"
	"testing"
)

func TestIntegerRoundtrip(t *testing.T) {
	buf := make([]byte, 24)

	off, err := PutUint16(buf, 0, 0xBEEF)
	if err != nil || off != 2 {
		t.Fatalf("PutUint16 = %d, %v", off, err)
	}
	off, _ = PutInt32(buf, off, -42)
	off, _ = PutFloat32(buf, off, 1.5)
	off, _ = PutFloat64(buf, off, -2.25)
	if off != 18 {
		t.Fatalf("offset = %d, want 18", off)
	}

	if v, _ := Uint16(buf, 0); v != 0xBEEF {
		t.Errorf("Uint16 = %#x, want 0xbeef", v)
	}
	if v, _ := Int32(buf, 2); v != -42 {
		t.Errorf("Int32 = %d, want -42", v)
	}
	if v, _ := Float32(buf, 6); v != 1.5 {
		t.Errorf("Float32 = %v, want 1.5", v)
	}
	if v, _ := Float64(buf, 10); v != -2.25 {
		t.Errorf("Float64 = %v, want -2.25", v)
	}
	if buf[0] != 0xBE || buf[1] != 0xEF {
		t.Errorf("not big-endian: % x", buf[:2])
	}
}

func TestLittleEndian(t *testing.T) {
	v, err := Uint16LE([]byte{0x00, 0x50}, 0)
	if err != nil || v != 0x5000 {
		t.Fatalf("Uint16LE = %#x, %v", v, err)
	}
}

func TestTruncated(t *testing.T) {
	buf := make([]byte, 3)
	if _, err := Uint32(buf, 0); !errors.Is(err, ErrTruncated) {
		t.Errorf("Uint32 err = %v, want ErrTruncated", err)
	}
	if _, err := Uint16(buf, 2); !errors.Is(err, ErrTruncated) {
		t.Errorf("Uint16 err = %v, want ErrTruncated", err)
	}
	if _, err := Uint8(buf, -1); !errors.Is(err, ErrTruncated) {
		t.Errorf("Uint8 err = %v, want ErrTruncated", err)
	}
	if _, err := PutUint32(buf, 0, 1); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("PutUint32 err = %v, want ErrBufferTooSmall", err)
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		s    string
		want int
	}{
		{"", 4},
		{"abc", 4},
		{"abcd", 8},
		{"/foo", 8},
		{"/foo/bar", 12},
	}

	for _, tt := range tests {
		buf := make([]byte, 16)
		for i := range buf {
			buf[i] = 0xFF
		}
		off, err := PutString(buf, 0, tt.s)
		if err != nil {
			t.Fatalf("PutString(%q): %v", tt.s, err)
		}
		if off != tt.want {
			t.Errorf("PutString(%q) = %d, want %d", tt.s, off, tt.want)
		}
		for i := len(tt.s); i < off; i++ {
			if buf[i] != 0 {
				t.Errorf("PutString(%q) byte %d = %#x, want 0", tt.s, i, buf[i])
			}
		}
		got, next, err := String(buf, 0, len(buf))
		if err != nil || got != tt.s || next != tt.want {
			t.Errorf("String = %q, %d, %v; want %q, %d", got, next, err, tt.s, tt.want)
		}
		if app := AppendString(nil, tt.s); len(app) != tt.want {
			t.Errorf("AppendString(%q) len = %d, want %d", tt.s, len(app), tt.want)
		}
	}
}

func TestStringUnterminated(t *testing.T) {
	if _, _, err := String([]byte("abcd"), 0, 4); !errors.Is(err, ErrUnterminated) {
		t.Errorf("err = %v, want ErrUnterminated", err)
	}
	if _, err := PutString(make([]byte, 4), 0, "abcd"); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestFixedString(t *testing.T) {
	if got := FixedString([]byte{'l', 'x', 0, 'z'}); got != "lx" {
		t.Errorf("FixedString = %q, want lx", got)
	}
	if got := FixedString([]byte("full")); got != "full" {
		t.Errorf("FixedString = %q, want full", got)
	}
}
