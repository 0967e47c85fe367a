package osc

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/gopatchy/lxnet/transport/transporttest"
	"github.com/gopatchy/lxnet/wire"
)

func TestMessageRoundtripAllTypes(t *testing.T) {
	m := NewMessage("/mixer/ch/1",
		Int(-7),
		Float(0.5),
		Double(3.25),
		Timestamp(0x0102030405060708),
		String("hello"),
		Blob{1, 2, 3, 4, 5},
		Bool(true),
		Bool(false),
		Impulse{},
		Nil{},
	)

	b := m.Marshal()
	if len(b) != m.Size() {
		t.Fatalf("len = %d, size = %d", len(b), m.Size())
	}
	if len(b)%4 != 0 {
		t.Fatalf("len %d not aligned", len(b))
	}

	msgs, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	got := msgs[0]
	if got.String() != "/mixer/ch/1" {
		t.Errorf("address = %q", got.String())
	}
	if !reflect.DeepEqual(got.Args, m.Args) {
		t.Errorf("args = %#v, want %#v", got.Args, m.Args)
	}
	if got.TypeTags() != ",ifdtsbTFIN" {
		t.Errorf("type tags = %q", got.TypeTags())
	}
}

func TestMessageLayout(t *testing.T) {
	b := NewMessage("/a", Int(1), String("xyz")).Marshal()
	want := []byte{
		'/', 'a', 0, 0,
		',', 'i', 's', 0,
		0, 0, 0, 1,
		'x', 'y', 'z', 0,
	}
	if !bytes.Equal(b, want) {
		t.Errorf("got % x, want % x", b, want)
	}

	// a four byte string still gets a terminator
	b = NewMessage("/a", String("abcd")).Marshal()
	if len(b) != 16 || b[12] != 0 {
		t.Errorf("got % x", b)
	}
}

func TestParseErrors(t *testing.T) {
	unknown := NewMessage("/a", Int(1)).Marshal()
	unknown[5] = 'q'

	shortInt := NewMessage("/a", Int(1)).Marshal()[:10]

	blob := NewMessage("/a", Blob{1, 2, 3}).Marshal()
	blob[11] = 200

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"unknown tag", unknown, ErrUnknownType},
		{"short int", shortInt, wire.ErrTruncated},
		{"blob overruns", blob, wire.ErrTruncated},
		{"no slash", []byte{'a', 0, 0, 0, ',', 0, 0, 0}, ErrInvalidAddress},
		{"empty", nil, wire.ErrTruncated},
		{"unterminated", []byte("/abc"), wire.ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(msgs) != 0 {
				t.Errorf("messages = %d, want 0", len(msgs))
			}
		})
	}
}

func TestMessageWithoutTypeTags(t *testing.T) {
	msgs, err := Parse([]byte{'/', 'g', 'o', 0})
	if err != nil || len(msgs) != 1 || msgs[0].Len() != 0 {
		t.Fatalf("msgs = %v, err = %v", msgs, err)
	}
}

func TestBundleRoundtrip(t *testing.T) {
	in := []*Message{
		NewMessage("/one", Int(1)),
		NewMessage("/two/x", String("two"), Float(2)),
		NewMessage("/three", Bool(true), Blob{3}),
	}
	b := NewBundle(Immediately, in[0], in[1], in[2])

	data := b.Marshal()
	if len(data) != b.Size() {
		t.Fatalf("len = %d, size = %d", len(data), b.Size())
	}

	p, err := ParsePacket(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := p.(*Bundle)
	if !ok {
		t.Fatalf("parsed %T, want bundle", p)
	}
	if got.Time != Immediately {
		t.Errorf("time = %d", got.Time)
	}

	msgs := got.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i := range in {
		if msgs[i].String() != in[i].String() || !reflect.DeepEqual(msgs[i].Args, in[i].Args) {
			t.Errorf("message %d = %s %v, want %s %v", i, msgs[i], msgs[i].Args, in[i], in[i].Args)
		}
	}
}

func TestBundleKeepsMessagesBeforeBadElement(t *testing.T) {
	bad := NewMessage("/bad", Int(1))
	data := NewBundle(Immediately, NewMessage("/good"), bad).Marshal()
	// second element type tag
	i := bytes.LastIndex(data, []byte(",i"))
	data[i+1] = 'q'

	msgs, err := Parse(data)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v", err)
	}
	if len(msgs) != 1 || msgs[0].String() != "/good" {
		t.Errorf("msgs = %v", msgs)
	}
}

func TestNestedBundle(t *testing.T) {
	inner := NewBundle(Immediately, NewMessage("/b"), NewMessage("/c"))
	outer := NewBundle(Immediately, NewMessage("/a"), inner)

	msgs, err := Parse(outer.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.String())
	}
	if !reflect.DeepEqual(got, []string{"/a", "/b", "/c"}) {
		t.Errorf("got %v", got)
	}
}

func TestMarshalToTooSmall(t *testing.T) {
	m := NewMessage("/long/address/here", String("some argument"))
	dst := bytes.Repeat([]byte{0xee}, m.Size()-1)

	n, err := m.MarshalTo(dst)
	if !errors.Is(err, wire.ErrBufferTooSmall) || n != 0 {
		t.Fatalf("n = %d, err = %v", n, err)
	}
	if !bytes.Equal(dst, bytes.Repeat([]byte{0xee}, len(dst))) {
		t.Error("dst modified on failure")
	}

	dst = make([]byte, m.Size())
	if n, err := m.MarshalTo(dst); err != nil || n != m.Size() {
		t.Fatalf("n = %d, err = %v", n, err)
	}
}

func TestMatchPart(t *testing.T) {
	tests := []struct {
		address, pattern string
		want             bool
	}{
		{"1", "*", true},
		{"bar", "?", false},
		{"b", "?", true},
		{"a", "{a,x}", true},
		{"x", "{a,x}", true},
		{"y", "{a,x}", false},
		{"foobar", "{foo,f}bar", true},
		{"fbar", "{foo,f}bar", true},
		{"fader12", "fader*", true},
		{"fader", "fader*", true},
		{"abc", "a*c", true},
		{"ac", "a*c", true},
		{"abd", "a*c", false},
		{"c", "[a-d]", true},
		{"e", "[a-d]", false},
		{"e", "[!a-d]", true},
		{"b", "[!abc]", false},
		{"3", "[0-9]", true},
		{"x", "[x", false},
		{"fo", "foo", false},
		{"foo", "fo", false},
	}

	for _, tt := range tests {
		if got := MatchPart(tt.address, tt.pattern); got != tt.want {
			t.Errorf("MatchPart(%q, %q) = %v, want %v", tt.address, tt.pattern, got, tt.want)
		}
	}
}

func TestMatchDirections(t *testing.T) {
	if !NewMessage("/foo/1").MatchesAddressPattern("/foo/*") {
		t.Error("/foo/1 should match /foo/*")
	}
	if NewMessage("/foo/bar").MatchesAddressPattern("/foo/?") {
		t.Error("/foo/bar should not match /foo/?")
	}
	if !NewMessage("/a/b").MatchesAddressPattern("/{a,x}/b") {
		t.Error("/a/b should match /{a,x}/b")
	}

	// prefix filter
	if !NewMessage("/dmx/12/level").MatchesAddressPattern("/dmx") {
		t.Error("prefix should match")
	}
	if NewMessage("/dmx").MatchesAddressPattern("/dmx/1") {
		t.Error("longer pattern should not match")
	}

	// the message is the pattern and lengths must agree
	if !NewMessage("/foo/*").MatchesAddress("/foo/1") {
		t.Error("/foo/* should match address /foo/1")
	}
	if NewMessage("/foo/*").MatchesAddress("/foo/1/2") {
		t.Error("length mismatch should not match")
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	var exact, prefix []string
	r.Handle("/dmx/send", func(m *Message, _ *net.UDPAddr) { exact = append(exact, m.String()) })
	r.HandlePrefix("/dmx/*", func(m *Message, _ *net.UDPAddr) { prefix = append(prefix, m.String()) })

	if n := r.Dispatch(NewMessage("/dmx/send"), nil); n != 2 {
		t.Errorf("handlers = %d, want 2", n)
	}
	if n := r.Dispatch(NewMessage("/dmx/12"), nil); n != 1 {
		t.Errorf("handlers = %d, want 1", n)
	}
	if n := r.Dispatch(NewMessage("/dmx/s*"), nil); n != 2 {
		t.Errorf("wildcard handlers = %d, want 2", n)
	}
	if n := r.Dispatch(NewMessage("/other"), nil); n != 0 {
		t.Errorf("handlers = %d, want 0", n)
	}
	if len(exact) != 2 || len(prefix) != 3 {
		t.Errorf("exact = %v, prefix = %v", exact, prefix)
	}
}

func TestAccessors(t *testing.T) {
	m := NewMessage("/x", Int(3), Float(0.75), Double(2.5), String("s"), Blob{9}, Bool(true))

	if m.IntAt(0) != 3 || m.IntAt(2) != 2 || m.IntAt(5) != 1 || m.IntAt(9) != 0 {
		t.Error("IntAt")
	}
	if m.FloatAt(1) != 0.75 || m.FloatAt(0) != 3 {
		t.Error("FloatAt")
	}
	if m.DoubleAt(2) != 2.5 {
		t.Error("DoubleAt")
	}
	if m.StringAt(3) != "s" || m.StringAt(0) != "" {
		t.Error("StringAt")
	}
	if !bytes.Equal(m.BlobAt(4), []byte{9}) || m.BlobAt(0) != nil {
		t.Error("BlobAt")
	}
	if !m.BoolAt(5) || !m.BoolAt(0) || m.BoolAt(3) {
		t.Error("BoolAt")
	}
	if m.TypeAt(1) != 'f' || m.TypeAt(-1) != 0 || m.Len() != 6 {
		t.Error("TypeAt/Len")
	}
}

func TestNTPTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 15, 123456789, time.UTC)
	ts := NTPTime(now)
	if uint64(ts)>>32 != uint64(now.Unix())+2208988800 {
		t.Errorf("seconds = %d", uint64(ts)>>32)
	}
	if got := TimeFromNTP(ts); !got.Equal(now) {
		t.Errorf("roundtrip = %v, want %v", got, now)
	}
}

func TestEndpoint(t *testing.T) {
	conn := transporttest.New("127.0.0.1:53000")
	dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53001}
	ep := NewEndpoint(conn, dest)

	if err := ep.Send(NewMessage("/a", Int(1))); err != nil {
		t.Fatal(err)
	}
	if err := ep.SendBundle(NewMessage("/b"), NewMessage("/c")); err != nil {
		t.Fatal(err)
	}
	big := NewMessage("/big", Blob(make([]byte, MaxPacketSize)))
	if err := ep.Send(big); !errors.Is(err, wire.ErrBufferTooSmall) {
		t.Errorf("oversize send err = %v", err)
	}

	sent := conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	for _, d := range sent {
		conn.Deliver(d.Data, "127.0.0.1:9000")
	}

	msgs, src, err := ep.ReadPacket()
	if err != nil || len(msgs) != 1 || msgs[0].IntAt(0) != 1 {
		t.Fatalf("read 1 = %v, %v", msgs, err)
	}
	if src.Port != 9000 {
		t.Errorf("src = %s", src)
	}
	msgs, _, err = ep.ReadPacket()
	if err != nil || len(msgs) != 2 {
		t.Fatalf("read 2 = %v, %v", msgs, err)
	}
	msgs, _, err = ep.ReadPacket()
	if err != nil || msgs != nil {
		t.Fatalf("idle read = %v, %v", msgs, err)
	}

	if err := NewEndpoint(conn, nil).Send(NewMessage("/a")); !errors.Is(err, ErrNoDestination) {
		t.Errorf("err = %v", err)
	}
}
