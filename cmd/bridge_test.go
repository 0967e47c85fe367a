package cmd

import (
	"net"
	"testing"

	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/config"
	"github.com/gopatchy/lxnet/mqttpub"
	"github.com/gopatchy/lxnet/osc"
	"github.com/gopatchy/lxnet/sacn"
	"github.com/gopatchy/lxnet/transport/transporttest"
)

func testBridge(t *testing.T, mappings ...config.Mapping) (*bridge, *transporttest.Conn, *transporttest.Conn) {
	t.Helper()

	c := config.Default()
	c.SACN.Enabled = true
	c.OSC.Enabled = true
	c.OSC.Universe = "artnet:0.0.2"
	c.Mappings = mappings

	artConn := transporttest.New("10.0.0.10:6454")
	sacnConn := transporttest.New("10.0.0.10:5568")
	b, err := newBridge(c, artConn, sacnConn, bridgeOptions{
		localIP:   net.IPv4(10, 0, 0, 10),
		broadcast: &net.UDPAddr{IP: net.IPv4(10, 255, 255, 255), Port: artnet.Port},
		cid:       sacn.CID{1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b, artConn, sacnConn
}

func mapping(t *testing.T, from, to string) config.Mapping {
	t.Helper()
	var m config.Mapping
	if err := m.From.UnmarshalTOML(from); err != nil {
		t.Fatal(err)
	}
	if err := m.To.UnmarshalTOML(to); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBridgeArtNetToSACN(t *testing.T) {
	b, artConn, sacnConn := testBridge(t, mapping(t, "artnet:0.0.1:1-4", "sacn:7:11"))

	var in *artnet.Endpoint
	for _, ep := range b.artInputs {
		if ep.Universe() == 1 {
			in = ep
		}
	}
	if in == nil {
		t.Fatalf("no input endpoint for 0.0.1")
	}

	artConn.Deliver(artnet.BuildDMXPacket(1, 1, []byte{10, 20, 30, 40, 50}), "10.0.0.50:6454")
	changed, err := in.ReadPacket(artConn)
	if err != nil || !changed {
		t.Fatalf("ReadPacket = %v, %v", changed, err)
	}
	b.HandleDMX(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 50), Port: artnet.Port}, in)

	sent := sacnConn.Sent()
	if len(sent) != 1 {
		t.Fatalf("sacn sent %d packets", len(sent))
	}
	if !sent[0].Addr.IP.Equal(sacn.MulticastGroup(7)) {
		t.Errorf("sent to %s", sent[0].Addr)
	}
	pkt, err := sacn.ParseDataPacket(sent[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	dmx := pkt.DMX()
	if pkt.Universe != 7 || dmx[9] != 0 || dmx[10] != 10 || dmx[13] != 40 || dmx[14] != 0 {
		t.Errorf("universe %d levels %v", pkt.Universe, dmx[8:16])
	}

	if ips := b.senders.ForUniverse(config.Universe{Protocol: config.ProtocolArtNet, Number: 1}); len(ips) != 1 || ips[0] != "10.0.0.50" {
		t.Errorf("senders = %v", ips)
	}
}

func TestBridgeSACNToArtNet(t *testing.T) {
	b, artConn, sacnConn := testBridge(t, mapping(t, "sacn:3", "artnet:0.0.5"))
	if len(b.sacnInputs) != 1 {
		t.Fatalf("sacn inputs = %d", len(b.sacnInputs))
	}
	in := b.sacnInputs[0]

	slots := make([]byte, 513)
	slots[1], slots[512] = 99, 7
	sacnConn.Deliver(sacn.BuildDataPacket(&sacn.DataPacket{
		CID:      sacn.CID{9},
		Priority: 100,
		Universe: 3,
		Sequence: 1,
		Slots:    slots,
	}), "10.0.0.60:5568")
	if changed, err := in.ReadPacket(sacnConn); err != nil || !changed {
		t.Fatalf("ReadPacket = %v, %v", changed, err)
	}
	b.handleSACN(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 60), Port: sacn.Port}, in)

	sent := artConn.Sent()
	if len(sent) != 1 || !sent[0].Addr.IP.Equal(net.IPv4(10, 255, 255, 255)) {
		t.Fatalf("artnet sent = %v", sent)
	}
	op, p, err := artnet.ParsePacket(sent[0].Data)
	if err != nil || op != artnet.OpDmx {
		t.Fatalf("parse = %v, %v", op, err)
	}
	d := p.(*artnet.DMXPacket)
	if d.Universe != 5 || d.Data[0] != 99 || d.Data[511] != 7 {
		t.Errorf("universe %s first %d last %d", d.Universe, d.Data[0], d.Data[511])
	}
}

func TestBridgeRejectsDisabledProtocol(t *testing.T) {
	c := config.Default()
	c.Mappings = []config.Mapping{mapping(t, "sacn:1", "artnet:0.0.1")}
	if _, err := newBridge(c, transporttest.New("10.0.0.10:6454"), nil, bridgeOptions{}); err == nil {
		t.Error("sacn mapping with sacn disabled should fail")
	}
}

func TestBridgeAnnouncesSACNOutputs(t *testing.T) {
	b, _, _ := testBridge(t, mapping(t, "artnet:0.0.1", "sacn:7"), mapping(t, "artnet:0.0.1", "sacn:9"))
	if b.announcer == nil {
		t.Fatal("no announcer")
	}
	pages := b.announcer.Pages()
	if len(pages) != 1 {
		t.Fatalf("pages = %d", len(pages))
	}
	p, err := sacn.ParseDiscoveryPacket(pages[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Universes) != 2 || p.Universes[0] != 7 || p.Universes[1] != 9 {
		t.Errorf("universes = %v", p.Universes)
	}
}

func TestOSCRouter(t *testing.T) {
	b, artConn, _ := testBridge(t)
	reply := transporttest.New("10.0.0.10:53000")
	b.cfg.OSC.ReplyPort = 53001
	r := b.oscRouter(osc.NewEndpoint(reply, nil))
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 70), Port: 40000}

	r.Dispatch(osc.NewMessage("/dmx/5", osc.Float(1)), src)
	r.Dispatch(osc.NewMessage("/dmx/6", osc.Int(300)), src)
	r.Dispatch(osc.NewMessage("/dmx/7", osc.Float(0.5)), src)
	r.Dispatch(osc.NewMessage("/dmx/0", osc.Int(1)), src)
	r.Dispatch(osc.NewMessage("/dmx/8", osc.String("x")), src)

	if b.direct.Slot(5) != 255 || b.direct.Slot(6) != 255 || b.direct.Slot(7) != 128 || b.direct.Slot(8) != 0 {
		t.Errorf("slots = %d %d %d %d", b.direct.Slot(5), b.direct.Slot(6), b.direct.Slot(7), b.direct.Slot(8))
	}
	if n := len(artConn.Sent()); n != 0 {
		t.Fatalf("level writes sent %d packets", n)
	}

	r.Dispatch(osc.NewMessage("/dmx/send"), src)
	sent := artConn.Sent()
	if len(sent) != 1 {
		t.Fatalf("send sent %d packets", len(sent))
	}
	_, p, err := artnet.ParsePacket(sent[0].Data)
	if err != nil || p.(*artnet.DMXPacket).Universe != 2 || p.(*artnet.DMXPacket).Data[4] != 255 {
		t.Errorf("dmx = %+v, %v", p, err)
	}

	acks := reply.Sent()
	if len(acks) != 1 || acks[0].Addr.Port != 53001 || !acks[0].Addr.IP.Equal(src.IP) {
		t.Fatalf("acks = %v", acks)
	}
	msgs, err := osc.Parse(acks[0].Data)
	if err != nil || len(msgs) != 1 || msgs[0].String() != "/dmx/sent" || msgs[0].IntAt(0) != 512 {
		t.Errorf("ack = %v, %v", msgs, err)
	}
}

func TestSetDirect(t *testing.T) {
	b, artConn, _ := testBridge(t)
	u := config.Universe{Protocol: config.ProtocolArtNet, Number: 2}

	b.setDirect(u, []mqttpub.Command{{Channel: 0, Value: 1}, {Channel: 511, Value: 2}})
	if b.direct.Slot(1) != 1 || b.direct.Slot(512) != 2 {
		t.Errorf("slots = %d %d", b.direct.Slot(1), b.direct.Slot(512))
	}
	if len(artConn.Sent()) != 1 {
		t.Errorf("sent = %d", len(artConn.Sent()))
	}

	b.setDirect(config.Universe{Protocol: config.ProtocolSACN, Number: 44}, []mqttpub.Command{{Channel: 0, Value: 1}})
	if len(artConn.Sent()) != 1 {
		t.Error("unknown output should not send")
	}
}

func TestParseListenAddr(t *testing.T) {
	tests := []struct {
		in   string
		ip   string
		port int
		err  bool
	}{
		{":6454", "0.0.0.0", 6454, false},
		{"10.0.0.1", "10.0.0.1", 9000, false},
		{"10.0.0.1:7000", "10.0.0.1", 7000, false},
		{"10.0.0.1:", "10.0.0.1", 9000, false},
		{"nope:1", "", 0, true},
		{":x", "", 0, true},
	}
	for _, tt := range tests {
		addr, err := parseListenAddr(tt.in, 9000)
		if (err != nil) != tt.err {
			t.Errorf("%q: err = %v", tt.in, err)
			continue
		}
		if err == nil && (!addr.IP.Equal(net.ParseIP(tt.ip)) || addr.Port != tt.port) {
			t.Errorf("%q -> %s", tt.in, addr)
		}
	}
}

func TestParseOSCArg(t *testing.T) {
	tests := []struct {
		in   string
		want osc.Argument
	}{
		{"12", osc.Int(12)},
		{"-3", osc.Int(-3)},
		{"0.5", osc.Float(0.5)},
		{"true", osc.Bool(true)},
		{"false", osc.Bool(false)},
		{"go", osc.String("go")},
	}
	for _, tt := range tests {
		if got := parseOSCArg(tt.in); got != tt.want {
			t.Errorf("%q -> %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestBridgeAnnounce(t *testing.T) {
	b, artConn, _ := testBridge(t)
	bcast := &net.UDPAddr{IP: net.IPv4(10, 255, 255, 255), Port: artnet.Port}

	b.announce(nil)
	if n := len(artConn.Sent()); n != 0 {
		t.Fatalf("announce without broadcast sent %d", n)
	}

	b.announce(bcast)
	sent := artConn.Sent()
	if len(sent) != 1 || !sent[0].Addr.IP.Equal(bcast.IP) {
		t.Fatalf("sent = %v", sent)
	}
	if op := artnet.ParseOpCode(sent[0].Data); op != artnet.OpPollReply {
		t.Errorf("op = %s, want pollreply", op)
	}
}

func TestCaptureInterfaceName(t *testing.T) {
	if got := captureInterface("eth1"); got != "eth1" {
		t.Errorf("captureInterface(eth1) = %q", got)
	}
}
