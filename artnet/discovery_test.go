package artnet

import (
	"net"
	"testing"
	"time"

	"github.com/gopatchy/lxnet/transport/transporttest"
)

func TestDiscoveryTable(t *testing.T) {
	ep, conn := newTestEndpoint()
	d := NewDiscovery(conn, ep, time.Second)
	d.Match = func(info PollReplyInfo) bool { return info.ShortName == "pick" }
	ep.SetPollReplyListener(d)

	process(t, ep, conn, "10.0.0.30:6454", BuildPollReplyPacket(PollReply{ShortName: "other", Universe: NewUniverse(0, 0, 2)}))
	process(t, ep, conn, "10.0.0.31:6454", BuildPollReplyPacket(PollReply{ShortName: "pick", Universe: testUniverse}))

	if n := len(d.GetAllNodes()); n != 2 {
		t.Fatalf("nodes = %d, want 2", n)
	}
	nodes := d.GetNodesForUniverse(testUniverse)
	if len(nodes) != 1 || nodes[0].ShortName != "pick" {
		t.Fatalf("nodes for %s = %+v", testUniverse, nodes)
	}
	if out := ep.OutputAddr(); out == nil || !out.IP.Equal(net.IPv4(10, 0, 0, 31)) {
		t.Errorf("output = %v", out)
	}

	d.cleanup(time.Now().Add(2 * time.Minute))
	if n := len(d.GetAllNodes()); n != 0 {
		t.Errorf("nodes after expiry = %d, want 0", n)
	}
}

func TestDiscoveryPollTargets(t *testing.T) {
	ep, _ := newTestEndpoint()
	conn := transporttest.New("10.0.0.10:6454")
	target := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 99), Port: Port}

	NewDiscovery(conn, ep, time.Second, target).sendPolls()
	NewDiscovery(conn, ep, time.Second).sendPolls()

	sent := conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d polls, want 2", len(sent))
	}
	if !sent[0].Addr.IP.Equal(target.IP) || !sent[1].Addr.IP.Equal(net.IPv4(10, 255, 255, 255)) {
		t.Errorf("poll destinations = %s, %s", sent[0].Addr, sent[1].Addr)
	}
	if len(sent[0].Data) != PollSize || ParseOpCode(sent[0].Data) != OpPoll {
		t.Errorf("bad poll packet % x", sent[0].Data)
	}
}
