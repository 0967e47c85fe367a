package cmd

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"

	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/config"
	"github.com/gopatchy/lxnet/dmx"
	"github.com/gopatchy/lxnet/mqttpub"
	"github.com/gopatchy/lxnet/osc"
	"github.com/gopatchy/lxnet/remap"
	"github.com/gopatchy/lxnet/sacn"
	"github.com/gopatchy/lxnet/senders"
	"github.com/gopatchy/lxnet/transport"
)

// bridge moves merged input universes through the remap engine to the
// output endpoints.
type bridge struct {
	cfg     *config.Config
	engine  *remap.Engine
	senders *senders.UniverseSenders
	localIP net.IP

	artConn  transport.Conn
	sacnConn transport.Conn

	primary    *artnet.Endpoint
	artInputs  []*artnet.Endpoint
	sacnInputs []*sacn.Endpoint
	outputs    map[config.Universe]dmx.Endpoint
	direct     dmx.Endpoint // target of OSC and MQTT writes

	discovery *artnet.Discovery
	announcer *sacn.Announcer
	mqtt      *mqttpub.Publisher

	sendMu sync.Mutex
}

type bridgeOptions struct {
	localIP   net.IP
	broadcast *net.UDPAddr
	cid       sacn.CID
}

// newBridge creates endpoints for every universe named by cfg. artConn or
// sacnConn may be nil when that protocol is disabled.
func newBridge(cfg *config.Config, artConn, sacnConn transport.Conn, opts bridgeOptions) (*bridge, error) {
	b := &bridge{
		cfg:      cfg,
		engine:   remap.NewEngine(cfg.Normalize()),
		senders:  senders.New(),
		localIP:  opts.localIP,
		artConn:  artConn,
		sacnConn: sacnConn,
		outputs:  map[config.Universe]dmx.Endpoint{},
	}

	if artConn != nil {
		u, err := config.ParseArtNetUniverse(cfg.ArtNet.Universe)
		if err != nil {
			return nil, err
		}
		b.primary = b.newArtNet(u, opts)
		b.artInputs = append(b.artInputs, b.primary)
	}

	inputs, outputs := cfg.Universes()
	for _, u := range inputs {
		if err := b.checkEnabled(u); err != nil {
			return nil, err
		}
		switch u.Protocol {
		case config.ProtocolArtNet:
			if b.primary.Universe() == u.ArtNet() {
				continue
			}
			b.artInputs = append(b.artInputs, b.newArtNet(u.ArtNet(), opts))
		case config.ProtocolSACN:
			b.sacnInputs = append(b.sacnInputs, sacn.NewEndpoint(u.Number, opts.cid))
		}
	}

	for _, u := range outputs {
		if err := b.addOutput(u, opts); err != nil {
			return nil, err
		}
	}

	if cfg.OSC.Enabled || cfg.MQTT.Enabled {
		u, err := config.ParseUniverse(cfg.OSC.Universe)
		if err != nil {
			return nil, err
		}
		if err := b.addOutput(u, opts); err != nil {
			return nil, err
		}
		b.direct = b.outputs[u]
	}

	if artConn != nil {
		b.discovery = artnet.NewDiscovery(artConn, b.primary, cfg.ArtNet.PollInterval, pollTargets(cfg.ArtNet.PollTargets)...)
		b.primary.SetPollReplyListener(b.discovery)
	}

	if sacnConn != nil && cfg.SACN.Discovery {
		b.announcer = sacn.NewAnnouncer(sacnConn, cfg.SACN.SourceName, opts.cid)
		for u, ep := range b.outputs {
			if u.Protocol == config.ProtocolSACN {
				b.announcer.RegisterUniverse(ep.(*sacn.Endpoint).Universe())
			}
		}
	}

	return b, nil
}

func (b *bridge) checkEnabled(u config.Universe) error {
	switch {
	case u.Protocol == config.ProtocolArtNet && b.artConn == nil:
		return fmt.Errorf("%s used but artnet is disabled", u)
	case u.Protocol == config.ProtocolSACN && b.sacnConn == nil:
		return fmt.Errorf("%s used but sacn is disabled", u)
	}
	return nil
}

func (b *bridge) newArtNet(u artnet.Universe, opts bridgeOptions) *artnet.Endpoint {
	ep := artnet.NewEndpoint(u, opts.localIP, opts.broadcast)
	ep.SetNames(b.cfg.ArtNet.ShortName, b.cfg.ArtNet.LongName)
	return ep
}

func (b *bridge) addOutput(u config.Universe, opts bridgeOptions) error {
	if _, ok := b.outputs[u]; ok {
		return nil
	}
	if err := b.checkEnabled(u); err != nil {
		return err
	}

	switch u.Protocol {
	case config.ProtocolArtNet:
		b.outputs[u] = b.newArtNet(u.ArtNet(), opts)
	case config.ProtocolSACN:
		ep := sacn.NewEndpoint(u.Number, opts.cid)
		ep.SetPriority(uint8(b.cfg.SACN.Priority))
		ep.SetSourceName(b.cfg.SACN.SourceName)
		b.outputs[u] = ep
	}
	return nil
}

func pollTargets(targets []string) []*net.UDPAddr {
	var addrs []*net.UDPAddr
	for _, t := range targets {
		ip := net.ParseIP(t)
		if ip == nil {
			log.Warnf("ignoring poll target %q", t)
			continue
		}
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: artnet.Port})
	}
	return addrs
}

// announce broadcasts an unsolicited ArtPollReply for the primary port
func (b *bridge) announce(broadcast *net.UDPAddr) {
	if b.primary == nil || broadcast == nil {
		return
	}
	if err := b.primary.SendPollReply(b.artConn, broadcast); err != nil {
		log.Warnf("pollreply announce error: %v", err)
	}
}

// HandleDMX implements artnet.PacketHandler
func (b *bridge) HandleDMX(src *net.UDPAddr, ep *artnet.Endpoint) {
	u := config.Universe{Protocol: config.ProtocolArtNet, Number: uint16(ep.Universe())}
	log.Debugf("recv dmx src=%s universe=%s", src.IP, u)
	b.input(u, src.IP, ep.Levels())
}

// HandlePoll implements artnet.PacketHandler
func (b *bridge) HandlePoll(src *net.UDPAddr, ep *artnet.Endpoint) {
	log.Debugf("recv poll src=%s universe=%s", src.IP, ep.Universe())
}

// HandleAddress implements artnet.PacketHandler
func (b *bridge) HandleAddress(src *net.UDPAddr, ep *artnet.Endpoint) {
	log.Infof("address command src=%s universe=%s", src.IP, ep.Universe())
}

func (b *bridge) handleSACN(src *net.UDPAddr, ep *sacn.Endpoint) {
	u := config.Universe{Protocol: config.ProtocolSACN, Number: ep.Universe()}
	log.Debugf("recv sacn src=%s universe=%s", src.IP, u)
	b.input(u, src.IP, ep.Levels())
}

func (b *bridge) input(u config.Universe, src net.IP, levels []byte) {
	var frame [512]byte
	copy(frame[:], levels)

	b.senders.Record(u, src)
	if b.mqtt != nil {
		if err := b.mqtt.PublishLevels(u, frame); err != nil {
			log.Debugf("mqtt levels %s: %v", u, err)
		}
	}

	b.engine.Remap(u, frame)
	b.flush()
}

// flush copies dirty remap outputs into their endpoints and sends them
func (b *bridge) flush() {
	for _, out := range b.engine.GetDirtyOutputs() {
		ep, ok := b.outputs[out.Universe]
		if !ok {
			continue
		}
		for i, v := range out.Data {
			ep.SetSlot(i+1, v)
		}
		b.send(ep)
	}
}

// refresh resends every output so that receivers do not time out
func (b *bridge) refresh() {
	for _, ep := range b.outputs {
		b.send(ep)
	}
}

func (b *bridge) send(ep dmx.Endpoint) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	switch e := ep.(type) {
	case *artnet.Endpoint:
		b.sendArtNet(e)
	case *sacn.Endpoint:
		if err := e.SendDMX(b.sacnConn); err != nil {
			log.Debugf("sacn send universe=%d: %v", e.Universe(), err)
		}
	}
}

// sendArtNet unicasts to every discovered node carrying the universe, and
// broadcasts when there are none.
func (b *bridge) sendArtNet(ep *artnet.Endpoint) {
	var nodes []*artnet.Node
	if b.discovery != nil {
		for _, n := range b.discovery.GetNodesForUniverse(ep.Universe()) {
			if !n.IP.Equal(b.localIP) {
				nodes = append(nodes, n)
			}
		}
	}
	if len(nodes) == 0 {
		if err := ep.SendDMX(b.artConn); err != nil {
			log.Debugf("artnet send universe=%s: %v", ep.Universe(), err)
		}
		return
	}

	pkt := ep.DMXPacket()
	for _, n := range nodes {
		dst := &net.UDPAddr{IP: n.IP, Port: artnet.Port}
		if err := b.artConn.Send(pkt, dst); err != nil {
			log.Warnf("artnet send dst=%s: %v", dst, err)
		}
	}
}

// setDirect applies channel writes from MQTT to the direct output
func (b *bridge) setDirect(u config.Universe, cmds []mqttpub.Command) {
	ep, ok := b.outputs[u]
	if !ok {
		log.Warnf("mqtt set for unknown output %s", u)
		return
	}
	for _, c := range cmds {
		ep.SetSlot(int(c.Channel)+1, c.Value)
	}
	b.send(ep)
}

// oscRouter routes /dmx/<slot> level writes and /dmx/send to the direct
// output.
func (b *bridge) oscRouter(reply *osc.Endpoint) *osc.Router {
	r := osc.NewRouter()

	r.HandlePrefix("/dmx/*", func(m *osc.Message, src *net.UDPAddr) {
		if b.direct == nil || len(m.Address) != 2 {
			return
		}
		slot, err := strconv.Atoi(m.Address[1])
		if err != nil || slot < 1 || slot > b.direct.NumberOfSlots() {
			return
		}
		level, ok := oscLevel(m)
		if !ok {
			return
		}
		b.direct.SetSlot(slot, level)
	})

	r.Handle("/dmx/send", func(m *osc.Message, src *net.UDPAddr) {
		if b.direct == nil {
			return
		}
		b.send(b.direct)
		if reply != nil && b.cfg.OSC.ReplyPort > 0 {
			dst := &net.UDPAddr{IP: src.IP, Port: b.cfg.OSC.ReplyPort}
			ack := osc.NewMessage("/dmx/sent", osc.Int(b.direct.NumberOfSlots()))
			if err := reply.SendTo(ack, dst); err != nil {
				log.Warnf("osc reply %s: %v", dst, err)
			}
		}
	})

	return r
}

// oscLevel reads a float 0-1 or an int 0-255 from the first argument
func oscLevel(m *osc.Message) (uint8, bool) {
	switch m.TypeAt(0) {
	case 'f', 'd':
		v := math.Round(min(max(m.DoubleAt(0), 0), 1) * 255)
		return uint8(v), true
	case 'i':
		return uint8(min(max(m.IntAt(0), 0), 255)), true
	}
	return 0, false
}

// publishStatus expires old senders and mirrors the node and sender tables
// to MQTT.
func (b *bridge) publishStatus() {
	if n := b.senders.Expire(senderExpiry); n > 0 {
		log.Debugf("expired %d senders", n)
	}
	if b.mqtt == nil {
		return
	}
	if b.discovery != nil {
		for _, n := range b.discovery.GetAllNodes() {
			if err := b.mqtt.PublishNode(n); err != nil {
				log.Debugf("mqtt node %s: %v", n.IP, err)
			}
		}
	}
	if err := b.mqtt.PublishSenders(b.senders.GetAll()); err != nil {
		log.Debugf("mqtt senders: %v", err)
	}
}
