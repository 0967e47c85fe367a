package artnet

import (
	"net"
	"slices"
	"sync"
	"time"

	"github.com/gopatchy/lxnet/transport"
)

// Node represents a discovered ArtNet node
type Node struct {
	IP        net.IP
	ShortName string
	LongName  string
	Universes []Universe
	LastSeen  time.Time
	CanOutput bool
}

// Discovery polls for ArtNet nodes and keeps a table of the replies. It is a
// PollReplyListener; set Match to let it pick an endpoint's output node.
type Discovery struct {
	conn        transport.Conn
	ep          *Endpoint
	nodes       map[string]*Node // keyed by IP string
	nodesMu     sync.RWMutex
	pollTargets []*net.UDPAddr
	interval    time.Duration
	expiry      time.Duration
	done        chan struct{}

	// Match reports whether a replying node should become the output node.
	Match func(info PollReplyInfo) bool
}

// NewDiscovery creates a discovery handler that polls through ep. With no
// poll targets it polls the endpoint's broadcast address.
func NewDiscovery(conn transport.Conn, ep *Endpoint, interval time.Duration, pollTargets ...*net.UDPAddr) *Discovery {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Discovery{
		conn:        conn,
		ep:          ep,
		nodes:       make(map[string]*Node),
		pollTargets: pollTargets,
		interval:    interval,
		expiry:      60 * time.Second,
		done:        make(chan struct{}),
	}
}

// Start begins periodic discovery
func (d *Discovery) Start() {
	go d.pollLoop()
}

// Stop stops discovery
func (d *Discovery) Stop() {
	close(d.done)
}

func (d *Discovery) pollLoop() {
	d.sendPolls()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(d.expiry / 2)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.sendPolls()
		case <-cleanupTicker.C:
			d.cleanup(time.Now())
		}
	}
}

func (d *Discovery) sendPolls() {
	if len(d.pollTargets) == 0 {
		if err := d.ep.SendPoll(d.conn, nil); err != nil {
			log.Warnf("poll error: err=%v", err)
		}
		return
	}
	for _, target := range d.pollTargets {
		if err := d.ep.SendPoll(d.conn, target); err != nil {
			log.Warnf("poll error: dst=%s err=%v", target.IP, err)
		}
	}
}

func (d *Discovery) cleanup(now time.Time) {
	d.nodesMu.Lock()
	defer d.nodesMu.Unlock()

	cutoff := now.Add(-d.expiry)
	for ip, node := range d.nodes {
		if node.LastSeen.Before(cutoff) {
			log.Infof("node timeout ip=%s name=%s", ip, node.ShortName)
			delete(d.nodes, ip)
		}
	}
}

// PollReply records a node and implements PollReplyListener
func (d *Discovery) PollReply(info PollReplyInfo) bool {
	d.record(info, time.Now())
	return d.Match != nil && d.Match(info)
}

func (d *Discovery) record(info PollReplyInfo, now time.Time) {
	d.nodesMu.Lock()
	defer d.nodesMu.Unlock()

	ip := info.IP.String()

	node, exists := d.nodes[ip]
	if !exists {
		node = &Node{IP: info.IP}
		d.nodes[ip] = node
	}

	node.ShortName = info.ShortName
	node.LongName = info.LongName
	node.LastSeen = now
	node.CanOutput = info.CanOutput

	// Multi-port devices send one reply per group of four ports
	prevLen := len(node.Universes)
	for _, u := range info.Universes {
		if !slices.Contains(node.Universes, u) {
			node.Universes = append(node.Universes, u)
		}
	}

	if !exists {
		log.Infof("discovered ip=%s name=%s universes=%v", ip, info.ShortName, node.Universes)
	} else if len(node.Universes) != prevLen {
		log.Infof("updated ip=%s name=%s universes=%v", ip, info.ShortName, node.Universes)
	}
}

// GetNodesForUniverse returns nodes that support a given universe
func (d *Discovery) GetNodesForUniverse(universe Universe) []*Node {
	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()

	var result []*Node
	for _, node := range d.nodes {
		if slices.Contains(node.Universes, universe) {
			result = append(result, node)
		}
	}
	return result
}

// GetAllNodes returns all discovered nodes
func (d *Discovery) GetAllNodes() []*Node {
	d.nodesMu.RLock()
	defer d.nodesMu.RUnlock()

	result := make([]*Node, 0, len(d.nodes))
	for _, node := range d.nodes {
		result = append(result, node)
	}
	return result
}
