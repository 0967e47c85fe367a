package sacn

import (
	"net"
	"slices"
	"sync"
	"time"

	"github.com/gopatchy/lxnet/transport"
)

const (
	DiscoveryInterval  = 10 * time.Second
	maxSourceNameBytes = 63
)

// Announcer periodically advertises the universes a source sends on
type Announcer struct {
	conn       transport.Conn
	sourceName string
	cid        CID
	dest       *net.UDPAddr
	universes  map[uint16]bool
	mu         sync.Mutex
	done       chan struct{}
}

func NewAnnouncer(conn transport.Conn, sourceName string, cid CID) *Announcer {
	if len(sourceName) > maxSourceNameBytes {
		sourceName = sourceName[:maxSourceNameBytes]
	}
	return &Announcer{
		conn:       conn,
		sourceName: sourceName,
		cid:        cid,
		dest:       DiscoveryAddr,
		universes:  make(map[uint16]bool),
		done:       make(chan struct{}),
	}
}

func (a *Announcer) RegisterUniverse(universe uint16) {
	a.mu.Lock()
	a.universes[universe] = true
	a.mu.Unlock()
}

func (a *Announcer) UnregisterUniverse(universe uint16) {
	a.mu.Lock()
	delete(a.universes, universe)
	a.mu.Unlock()
}

func (a *Announcer) Start() {
	go a.discoveryLoop()
}

func (a *Announcer) Stop() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *Announcer) discoveryLoop() {
	ticker := time.NewTicker(DiscoveryInterval)
	defer ticker.Stop()

	a.sendDiscovery()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.sendDiscovery()
		}
	}
}

// Pages returns the discovery packets for the registered universes in
// ascending order.
func (a *Announcer) Pages() [][]byte {
	a.mu.Lock()
	universes := make([]uint16, 0, len(a.universes))
	for u := range a.universes {
		universes = append(universes, u)
	}
	a.mu.Unlock()

	if len(universes) == 0 {
		return nil
	}

	slices.Sort(universes)

	totalPages := (len(universes) + MaxUniversesPerPage - 1) / MaxUniversesPerPage
	pages := make([][]byte, 0, totalPages)

	for page := 0; page < totalPages; page++ {
		start := page * MaxUniversesPerPage
		end := min(start+MaxUniversesPerPage, len(universes))
		pages = append(pages, BuildDiscoveryPacket(a.sourceName, a.cid, uint8(page), uint8(totalPages-1), universes[start:end]))
	}
	return pages
}

func (a *Announcer) sendDiscovery() {
	for _, pkt := range a.Pages() {
		if err := a.conn.Send(pkt, a.dest); err != nil {
			log.Warnf("discovery send error: %v", err)
			return
		}
	}
}
