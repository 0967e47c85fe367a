package mdns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gopatchy/lxnet/transport"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "mdns")

const (
	Port = 5353

	SearchInterval = 5 * time.Second
	idleWait       = time.Second
	maxPacketSize  = 9000
)

var Group = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: Port}

// Discoverer repeats a query for one name and walks every packet it hears
type Discoverer struct {
	conn     transport.Conn
	target   string
	qtype    uint16
	delegate Delegate
	dest     *net.UDPAddr

	searching atomic.Bool
	packetID  int
	lastQuery time.Time
	idle      time.Duration
}

// NewDiscoverer queries for target on conn, which must already be a member
// of Group.
func NewDiscoverer(conn transport.Conn, target string, qtype uint16, delegate Delegate) *Discoverer {
	d := &Discoverer{
		conn:     conn,
		target:   target,
		qtype:    qtype,
		delegate: delegate,
		dest:     Group,
		idle:     idleWait,
	}
	d.searching.Store(true)
	return d
}

// SetSearchMode turns the periodic query on or off. Packets are still read
// while it is off.
func (d *Discoverer) SetSearchMode(on bool) {
	d.searching.Store(on)
}

func (d *Discoverer) SendSearch() error {
	q, err := BuildQuery(d.target, d.qtype)
	if err != nil {
		return err
	}
	return d.conn.Send(q, d.dest)
}

// ReadPacket performs one receive and walks the packet. It reports whether
// an mDNS packet was handled.
func (d *Discoverer) ReadPacket() (bool, error) {
	buf := make([]byte, maxPacketSize)
	n, src, err := d.conn.Receive(buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return false, nil
		}
		return false, err
	}

	if _, err := ParseHeader(buf[:n]); err != nil {
		log.Debugf("drop packet from %s: %v", src, err)
		return false, nil
	}

	d.packetID++
	if err := Walk(buf[:n], src, d.packetID, d.delegate); err != nil {
		log.Debugf("packet from %s: %v", src, err)
	}
	return true, nil
}

// step sends a query when one is due and reads one packet
func (d *Discoverer) step(now time.Time) (bool, error) {
	if d.searching.Load() && now.Sub(d.lastQuery) >= SearchInterval {
		if err := d.SendSearch(); err != nil {
			log.Warnf("search send error: %v", err)
		}
		d.lastQuery = now
	}
	return d.ReadPacket()
}

// Run queries and reads until ctx is done or the connection closes.
func (d *Discoverer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		ok, err := d.step(start)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			log.Warnf("read error: %v", err)
		}
		if ok {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(d.idle, time.Since(start))):
		}
	}
}

// backoff is what remains of idle after a receive that took elapsed. A
// receive that blocked for its timeout needs no extra wait.
func backoff(idle, elapsed time.Duration) time.Duration {
	return max(idle-elapsed, 0)
}
