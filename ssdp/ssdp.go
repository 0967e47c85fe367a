// Package ssdp searches for a UPnP device by server string and reports the
// URLBase from its device description.
package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gopatchy/lxnet/transport"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "ssdp")

const (
	Port                = 1900
	SearchInterval      = 5 * time.Second
	DefaultSearchTarget = "urn:schemas-upnp-org:device:basic:1"

	maxPacketSize = 2048
	idleWait      = time.Second
)

var (
	Group = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: Port}

	ErrNoURLBase = errors.New("ssdp: device description has no URLBase")
)

// BuildSearch returns an M-SEARCH request for the search target st
func BuildSearch(st string) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: " + st + "\r\n\r\n")
}

// Response holds the headers of a search response or NOTIFY that matter for
// discovery.
type Response struct {
	Notify   bool
	Location string
	Server   string
}

// ParseResponse accepts NOTIFY and 200 OK datagrams. Header names are matched
// case-insensitively.
func ParseResponse(data []byte) (*Response, bool) {
	r := &Response{}
	switch {
	case bytes.HasPrefix(data, []byte("NOTIFY * HTTP/1.1")):
		r.Notify = true
	case bytes.HasPrefix(data, []byte("HTTP/1.1 200 OK")):
	default:
		return nil, false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Scan()
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "location":
			r.Location = value
		case "server":
			r.Server = value
		}
	}
	return r, true
}

type deviceDescription struct {
	URLBase string `xml:"URLBase"`
}

// FetchURLBase downloads the device description at location and returns its
// URLBase element.
func FetchURLBase(ctx context.Context, client *http.Client, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ssdp: fetch %s: %s", location, resp.Status)
	}

	var desc deviceDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&desc); err != nil {
		return "", fmt.Errorf("ssdp: decode %s: %w", location, err)
	}
	base := strings.TrimSpace(desc.URLBase)
	if base == "" {
		return "", ErrNoURLBase
	}
	return base, nil
}

// Discoverer searches until a device whose server header contains Target
// answers with a usable description.
type Discoverer struct {
	conn   transport.Conn
	target string
	found  func(urlBase string)

	SearchTarget string
	Client       *http.Client

	dest       *net.UDPAddr
	lastSearch time.Time
	idle       time.Duration
}

func NewDiscoverer(conn transport.Conn, target string, found func(urlBase string)) *Discoverer {
	return &Discoverer{
		conn:         conn,
		target:       target,
		found:        found,
		SearchTarget: DefaultSearchTarget,
		Client:       &http.Client{Timeout: 5 * time.Second},
		dest:         Group,
		idle:         idleWait,
	}
}

func (d *Discoverer) SendSearch() error {
	return d.conn.Send(BuildSearch(d.SearchTarget), d.dest)
}

// ReadPacket performs one receive. It returns the URLBase once the target
// device has been found.
func (d *Discoverer) ReadPacket(ctx context.Context) (bool, string, error) {
	buf := make([]byte, maxPacketSize)
	n, src, err := d.conn.Receive(buf)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return false, "", nil
		}
		return false, "", err
	}

	resp, ok := ParseResponse(buf[:n])
	if !ok {
		return false, "", nil
	}
	if resp.Location == "" || !strings.Contains(resp.Server, d.target) {
		return true, "", nil
	}

	base, err := FetchURLBase(ctx, d.Client, resp.Location)
	if err != nil {
		log.Warnf("description from %s: %v", src, err)
		return true, "", nil
	}
	return true, base, nil
}

// Run searches until the device is found, ctx is done or the connection
// closes. The found callback runs once before Run returns nil.
func (d *Discoverer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		if start.Sub(d.lastSearch) >= SearchInterval {
			if err := d.SendSearch(); err != nil {
				log.Warnf("search send error: %v", err)
			}
			d.lastSearch = start
		}

		ok, base, err := d.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			log.Warnf("read error: %v", err)
		}
		if base != "" {
			log.Infof("found %s at %s", d.target, base)
			if d.found != nil {
				d.found(base)
			}
			return nil
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
