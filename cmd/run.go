package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/config"
	"github.com/gopatchy/lxnet/mdns"
	"github.com/gopatchy/lxnet/mqttpub"
	"github.com/gopatchy/lxnet/osc"
	"github.com/gopatchy/lxnet/sacn"
	"github.com/gopatchy/lxnet/ssdp"
	"github.com/gopatchy/lxnet/transport"
	"github.com/spf13/cobra"
)

const (
	receiveTimeout  = time.Second
	refreshInterval = time.Second
	statusInterval  = 10 * time.Second
	senderExpiry    = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// parseListenAddr parses listen address formats:
// - "host:port" -> bind to specific host and port
// - "host" -> bind to specific host, default port
// - ":port" -> bind to all interfaces, specific port
func parseListenAddr(s string, defaultPort int) (*net.UDPAddr, error) {
	host, port := s, defaultPort

	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return nil, err
		}
		host = h
		if p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return nil, err
			}
		}
	}

	ip := net.IPv4zero
	if host != "" {
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address: %s", host)
		}
	}

	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// localAddrs returns the address poll replies advertise and the Art-Net
// broadcast address, preferring the named interface.
func localAddrs(c *config.Config) (net.IP, *net.UDPAddr, error) {
	ip := transport.LocalIPv4()
	bcast := net.ParseIP(c.ArtNet.Broadcast)

	if c.ArtNet.Interface != "" {
		ifIP, ifBcast, err := transport.InterfaceIPv4(c.ArtNet.Interface)
		if err != nil {
			return nil, nil, err
		}
		ip = ifIP
		if c.ArtNet.Broadcast == "" {
			bcast = ifBcast
		}
	}

	if bcast == nil {
		return ip, nil, nil
	}
	return ip, &net.UDPAddr{IP: bcast, Port: artnet.Port}, nil
}

func runDaemon(ctx context.Context, c *config.Config) error {
	localIP, broadcast, err := localAddrs(c)
	if err != nil {
		return err
	}

	var artConn, sacnConn *transport.UDP
	if c.ArtNet.Enabled {
		addr, err := parseListenAddr(c.ArtNet.Listen, artnet.Port)
		if err != nil {
			return fmt.Errorf("artnet listen: %w", err)
		}
		artConn, err = transport.ListenUDP(addr, receiveTimeout)
		if err != nil {
			return err
		}
		defer artConn.Close()
		log.Infof("artnet listening on %s, broadcast %v", addr, broadcast)
	}

	if c.SACN.Enabled {
		sacnConn, err = transport.ListenMulticast(sacn.Port, nil, c.SACN.Interface, receiveTimeout)
		if err != nil {
			return err
		}
		defer sacnConn.Close()
	}

	cid := sacn.NewCID()
	b, err := newBridge(c, connOrNil(artConn), connOrNil(sacnConn), bridgeOptions{
		localIP:   localIP,
		broadcast: broadcast,
		cid:       cid,
	})
	if err != nil {
		return err
	}

	for _, m := range c.Mappings {
		toEnd := m.To.ChannelStart + m.From.Count() - 1
		log.Infof("mapping %s -> %s-%d", m.From, m.To, toEnd)
	}

	if artConn != nil {
		var recvConn transport.Conn = artConn
		if c.ArtNet.CaptureInterface != "" {
			iface := captureInterface(c.ArtNet.CaptureInterface)
			capture, err := transport.OpenCapture(iface, artnet.Port, receiveTimeout)
			if err != nil {
				return err
			}
			defer capture.Close()
			recvConn = capture
			log.Infof("artnet capturing on %s", iface)
		}

		receiver := artnet.NewReceiver(recvConn, b, b.artInputs...)
		receiver.Start()
		defer receiver.Stop()
		b.announce(broadcast)

		b.discovery.Start()
		defer b.discovery.Stop()
	}

	if sacnConn != nil {
		receiver := sacn.NewReceiver(sacnConn, b.handleSACN, b.sacnInputs...)
		receiver.OnDiscovery = func(src *net.UDPAddr, pkt *sacn.DiscoveryPacket) {
			log.Debugf("sacn discovery src=%s name=%q universes=%v", src.IP, pkt.SourceName, pkt.Universes)
		}
		for _, g := range append(receiver.Groups(), sacn.DiscoveryAddr.IP) {
			if err := sacnConn.JoinGroup(g); err != nil {
				return err
			}
		}
		receiver.Start()
		defer receiver.Stop()
		log.Infof("sacn cid=%s universes=%d", cid, len(b.sacnInputs))

		if b.announcer != nil {
			b.announcer.Start()
			defer b.announcer.Stop()
		}
	}

	if c.MQTT.Enabled {
		b.mqtt = mqttpub.New(c.MQTT, b.setDirect)
		if err := b.mqtt.Start(ctx); err != nil {
			return err
		}
		defer b.mqtt.Stop()
	}

	errs := make(chan error, 3)

	if c.OSC.Enabled {
		addr, err := parseListenAddr(c.OSC.Listen, 53000)
		if err != nil {
			return fmt.Errorf("osc listen: %w", err)
		}
		oscConn, err := transport.ListenUDP(addr, receiveTimeout)
		if err != nil {
			return err
		}
		defer oscConn.Close()

		ep := osc.NewEndpoint(oscConn, nil)
		go func() { errs <- ep.Serve(ctx, b.oscRouter(ep)) }()
		log.Infof("osc listening on %s", addr)
	}

	if c.MDNS.Enabled {
		mconn, err := transport.ListenMulticast(mdns.Port, []net.IP{mdns.Group.IP}, c.MDNS.Interface, receiveTimeout)
		if err != nil {
			return err
		}
		defer mconn.Close()

		d := mdns.NewDiscoverer(mconn, c.MDNS.Target, uint16(c.MDNS.Type), recordLogger{})
		go func() { errs <- d.Run(ctx) }()
	}

	if c.SSDP.Enabled {
		sconn, err := transport.ListenMulticast(ssdp.Port, []net.IP{ssdp.Group.IP}, "", receiveTimeout)
		if err != nil {
			return err
		}
		defer sconn.Close()

		d := ssdp.NewDiscoverer(sconn, c.SSDP.Target, func(base string) {
			log.Infof("ssdp %s url base %s", c.SSDP.Target, base)
		})
		go func() { errs <- d.Run(ctx) }()
	}

	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case err := <-errs:
			if err != nil && ctx.Err() == nil {
				log.Warnf("discovery stopped: %v", err)
			}
		case <-refresh.C:
			b.refresh()
		case <-status.C:
			b.publishStatus()
		}
	}
}

// captureInterface resolves "auto" to the first capture device with an
// address.
func captureInterface(name string) string {
	if name == "auto" {
		return transport.DefaultCaptureInterface()
	}
	return name
}

// connOrNil keeps a nil *transport.UDP from becoming a non-nil Conn
func connOrNil(u *transport.UDP) transport.Conn {
	if u == nil {
		return nil
	}
	return u
}

// recordLogger is an mdns.Delegate that logs what it hears
type recordLogger struct{}

func (recordLogger) QueryRecord(r *mdns.Record) {
	log.Debugf("mdns query %s type=%d from %s", r.Name, r.Type, r.Sender)
}

func (recordLogger) AnswerRecord(r *mdns.Record) {
	switch r.Type {
	case mdns.TypePTR:
		name, _ := r.PTRName()
		log.Infof("mdns %s -> %s from %s", r.Name, name, r.Sender)
	case mdns.TypeA:
		ip, _ := r.A()
		log.Infof("mdns %s A %s", r.Name, ip)
	case mdns.TypeSRV:
		srv, _ := r.SRV()
		log.Infof("mdns %s SRV %s:%d", r.Name, srv.Target, srv.Port)
	case mdns.TypeTXT:
		txt, _ := r.TXT()
		log.Infof("mdns %s TXT %v", r.Name, txt)
	default:
		log.Debugf("mdns %s type=%d ttl=%d", r.Name, r.Type, r.TTL)
	}
}
