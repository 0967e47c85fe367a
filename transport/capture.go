package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/gopatchy/lxnet/wire"
)

// Capture is a receive only Conn fed by packet capture. It sees traffic for
// a UDP port without binding it, which needs root or admin privileges.
type Capture struct {
	handle  *pcap.Handle
	packets chan gopacket.Packet
	timeout time.Duration
	done    chan struct{}
}

func OpenCapture(iface string, port int, timeout time.Duration) (*Capture, error) {
	handle, err := pcap.OpenLive(iface, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("pcap open: %w", err)
	}

	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", port)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("pcap filter: %w", err)
	}

	return &Capture{
		handle:  handle,
		packets: gopacket.NewPacketSource(handle, handle.LinkType()).Packets(),
		timeout: timeout,
		done:    make(chan struct{}),
	}, nil
}

func (c *Capture) Receive(buf []byte) (int, *net.UDPAddr, error) {
	var timer <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		select {
		case <-c.done:
			return 0, nil, ErrClosed
		case <-timer:
			return 0, nil, ErrTimeout
		case packet, ok := <-c.packets:
			if !ok {
				return 0, nil, ErrClosed
			}
			payload, src := udpPayload(packet)
			if src == nil {
				continue
			}
			n, err := copyPayload(buf, payload)
			return n, src, err
		}
	}
}

// copyPayload copies a captured payload into buf. A payload that does not fit
// is reported instead of being cut short.
func copyPayload(buf, payload []byte) (int, error) {
	if len(payload) > len(buf) {
		return 0, fmt.Errorf("captured payload of %d bytes into %d: %w", len(payload), len(buf), wire.ErrTruncated)
	}
	return copy(buf, payload), nil
}

func udpPayload(packet gopacket.Packet) ([]byte, *net.UDPAddr) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, nil
	}
	udp, _ := udpLayer.(*layers.UDP)
	if udp == nil {
		return nil, nil
	}

	src := &net.UDPAddr{IP: net.IPv4zero, Port: int(udp.SrcPort)}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		if ip, _ := ipLayer.(*layers.IPv4); ip != nil {
			src.IP = ip.SrcIP.To4()
		}
	}
	return udp.Payload, src
}

func (c *Capture) Send([]byte, *net.UDPAddr) error {
	return ErrReadOnly
}

func (c *Capture) LocalAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4zero}
}

func (c *Capture) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
		c.handle.Close()
	}
	return nil
}

// CaptureInterfaces lists the devices available for packet capture.
func CaptureInterfaces() ([]string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, dev := range devices {
		names = append(names, dev.Name)
	}
	return names, nil
}

// DefaultCaptureInterface picks the first capture device with an address
// that is not loopback.
func DefaultCaptureInterface() string {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "en0"
	}

	for _, dev := range devices {
		if len(dev.Addresses) > 0 && dev.Name != "lo0" && dev.Name != "lo" {
			log.Infof("pcap using interface: %s", dev.Name)
			return dev.Name
		}
	}

	if len(devices) > 0 {
		return devices[0].Name
	}
	return "en0"
}
