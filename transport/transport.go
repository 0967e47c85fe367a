// Package transport provides the datagram connections the protocol endpoints
// receive from and send through.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

var (
	ErrTimeout  = errors.New("receive timeout")
	ErrReadOnly = errors.New("connection is receive only")
	ErrClosed   = errors.New("connection closed")
)

var log = logrus.WithField("module", "transport")

// Conn is a datagram connection with a bounded receive.
type Conn interface {
	// Receive blocks until a datagram arrives or the connection timeout
	// passes, in which case it returns ErrTimeout.
	Receive(buf []byte) (int, *net.UDPAddr, error)
	Send(data []byte, dst *net.UDPAddr) error
	LocalAddr() *net.UDPAddr
	Close() error
}

// UDP is a Conn over a UDP socket.
type UDP struct {
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	iface   *net.Interface
	timeout time.Duration
}

// ListenUDP binds addr. A zero timeout makes Receive block indefinitely.
func ListenUDP(addr *net.UDPAddr, timeout time.Duration) (*UDP, error) {
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	if err := conn.SetWriteBuffer(65536); err != nil {
		conn.Close()
		return nil, err
	}

	return &UDP{
		conn:    conn,
		pc:      ipv4.NewPacketConn(conn),
		timeout: timeout,
	}, nil
}

// ListenMulticast binds port on all addresses and joins each group on the
// named interface, or the system default when ifaceName is empty.
func ListenMulticast(port int, groups []net.IP, ifaceName string, timeout time.Duration) (*UDP, error) {
	u, err := ListenUDP(&net.UDPAddr{IP: net.IPv4zero, Port: port}, timeout)
	if err != nil {
		return nil, err
	}

	if ifaceName != "" {
		if err := u.SetMulticastInterface(ifaceName); err != nil {
			u.Close()
			return nil, err
		}
	}

	for _, g := range groups {
		if err := u.JoinGroup(g); err != nil {
			u.Close()
			return nil, err
		}
	}

	if err := u.pc.SetMulticastLoopback(true); err != nil {
		log.Debugf("multicast loopback: %v", err)
	}

	return u, nil
}

// SetMulticastInterface selects the interface used for outbound multicast
// and for later group joins.
func (u *UDP) SetMulticastInterface(name string) error {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return fmt.Errorf("interface %s: %w", name, err)
	}
	if err := u.pc.SetMulticastInterface(iface); err != nil {
		return fmt.Errorf("multicast interface %s: %w", name, err)
	}
	u.iface = iface
	return nil
}

func (u *UDP) JoinGroup(group net.IP) error {
	if err := u.pc.JoinGroup(u.iface, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("join %s: %w", group, err)
	}
	log.Debugf("joined group=%s", group)
	return nil
}

func (u *UDP) Receive(buf []byte) (int, *net.UDPAddr, error) {
	if u.timeout > 0 {
		if err := u.conn.SetReadDeadline(time.Now().Add(u.timeout)); err != nil {
			return 0, nil, err
		}
	}

	n, src, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, nil, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, err
	}
	return n, src, nil
}

func (u *UDP) Send(data []byte, dst *net.UDPAddr) error {
	if dst == nil {
		return fmt.Errorf("send: no destination")
	}
	_, err := u.conn.WriteToUDP(data, dst)
	return err
}

func (u *UDP) LocalAddr() *net.UDPAddr {
	addr, _ := u.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (u *UDP) Close() error {
	return u.conn.Close()
}

// InterfaceIPv4 returns the first IPv4 address of the named interface and
// its directed broadcast address.
func InterfaceIPv4(name string) (ip, broadcast net.IP, err error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, nil, err
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		bcast := make(net.IP, net.IPv4len)
		for i := range bcast {
			bcast[i] = ip4[i] | ^mask[i]
		}
		return ip4, bcast, nil
	}

	return nil, nil, fmt.Errorf("interface %s has no IPv4 address", name)
}

// LocalIPv4 returns the first non loopback IPv4 address of the host.
func LocalIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4zero
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}

	return net.IPv4zero
}
