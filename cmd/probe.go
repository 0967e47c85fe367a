package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/config"
	"github.com/gopatchy/lxnet/mdns"
	"github.com/gopatchy/lxnet/osc"
	"github.com/gopatchy/lxnet/ssdp"
	"github.com/gopatchy/lxnet/transport"
	"github.com/spf13/cobra"
)

var probeWait time.Duration

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Broadcast ArtPoll and list the nodes that reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		localIP, broadcast, err := localAddrs(cfg)
		if err != nil {
			return err
		}
		conn, err := transport.ListenUDP(&net.UDPAddr{IP: net.IPv4zero, Port: artnet.Port}, receiveTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		u, err := config.ParseArtNetUniverse(cfg.ArtNet.Universe)
		if err != nil {
			return err
		}
		ep := artnet.NewEndpoint(u, localIP, broadcast)
		ep.SetNames(cfg.ArtNet.ShortName, cfg.ArtNet.LongName)

		d := artnet.NewDiscovery(conn, ep, probeWait, pollTargets(cfg.ArtNet.PollTargets)...)
		ep.SetPollReplyListener(d)

		r := artnet.NewReceiver(conn, nil, ep)
		r.Start()
		d.Start()
		time.Sleep(probeWait)
		d.Stop()
		r.Stop()

		printNodes(cmd.OutOrStdout(), d.GetAllNodes())
		return nil
	},
}

func printNodes(w io.Writer, nodes []*artnet.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].IP.String() < nodes[j].IP.String() })
	for _, n := range nodes {
		fmt.Fprintf(w, "%-15s %-18s output=%-5v universes=%v %s\n", n.IP, n.ShortName, n.CanOutput, n.Universes, n.LongName)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(w, "no nodes")
	}
}

var mdnsType uint16

var mdnsCmd = &cobra.Command{
	Use:   "mdns <name>",
	Short: "Query a name over multicast DNS and print the answers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := transport.ListenMulticast(mdns.Port, []net.IP{mdns.Group.IP}, cfg.MDNS.Interface, receiveTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), probeWait)
		defer cancel()

		d := mdns.NewDiscoverer(conn, args[0], mdnsType, recordPrinter{w: cmd.OutOrStdout()})
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// recordPrinter is an mdns.Delegate that prints answers
type recordPrinter struct {
	w io.Writer
}

func (recordPrinter) QueryRecord(*mdns.Record) {}

func (p recordPrinter) AnswerRecord(r *mdns.Record) {
	var value string
	switch r.Type {
	case mdns.TypePTR:
		value, _ = r.PTRName()
	case mdns.TypeA:
		if ip, err := r.A(); err == nil {
			value = ip.String()
		}
	case mdns.TypeSRV:
		if srv, err := r.SRV(); err == nil {
			value = fmt.Sprintf("%s:%d", srv.Target, srv.Port)
		}
	case mdns.TypeTXT:
		txt, _ := r.TXT()
		value = fmt.Sprint(txt)
	default:
		value = fmt.Sprintf("%d bytes", len(r.Data))
	}
	fmt.Fprintf(p.w, "%s type=%d ttl=%d %s (from %s)\n", r.Name, r.Type, r.TTL, value, r.Sender)
}

var ssdpCmd = &cobra.Command{
	Use:   "ssdp [server-substring]",
	Short: "Search for a UPnP device and print its URL base",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := cfg.SSDP.Target
		if len(args) == 1 {
			target = args[0]
		}

		conn, err := transport.ListenMulticast(ssdp.Port, []net.IP{ssdp.Group.IP}, "", receiveTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), probeWait)
		defer cancel()

		d := ssdp.NewDiscoverer(conn, target, func(base string) {
			fmt.Fprintln(cmd.OutOrStdout(), base)
		})
		if err := d.Run(ctx); err != nil {
			return fmt.Errorf("%s not found: %w", target, err)
		}
		return nil
	},
}

var oscCmd = &cobra.Command{
	Use:   "osc <host:port> <address> [args...]",
	Short: "Send one OSC message and print any replies",
	Long: `Arguments are sent as int32 when they parse as integers, float32 when they
parse as numbers, booleans for true and false, and strings otherwise.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dst, err := net.ResolveUDPAddr("udp4", args[0])
		if err != nil {
			return err
		}
		conn, err := transport.ListenUDP(&net.UDPAddr{IP: net.IPv4zero}, 100*time.Millisecond)
		if err != nil {
			return err
		}
		defer conn.Close()

		msg := osc.NewMessage(args[1])
		for _, a := range args[2:] {
			msg.Append(parseOSCArg(a))
		}

		ep := osc.NewEndpoint(conn, dst)
		if err := ep.Send(msg); err != nil {
			return err
		}

		deadline := time.Now().Add(probeWait)
		for time.Now().Before(deadline) {
			msgs, src, err := ep.ReadPacket()
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", src, m, m.TypeTags())
			}
		}
		return nil
	},
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List the devices usable as artnet.capture_interface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := transport.CaptureInterfaces()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func parseOSCArg(s string) osc.Argument {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return osc.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return osc.Float(f)
	}
	switch s {
	case "true":
		return osc.Bool(true)
	case "false":
		return osc.Bool(false)
	}
	return osc.String(s)
}

func init() {
	for _, c := range []*cobra.Command{pollCmd, mdnsCmd, ssdpCmd, oscCmd} {
		c.Flags().DurationVarP(&probeWait, "wait", "w", 3*time.Second, "how long to listen")
		rootCmd.AddCommand(c)
	}
	mdnsCmd.Flags().Uint16VarP(&mdnsType, "type", "t", mdns.TypePTR, "query type")
	rootCmd.AddCommand(interfacesCmd)
}
