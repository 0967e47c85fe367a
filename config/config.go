package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/sacn"
	"gopkg.in/yaml.v3"
)

type Protocol string

const (
	ProtocolArtNet Protocol = "artnet"
	ProtocolSACN   Protocol = "sacn"
)

// Universe names a universe on one protocol. Art-Net numbers are 15 bit port
// addresses; sACN numbers run 1-63999.
type Universe struct {
	Protocol Protocol
	Number   uint16
}

func NewUniverse(proto Protocol, n uint16) (Universe, error) {
	switch proto {
	case ProtocolArtNet:
		if n > 0x7FFF {
			return Universe{}, fmt.Errorf("artnet universe %d out of range 0-32767", n)
		}
	case ProtocolSACN:
		if n < 1 || n > 63999 {
			return Universe{}, fmt.Errorf("sacn universe %d out of range 1-63999", n)
		}
	default:
		return Universe{}, fmt.Errorf("unknown protocol %q", proto)
	}
	return Universe{Protocol: proto, Number: n}, nil
}

func (u Universe) ArtNet() artnet.Universe {
	return artnet.Universe(u.Number)
}

func (u Universe) String() string {
	if u.Protocol == ProtocolArtNet {
		return fmt.Sprintf("%s:%s", u.Protocol, artnet.Universe(u.Number))
	}
	return fmt.Sprintf("%s:%d", u.Protocol, u.Number)
}

// ParseUniverse parses "artnet:net.subnet.universe", "artnet:N", "sacn:N" or
// a bare Art-Net universe.
func ParseUniverse(s string) (Universe, error) {
	proto, rest := splitProtocol(strings.TrimSpace(s))
	return parseUniverseNumber(rest, proto)
}

func splitProtocol(s string) (Protocol, string) {
	for _, p := range []Protocol{ProtocolArtNet, ProtocolSACN} {
		if rest, ok := strings.CutPrefix(s, string(p)+":"); ok {
			return p, rest
		}
	}
	return ProtocolArtNet, s
}

func parseUniverseNumber(s string, proto Protocol) (Universe, error) {
	if proto == ProtocolArtNet && strings.Contains(s, ".") {
		u, err := ParseArtNetUniverse(s)
		if err != nil {
			return Universe{}, err
		}
		return Universe{Protocol: ProtocolArtNet, Number: uint16(u)}, nil
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return Universe{}, fmt.Errorf("invalid universe: %q", s)
	}
	return NewUniverse(proto, uint16(n))
}

// ParseArtNetUniverse parses net.subnet.universe
func ParseArtNetUniverse(s string) (artnet.Universe, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid universe format: %s (expected net.subnet.universe)", s)
	}
	limits := [3]int{127, 15, 15}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid universe part %q: %w", p, err)
		}
		if n < 0 || n > limits[i] {
			return 0, fmt.Errorf("universe part %d out of range 0-%d", n, limits[i])
		}
		v[i] = n
	}
	return artnet.NewUniverse(uint8(v[0]), uint8(v[1]), uint8(v[2])), nil
}

// Mapping represents a single channel mapping rule
type Mapping struct {
	From FromAddr `toml:"from" yaml:"from"`
	To   ToAddr   `toml:"to" yaml:"to"`
}

// FromAddr represents a source universe address with channel range
type FromAddr struct {
	Universe     Universe
	ChannelStart int // 1-indexed
	ChannelEnd   int // 1-indexed
}

func (a *FromAddr) UnmarshalTOML(data any) error {
	s, err := scalarString(data)
	if err != nil {
		return err
	}
	return a.parse(s)
}

func (a *FromAddr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", value.Line)
	}
	return a.parse(value.Value)
}

// parse parses address formats:
// - "artnet:0.0.1" - all channels
// - "artnet:0.0.1:50" - single channel
// - "sacn:1:50-" - channel 50 through end
// - "sacn:1:50-100" - channel range
func (a *FromAddr) parse(s string) error {
	proto, rest := splitProtocol(strings.TrimSpace(s))
	universeStr, channelSpec := splitAddr(rest)

	universe, err := parseUniverseNumber(universeStr, proto)
	if err != nil {
		return err
	}
	a.Universe = universe

	if channelSpec == "" {
		a.ChannelStart = 1
		a.ChannelEnd = 512
		return nil
	}

	if err := parseChannelRange(channelSpec, &a.ChannelStart, &a.ChannelEnd); err != nil {
		return err
	}
	if a.ChannelStart > a.ChannelEnd {
		return fmt.Errorf("channel start %d > end %d", a.ChannelStart, a.ChannelEnd)
	}
	return nil
}

func (a *FromAddr) Count() int {
	return a.ChannelEnd - a.ChannelStart + 1
}

func (a FromAddr) String() string {
	switch {
	case a.ChannelStart == 1 && a.ChannelEnd == 512:
		return a.Universe.String()
	case a.ChannelStart == a.ChannelEnd:
		return fmt.Sprintf("%s:%d", a.Universe, a.ChannelStart)
	default:
		return fmt.Sprintf("%s:%d-%d", a.Universe, a.ChannelStart, a.ChannelEnd)
	}
}

// ToAddr represents a destination universe address with starting channel
type ToAddr struct {
	Universe     Universe
	ChannelStart int // 1-indexed
}

func (a *ToAddr) UnmarshalTOML(data any) error {
	s, err := scalarString(data)
	if err != nil {
		return err
	}
	return a.parse(s)
}

func (a *ToAddr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", value.Line)
	}
	return a.parse(value.Value)
}

// parse parses address formats:
// - "artnet:0.0.1" - starting at channel 1
// - "sacn:1:50" - starting at channel 50
func (a *ToAddr) parse(s string) error {
	proto, rest := splitProtocol(strings.TrimSpace(s))
	universeStr, channelSpec := splitAddr(rest)

	universe, err := parseUniverseNumber(universeStr, proto)
	if err != nil {
		return err
	}
	a.Universe = universe

	if channelSpec == "" {
		a.ChannelStart = 1
		return nil
	}

	if strings.Contains(channelSpec, "-") {
		return fmt.Errorf("to address cannot contain range; use single channel number")
	}

	ch, err := parseChannel(channelSpec)
	if err != nil {
		return err
	}
	a.ChannelStart = ch
	return nil
}

func (a ToAddr) String() string {
	if a.ChannelStart == 1 {
		return a.Universe.String()
	}
	return fmt.Sprintf("%s:%d", a.Universe, a.ChannelStart)
}

func scalarString(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("unsupported address type: %T", data)
	}
}

func splitAddr(s string) (universe, channel string) {
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func parseChannel(s string) (int, error) {
	ch, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid channel: %w", err)
	}
	if ch < 1 || ch > 512 {
		return 0, fmt.Errorf("channel %d out of range 1-512", ch)
	}
	return ch, nil
}

// parseChannelRange parses "N", "N-" and "N-M"
func parseChannelRange(s string, start, end *int) error {
	startStr, endStr, isRange := strings.Cut(s, "-")

	n, err := parseChannel(startStr)
	if err != nil {
		return fmt.Errorf("channel start: %w", err)
	}
	*start = n

	switch {
	case !isRange:
		*end = n
	case endStr == "":
		*end = 512
	default:
		m, err := parseChannel(endStr)
		if err != nil {
			return fmt.Errorf("channel end: %w", err)
		}
		*end = m
	}
	return nil
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

type ArtNetConfig struct {
	Enabled          bool          `toml:"enabled" yaml:"enabled"`
	Listen           string        `toml:"listen" yaml:"listen"`
	Broadcast        string        `toml:"broadcast" yaml:"broadcast"`
	Interface        string        `toml:"interface" yaml:"interface"`
	Universe         string        `toml:"universe" yaml:"universe"`
	ShortName        string        `toml:"short_name" yaml:"short_name"`
	LongName         string        `toml:"long_name" yaml:"long_name"`
	PollInterval     time.Duration `toml:"poll_interval" yaml:"poll_interval"`
	PollTargets      []string      `toml:"poll_targets" yaml:"poll_targets"`
	CaptureInterface string        `toml:"capture_interface" yaml:"capture_interface"`
}

type SACNConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Universe   int    `toml:"universe" yaml:"universe"`
	Priority   int    `toml:"priority" yaml:"priority"`
	SourceName string `toml:"source_name" yaml:"source_name"`
	Interface  string `toml:"interface" yaml:"interface"`
	Discovery  bool   `toml:"discovery" yaml:"discovery"`
}

type OSCConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Listen    string `toml:"listen" yaml:"listen"`
	ReplyPort int    `toml:"reply_port" yaml:"reply_port"`
	Universe  string `toml:"universe" yaml:"universe"`
}

type MDNSConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Interface string `toml:"interface" yaml:"interface"`
	Target    string `toml:"target" yaml:"target"`
	Type      int    `toml:"type" yaml:"type"`
}

type SSDPConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Target  string `toml:"target" yaml:"target"`
}

type MQTTConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" yaml:"client_id"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Topic    string `toml:"topic" yaml:"topic"`
}

// Config represents the application configuration
type Config struct {
	Log      LogConfig    `toml:"log" yaml:"log"`
	ArtNet   ArtNetConfig `toml:"artnet" yaml:"artnet"`
	SACN     SACNConfig   `toml:"sacn" yaml:"sacn"`
	OSC      OSCConfig    `toml:"osc" yaml:"osc"`
	MDNS     MDNSConfig   `toml:"mdns" yaml:"mdns"`
	SSDP     SSDPConfig   `toml:"ssdp" yaml:"ssdp"`
	MQTT     MQTTConfig   `toml:"mqtt" yaml:"mqtt"`
	Mappings []Mapping    `toml:"mapping" yaml:"mapping"`
}

// Default returns the configuration used for keys a file leaves out
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		ArtNet: ArtNetConfig{
			Enabled:      true,
			Listen:       fmt.Sprintf(":%d", artnet.Port),
			Broadcast:    "10.255.255.255",
			Universe:     "0.0.0",
			ShortName:    "lxnet",
			LongName:     "lxnet DMX Ethernet",
			PollInterval: 10 * time.Second,
		},
		SACN: SACNConfig{
			Universe:   1,
			Priority:   sacn.DefaultPriority,
			SourceName: "lxnet",
			Discovery:  true,
		},
		OSC: OSCConfig{
			Listen:   ":53000",
			Universe: "artnet:0.0.0",
		},
		MDNS: MDNSConfig{
			Type: 12,
		},
		SSDP: SSDPConfig{
			Target: "IpBridge",
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "lxnet",
			Topic:    "lxnet",
		},
	}
}

// Load reads a TOML or YAML file, chosen by extension, over the defaults and
// validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := ParseArtNetUniverse(c.ArtNet.Universe); err != nil {
		return fmt.Errorf("artnet: %w", err)
	}
	if c.SACN.Universe < 1 || c.SACN.Universe > 63999 {
		return fmt.Errorf("sacn: universe %d out of range 1-63999", c.SACN.Universe)
	}
	if c.SACN.Priority < 0 || c.SACN.Priority > sacn.MaxPriority {
		return fmt.Errorf("sacn: priority %d out of range 0-%d", c.SACN.Priority, sacn.MaxPriority)
	}
	if c.OSC.Enabled {
		if _, err := ParseUniverse(c.OSC.Universe); err != nil {
			return fmt.Errorf("osc: %w", err)
		}
	}
	if c.MDNS.Enabled && c.MDNS.Target == "" {
		return fmt.Errorf("mdns: target required")
	}

	for i, m := range c.Mappings {
		if m.From.ChannelStart < 1 || m.From.ChannelStart > 512 {
			return fmt.Errorf("mapping %d: from channel start must be 1-512", i)
		}
		if m.From.ChannelEnd < 1 || m.From.ChannelEnd > 512 {
			return fmt.Errorf("mapping %d: from channel end must be 1-512", i)
		}
		if m.From.ChannelStart > m.From.ChannelEnd {
			return fmt.Errorf("mapping %d: from channel start > end", i)
		}
		if m.To.ChannelStart < 1 || m.To.ChannelStart > 512 {
			return fmt.Errorf("mapping %d: to channel must be 1-512", i)
		}
		toEnd := m.To.ChannelStart + m.From.Count() - 1
		if toEnd > 512 {
			return fmt.Errorf("mapping %d: to channels exceed 512", i)
		}
	}
	return nil
}

// NormalizedMapping is a processed mapping ready for the remapper
type NormalizedMapping struct {
	From     Universe
	FromChan int // 0-indexed
	To       Universe
	ToChan   int // 0-indexed
	Count    int
}

// Normalize converts config mappings to normalized form (0-indexed channels)
func (c *Config) Normalize() []NormalizedMapping {
	result := make([]NormalizedMapping, len(c.Mappings))
	for i, m := range c.Mappings {
		result[i] = NormalizedMapping{
			From:     m.From.Universe,
			FromChan: m.From.ChannelStart - 1,
			To:       m.To.Universe,
			ToChan:   m.To.ChannelStart - 1,
			Count:    m.From.Count(),
		}
	}
	return result
}

// Universes returns every universe named by a mapping, inputs first, without
// duplicates.
func (c *Config) Universes() (inputs, outputs []Universe) {
	seenIn := map[Universe]bool{}
	seenOut := map[Universe]bool{}
	for _, m := range c.Mappings {
		if !seenIn[m.From.Universe] {
			seenIn[m.From.Universe] = true
			inputs = append(inputs, m.From.Universe)
		}
		if !seenOut[m.To.Universe] {
			seenOut[m.To.Universe] = true
			outputs = append(outputs, m.To.Universe)
		}
	}
	return inputs, outputs
}
