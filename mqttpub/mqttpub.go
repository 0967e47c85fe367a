// Package mqttpub mirrors universe levels, discovered nodes and senders to an
// MQTT broker and accepts channel writes back from it.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gopatchy/lxnet/artnet"
	"github.com/gopatchy/lxnet/config"
	"github.com/gopatchy/lxnet/senders"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "mqtt")

var ErrNotConnected = errors.New("mqtt: not connected")

// Command sets one channel, 0-511
type Command struct {
	Channel uint16 `json:"channel"`
	Value   uint8  `json:"value"`
}

// SetHandler receives channel writes published to <topic>/set/<proto>/<n>
type SetHandler func(u config.Universe, cmds []Command)

type levelsPayload struct {
	Universe string `json:"universe"`
	Levels   []int  `json:"levels"`
}

type nodePayload struct {
	IP        string   `json:"ip"`
	ShortName string   `json:"short_name"`
	LongName  string   `json:"long_name"`
	Universes []string `json:"universes"`
	CanOutput bool     `json:"can_output"`
}

type Publisher struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	onSet  SetHandler

	mu   sync.Mutex
	last map[config.Universe][512]byte
}

func New(cfg config.MQTTConfig, onSet SetHandler) *Publisher {
	return &Publisher{
		cfg:   cfg,
		onSet: onSet,
		last:  map[config.Universe][512]byte{},
	}
}

// Start connects to the broker and subscribes to the set topics. It returns
// once connected or when ctx is done.
func (p *Publisher) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetUsername(p.cfg.User).
		SetPassword(p.cfg.Password).
		SetClientID(p.cfg.ClientID).
		SetOnConnectHandler(p.connectHandler).
		SetConnectionLostHandler(p.connectLostHandler).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second)

	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", p.cfg.Broker, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(500)
	}
}

func (p *Publisher) connectHandler(c mqtt.Client) {
	log.Infof("connected to %s", p.cfg.Broker)
	if p.onSet == nil {
		return
	}
	topic := p.topic("set", "#")
	token := c.Subscribe(topic, 0, p.messageHandler)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}()
}

func (p *Publisher) connectLostHandler(_ mqtt.Client, err error) {
	log.Warnf("connection lost: %v", err)
}

func (p *Publisher) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	if err := p.handleSet(msg.Topic(), msg.Payload()); err != nil {
		log.Warnf("set message on %s: %v", msg.Topic(), err)
	}
}

func (p *Publisher) topic(parts ...string) string {
	return strings.Join(append([]string{p.cfg.Topic}, parts...), "/")
}

func universeTopic(u config.Universe) string {
	return fmt.Sprintf("%s/%d", u.Protocol, u.Number)
}

// handleSet parses <topic>/set/<proto>/<n> with a JSON array of commands
func (p *Publisher) handleSet(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, p.topic("set")+"/")
	if !ok {
		return fmt.Errorf("unexpected topic")
	}
	proto, num, ok := strings.Cut(rest, "/")
	if !ok {
		return fmt.Errorf("missing universe")
	}
	u, err := config.ParseUniverse(proto + ":" + num)
	if err != nil {
		return err
	}

	var cmds []Command
	if err := json.Unmarshal(payload, &cmds); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	for _, c := range cmds {
		if c.Channel > 511 {
			return fmt.Errorf("channel %d out of range 0-511", c.Channel)
		}
	}
	log.Debugf("set %s: %d channels", u, len(cmds))
	if p.onSet != nil {
		p.onSet(u, cmds)
	}
	return nil
}

// changed records data as the last published frame for u and reports whether
// it differs from the previous one.
func (p *Publisher) changed(u config.Universe, data [512]byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[u]; ok && prev == data {
		return false
	}
	p.last[u] = data
	return true
}

func levelsJSON(u config.Universe, data [512]byte) ([]byte, error) {
	levels := make([]int, len(data))
	for i, v := range data {
		levels[i] = int(v)
	}
	return json.Marshal(levelsPayload{Universe: u.String(), Levels: levels})
}

func nodeJSON(n *artnet.Node) ([]byte, error) {
	payload := nodePayload{
		IP:        n.IP.String(),
		ShortName: n.ShortName,
		LongName:  n.LongName,
		CanOutput: n.CanOutput,
		Universes: []string{},
	}
	for _, u := range n.Universes {
		payload.Universes = append(payload.Universes, u.String())
	}
	return json.Marshal(payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warnf("publish %s: %v", topic, token.Error())
		}
	}()
	return nil
}

// PublishLevels publishes a frame to <topic>/dmx/<proto>/<n> when it differs
// from the last one sent for that universe.
func (p *Publisher) PublishLevels(u config.Universe, data [512]byte) error {
	if !p.changed(u, data) {
		return nil
	}
	payload, err := levelsJSON(u, data)
	if err != nil {
		return err
	}
	return p.publish(p.topic("dmx", universeTopic(u)), false, payload)
}

// PublishNode publishes a retained description of a discovered Art-Net node
func (p *Publisher) PublishNode(n *artnet.Node) error {
	payload, err := nodeJSON(n)
	if err != nil {
		return err
	}
	return p.publish(p.topic("nodes", n.IP.String()), true, payload)
}

func (p *Publisher) PublishSenders(list []senders.SenderInfo) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return p.publish(p.topic("senders"), true, payload)
}
