// Package mqtt publishes address book events to an MQTT broker and
// receives change commands from it.
//
// Events are published as JSON to "{prefix}/{bookID}/events". Commands
// are read from "{prefix}/{bookID}/commands". Observe never blocks: events
// go through a bounded queue and those that do not fit are dropped and
// counted.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/contactindex/core/dedupe"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/transport"
)

// Compile-time interface check.
var _ transport.Publisher = (*Publisher)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "contactindex"

	// DefaultQueueSize is the default number of events buffered for
	// publishing.
	DefaultQueueSize = 1024
)

// Config holds the configuration for an MQTT publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "contactindex").
	TopicPrefix string
	// BookID identifies the address book in topic names.
	BookID string
	// QueueSize bounds the publish queue (default: 1024).
	QueueSize int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Publisher implements transport.Publisher over MQTT.
type Publisher struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger
	queue  chan transport.EventMessage
	seen   *dedupe.Window
	now    func() time.Time

	// publish sends one payload; replaced in tests.
	publish func(topic string, payload []byte) error

	mu             sync.RWMutex
	connected      bool
	commandHandler transport.CommandHandler
	stateHandler   transport.StateHandler
	cancel         context.CancelFunc
	done           chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a new MQTT publisher with the given configuration.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Publisher{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("mqtt"),
		queue: make(chan transport.EventMessage, cfg.QueueSize),
		seen:  dedupe.New(),
		now:   time.Now,
	}
	p.publish = p.publishToBroker
	return p
}

// Start connects to the MQTT broker and begins publishing queued events.
func (p *Publisher) Start(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if p.cfg.BookID == "" {
		return errors.New("book ID is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "contactindex-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost).
		SetReconnectingHandler(p.onReconnecting)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	client := paho.NewClient(opts)
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	p.startWorker(ctx)
	return nil
}

func (p *Publisher) startWorker(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()
	go p.drainLoop(ctx, done)
}

// Stop stops publishing and disconnects from the MQTT broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(1000)
		p.connected = false
	}
	return nil
}

// IsConnected returns true if the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// SetCommandHandler sets the callback for incoming change commands.
func (p *Publisher) SetCommandHandler(fn transport.CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commandHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (p *Publisher) SetStateHandler(fn transport.StateHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateHandler = fn
}

// Observe queues e for publishing. It never blocks.
func (p *Publisher) Observe(e notify.Event) {
	msg := transport.NewEventMessage(p.cfg.BookID, e, p.now())
	select {
	case p.queue <- msg:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn("publish queue full, dropping events")
		}
	}
}

// Published returns the number of events handed to the broker.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

// Dropped returns the number of events discarded because the queue was
// full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// EventsTopic returns the topic events are published to.
func (p *Publisher) EventsTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.BookID + "/events"
}

// CommandsTopic returns the topic commands are read from.
func (p *Publisher) CommandsTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.BookID + "/commands"
}

func (p *Publisher) drainLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			p.send(msg)
		}
	}
}

func (p *Publisher) send(msg transport.EventMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("failed to encode event", "kind", msg.Kind, "error", err)
		return
	}
	if err := p.publish(p.EventsTopic(), payload); err != nil {
		p.log.Debug("failed to publish event", "kind", msg.Kind, "error", err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) publishToBroker(topic string, payload []byte) error {
	if !p.IsConnected() {
		return errors.New("not connected")
	}
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (p *Publisher) subscribe() {
	topic := p.CommandsTopic()
	p.client.Subscribe(topic, 1, p.handleMessage)
	p.log.Debug("subscribed to command topic", "topic", topic)
}

func (p *Publisher) handleMessage(_ paho.Client, message paho.Message) {
	p.handlePayload(message.Payload())
}

func (p *Publisher) handlePayload(payload []byte) {
	p.mu.RLock()
	handler := p.commandHandler
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	cmd, err := transport.ParseCommand(payload)
	if err != nil {
		p.log.Debug("ignoring malformed command", "error", err)
		return
	}
	if cmd.Seq != "" && p.seen.HasSeen([]byte(cmd.Seq)) {
		p.log.Debug("dropping redelivered command", "seq", cmd.Seq)
		return
	}
	handler(cmd)
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	handler := p.stateHandler
	p.mu.Unlock()

	p.subscribe()
	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker)

	if handler != nil {
		handler(p, transport.EventConnected)
	}
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	handler := p.stateHandler
	p.mu.Unlock()

	p.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(p, transport.EventDisconnected)
	}
}

func (p *Publisher) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	p.mu.RLock()
	handler := p.stateHandler
	p.mu.RUnlock()

	p.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(p, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
