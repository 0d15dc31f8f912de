// Package transport implements the transport adapter (C1): a thin wrapper
// around an MQTT-over-TLS session using Eclipse Paho. It is the only
// component in the agent that blocks on network I/O.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/user/billingagent/internal/core"
)

// Message is a single inbound (topic, payload) pair delivered by Messages().
type Message struct {
	Topic   string
	Payload []byte
}

// Adapter wraps a single MQTT session. Open performs the TLS handshake and
// connect; Publish/Subscribe act on the live session; Messages yields
// inbound traffic until Close or a transport error; Close is idempotent
// and never raises upward (§4.1).
type Adapter struct {
	opts   *paho.ClientOptions
	logger core.Logger

	mu     sync.RWMutex
	client paho.Client
	msgCh  chan Message
	lostCh chan struct{}
	closed bool
}

// connectTimeout bounds a single Open attempt; on expiry it counts as a
// failed attempt against the backoff budget (§5 "Cancellation & timeouts").
const connectTimeout = 15 * time.Second

// New builds an Adapter from the agent configuration. The default TLS
// context is the one documented (and flagged) in §6: minimum TLS 1.2,
// hostname verification off, peer certificate validation off. A caller may
// harden this via cfg.TLSConfig.
func New(cfg core.Config, logger core.Logger) *Adapter {
	broker := fmt.Sprintf("tls://%s:%d", cfg.BrokerHost, cfg.BrokerPort)

	opts := paho.NewClientOptions().AddBroker(broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "billingagent-" + uuid.NewString()
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(false) // reconnection is driven by the session manager (C4), not Paho
	opts.SetConnectTimeout(connectTimeout)

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // documented insecure default, see §6
	}
	if cfg.TLSConfig != nil {
		if cfg.TLSConfig.MinVersion != 0 {
			tlsCfg.MinVersion = cfg.TLSConfig.MinVersion
		}
		tlsCfg.InsecureSkipVerify = cfg.TLSConfig.InsecureSkipVerify
		tlsCfg.ServerName = cfg.TLSConfig.ServerName
		if len(cfg.TLSConfig.RootCAs) > 0 {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(cfg.TLSConfig.RootCAs) {
				tlsCfg.RootCAs = pool
			}
		}
	}
	opts.SetTLSConfig(tlsCfg)

	a := &Adapter{
		opts:   opts,
		logger: logger,
		msgCh:  make(chan Message, 256),
		lostCh: make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		a.logger.Warn("transport: connection lost", "error", err)
		a.mu.Lock()
		if !a.closed {
			select {
			case <-a.lostCh:
			default:
				close(a.lostCh)
			}
		}
		a.mu.Unlock()
	})

	opts.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		payload := append([]byte(nil), m.Payload()...)
		// Held for the whole check-then-send so Close cannot close msgCh
		// between the closed check and the send (Close takes the write
		// lock to close it, which blocks until this RLock is released).
		a.mu.RLock()
		defer a.mu.RUnlock()
		if a.closed {
			return
		}
		select {
		case a.msgCh <- Message{Topic: m.Topic(), Payload: payload}:
		default:
			a.logger.Warn("transport: inbound buffer full, dropping message", "topic", m.Topic())
		}
	})

	return a
}

// Open performs the TLS handshake and MQTT connect.
func (a *Adapter) Open() error {
	c := paho.NewClient(a.opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("billingagent: %w: connect timeout", core.ErrTransportOpen)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("billingagent: %w: %v", core.ErrTransportOpen, err)
	}

	a.mu.Lock()
	a.client = c
	a.closed = false
	a.mu.Unlock()
	return nil
}

// Subscribe subscribes to topic at QoS 1. Inbound messages arrive on the
// channel returned by Messages.
func (a *Adapter) Subscribe(topic string) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return core.ErrTransportClosed
	}
	token := client.Subscribe(topic, 1, nil)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("billingagent: subscribe %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("billingagent: subscribe %s failed: %w", topic, err)
	}
	return nil
}

// Publish is fire-and-forget from the caller's point of view but fails
// loudly if the session is dead (§4.1 contract).
func (a *Adapter) Publish(topic string, payload []byte) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil || !client.IsConnectionOpen() {
		return core.ErrTransportClosed
	}
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("billingagent: publish %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("billingagent: publish %s failed: %w", topic, err)
	}
	return nil
}

// IsOpen reports whether the underlying client believes its connection is
// live. It is a cheap local check, not a round-trip probe.
func (a *Adapter) IsOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client != nil && a.client.IsConnectionOpen()
}

// Lost returns a channel that is closed once, the moment Paho reports the
// underlying connection lost (e.g., broker-initiated disconnect, network
// failure). The session manager treats this as the "stream termination"
// signal of §4.1/§4.5 and drives a reconnect from it.
func (a *Adapter) Lost() <-chan struct{} {
	return a.lostCh
}

// Messages returns the channel of inbound (topic, payload) pairs. It
// yields until Close or a transport error; the consumer treats channel
// closure as a disconnect signal (§4.1).
func (a *Adapter) Messages() <-chan Message {
	return a.msgCh
}

// Close tears down the session. It is idempotent and never returns an
// error to the caller; failures are logged at debug (§4.1). It closes the
// channel returned by Messages, per that method's documented contract.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	client := a.client
	a.client = nil
	close(a.msgCh)
	a.mu.Unlock()

	if client != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Debug("transport: panic during disconnect", "recover", r)
				}
			}()
			client.Disconnect(250)
		}()
	}
}
