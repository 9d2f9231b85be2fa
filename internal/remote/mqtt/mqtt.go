// Package mqtt connects the timers to an MQTT broker.
//
// Remote surfaces (a watch, a home automation hub, a dismissed alert) publish
// to <prefix>/<timer id>/stop or <prefix>/<timer id>/cancel; every such
// message becomes a timer.Request for the orchestrator. In the other
// direction each committed change is published, retained, to
// <prefix>/<timer id>/state so that late subscribers see the current record.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/domain/timer/codec"
	"github.com/oshokin/countdown/internal/logger"
)

const (
	stateSegment = "state"

	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
	requestBuffer     = 16
)

// Bridge relays control requests from the broker and publishes timer state.
type Bridge struct {
	// client is the broker connection.
	client paho.Client
	// prefix is the root of all topics, without a trailing slash.
	prefix string
	// qos is used for subscriptions and publications.
	qos byte
	// requests carries parsed control requests.
	requests chan domain.Request
	// ctx scopes the message handlers.
	ctx context.Context //nolint:containedctx // Handlers are invoked by paho without a context.
}

// NewBridge creates a bridge on top of a client. The client is expected to be
// connected by the caller; see Dial.
func NewBridge(ctx context.Context, client paho.Client, prefix string, qos byte) *Bridge {
	return &Bridge{
		client:   client,
		prefix:   strings.Trim(prefix, "/"),
		qos:      qos,
		requests: make(chan domain.Request, requestBuffer),
		ctx:      ctx,
	}
}

// NewClient builds a paho client from the settings. onConnect runs after
// every successful (re)connection.
func NewClient(ctx context.Context, settings config.MQTTConfig, onConnect func()) paho.Client { //nolint:ireturn // paho exposes only the interface.
	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(settings.ClientID)

	if settings.Username != "" {
		opts.SetUsername(settings.Username)
	}

	if settings.Password != "" {
		opts.SetPassword(settings.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.InfoKV(ctx, "Connected to MQTT broker", "broker", settings.Broker)

		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.WarnKV(ctx, "MQTT connection lost", "broker", settings.Broker, "error", err)
	})

	return paho.NewClient(opts)
}

// Dial connects to the broker described by settings and returns a started bridge.
func Dial(ctx context.Context, settings config.MQTTConfig) (*Bridge, error) {
	var bridge *Bridge

	client := NewClient(ctx, settings, func() {
		// Clean sessions drop subscriptions, so subscribe on every connect.
		if err := bridge.Subscribe(); err != nil {
			logger.ErrorKV(ctx, "MQTT subscription failed", "error", err)
		}
	})

	bridge = NewBridge(ctx, client, settings.TopicPrefix, settings.QoS)

	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}

	return bridge, nil
}

// Requests returns the stream of control requests.
func (b *Bridge) Requests() <-chan domain.Request {
	return b.requests
}

// Topics returns the control topic filters.
func (b *Bridge) Topics() []string {
	return []string{
		b.prefix + "/+/" + string(domain.RequestStop),
		b.prefix + "/+/" + string(domain.RequestCancel),
	}
}

// StateTopic returns the topic carrying the state of id.
func (b *Bridge) StateTopic(id string) string {
	return b.prefix + "/" + id + "/" + stateSegment
}

// ParseTopic extracts a request from a control topic.
func (b *Bridge) ParseTopic(topic string) (domain.Request, error) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return domain.Request{}, fmt.Errorf("topic %q is outside %q", topic, b.prefix)
	}

	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(action, "/") {
		return domain.Request{}, fmt.Errorf("malformed control topic %q", topic)
	}

	kind, err := domain.ParseRequestKind(action)
	if err != nil {
		return domain.Request{}, fmt.Errorf("control topic %q: %w", topic, err)
	}

	return domain.Request{Kind: kind, TimerID: id}, nil
}

// Publish sends the retained state of a changed timer. A deleted timer clears
// its retained message.
func (b *Bridge) Publish(t *domain.Timer, deleted bool) error {
	var payload []byte

	if !deleted {
		s, err := codec.ToStruct(t)
		if err != nil {
			return err
		}

		if payload, err = protojson.Marshal(s); err != nil {
			return fmt.Errorf("encode timer %s: %w", t.ID, err)
		}
	}

	topic := b.StateTopic(t.ID)

	token := b.client.Publish(topic, b.qos, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to %s: %w", topic, token.Error())
	}

	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(disconnectQuiesce)
}

// Subscribe subscribes to the control topics.
func (b *Bridge) Subscribe() error {
	for _, topic := range b.Topics() {
		token := b.client.Subscribe(topic, b.qos, b.handle)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
		}
	}

	return nil
}

// handle turns a message into a request. Payloads are ignored: the topic
// alone names the timer and the action.
func (b *Bridge) handle(_ paho.Client, msg paho.Message) {
	ctx := b.ctx

	req, err := b.ParseTopic(msg.Topic())
	if err != nil {
		logger.WarnKV(ctx, "Ignoring MQTT message", "topic", msg.Topic(), "error", err)
		return
	}

	if msg.Retained() {
		logger.DebugKV(ctx, "Ignoring retained control message", "topic", msg.Topic())
		return
	}

	select {
	case b.requests <- req:
		logger.DebugKV(ctx, "Remote request received", "timer_id", req.TimerID, "kind", req.Kind)
	case <-ctx.Done():
	}
}
