package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// RealUplink talks to an actual MQTT broker.
type RealUplink struct {
	client  paho.Client
	opts    Options
	replies chan []byte

	mu      sync.Mutex
	pending *backlog
}

// NewRealUplink connects to the broker and subscribes to the reply topic.
func NewRealUplink(opts Options) (*RealUplink, error) {
	u := &RealUplink{
		opts:    opts,
		replies: make(chan []byte, 1),
		pending: newBacklog(opts.Backlog),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(u.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	u.client = paho.NewClient(po)
	token := u.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		u.client.Disconnect(0)
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, ErrNotConnected)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return u, nil
}

// onConnect subscribes to replies and flushes the status backlog. It runs on
// every (re)connect.
func (u *RealUplink) onConnect(c paho.Client) {
	token := c.Subscribe(u.opts.Topics.Reply, 1, u.handleReply)
	if !token.WaitTimeout(u.opts.PublishTimeout) {
		log.Printf("mqtt: subscribe %s: timeout", u.opts.Topics.Reply)
	} else if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", u.opts.Topics.Reply, err)
	}

	u.mu.Lock()
	pending := u.pending.take()
	u.mu.Unlock()
	for _, payload := range pending {
		if err := u.publish(u.opts.Topics.Status, payload, true); err != nil {
			log.Printf("mqtt: replay status: %v", err)
		}
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replayed %d status telegrams", len(pending))
	}
}

// handleReply keeps only the newest reply.
func (u *RealUplink) handleReply(_ paho.Client, msg paho.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	for {
		select {
		case u.replies <- payload:
			return
		default:
		}
		select {
		case <-u.replies:
		default:
		}
	}
}

// Exchange publishes request and waits for the reply.
func (u *RealUplink) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if !u.client.IsConnected() {
		return nil, ErrNotConnected
	}

	// a reply left over from an earlier cycle is stale
	select {
	case <-u.replies:
	default:
	}

	if err := u.publish(u.opts.Topics.Request, request, false); err != nil {
		return nil, err
	}

	select {
	case reply := <-u.replies:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoReply, ctx.Err())
	}
}

// SendStatus publishes a retained status telegram, keeping it for the next
// connection when the broker is unreachable.
func (u *RealUplink) SendStatus(status []byte) error {
	if !u.client.IsConnected() {
		u.mu.Lock()
		u.pending.add(status)
		u.mu.Unlock()
		return nil
	}
	return u.publish(u.opts.Topics.Status, status, true)
}

func (u *RealUplink) publish(topic string, payload []byte, retained bool) error {
	// QoS 1 (at-least-once)
	token := u.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(u.opts.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the client is connected to the broker.
func (u *RealUplink) IsConnected() bool {
	return u.client.IsConnected()
}

// Close disconnects from the broker.
func (u *RealUplink) Close() error {
	u.client.Disconnect(1000) // 1 second timeout
	return nil
}
