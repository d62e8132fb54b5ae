package natsutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/taskflow/taskflow/internal/messaging"
)

const connectRetryStep = 500 * time.Millisecond

// Client is a NATS connection with JetStream enabled and the task stream in place.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func ConnectJetStream(url string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name("taskflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err == nil {
		err = messaging.EnsureStreams(js)
	}
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// ConnectJetStreamWithRetry keeps dialing until it succeeds, timeout passes or ctx ends.
func ConnectJetStreamWithRetry(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(connectRetryStep)
	defer ticker.Stop()
	for {
		client, err := ConnectJetStream(url)
		if err == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect jetstream %s: %w (last error: %v)", url, ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Ready reports whether the connection can currently carry messages.
func (c *Client) Ready() error {
	if c == nil || c.Conn == nil {
		return errors.New("nats connection is nil")
	}
	if status := c.Conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", status.String())
	}
	return nil
}

// Bus publishes through JetStream and subscribes with ephemeral consumers
// that only see messages published after they start.
func (c *Client) Bus() JetStreamBus {
	return JetStreamBus{JS: c.JS}
}

type JetStreamBus struct {
	JS nats.JetStreamContext
}

func (b JetStreamBus) Publish(subject string, payload []byte) error {
	_, err := b.JS.Publish(subject, payload)
	return err
}

func (b JetStreamBus) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	sub, err := b.JS.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	}, nats.DeliverNew())
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}
