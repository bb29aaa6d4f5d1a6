// Package natsbus carries the chat session over core NATS subjects.
package natsbus

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

var ErrConnectionClosed = errors.New("nats connection closed")

// Transport dials NATS sessions. It implements interfaces.Transport.
type Transport struct {
	cfg *config.GatewayConfig
	log *zap.Logger
}

// New creates a transport for the configured NATS server list.
func New(cfg *config.GatewayConfig, log *zap.Logger) *Transport {
	return &Transport{cfg: cfg, log: log}
}

// Connect opens a NATS connection named after the local user.
// FUNCTIONAL DISCOVERY: a failed initial connect is not retried; reconnects
// after a successful connect are left to the NATS client
func (t *Transport) Connect(ctx context.Context, identity types.Identity) (interfaces.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(types.ErrConnectFailed, "connect %s: %v", t.cfg.URL, err)
	}

	log := t.log.With(zap.String("user_id", identity.ID))
	opts := []nats.Option{
		nats.Name("chatdesk-" + identity.ID),
		nats.Timeout(t.cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if t.cfg.HeartBeat > 0 {
		opts = append(opts, nats.PingInterval(t.cfg.HeartBeat))
	}

	nc, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrapf(types.ErrConnectFailed, "connect %s: %v", t.cfg.URL, err)
	}

	log.Info("nats session established", zap.String("url", nc.ConnectedUrl()))
	return &Conn{nc: nc, disconnectTimeout: t.cfg.DisconnectTimeout, log: log}, nil
}

// Conn is one NATS session. It implements interfaces.Connection.
type Conn struct {
	nc                *nats.Conn
	disconnectTimeout time.Duration
	log               *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Subscribe registers an async subscription; NATS delivers one message at
// a time per subscription, which keeps arrival order.
func (c *Conn) Subscribe(channel string, handler interfaces.Handler) error {
	if c.nc.IsClosed() {
		return ErrConnectionClosed
	}

	if _, err := c.nc.Subscribe(channel, func(m *nats.Msg) {
		handler(m.Data)
	}); err != nil {
		return errors.Wrapf(err, "subscribe %s", channel)
	}

	c.log.Debug("subscribed", zap.String("channel", channel))
	return nil
}

// Publish sends payload on the subject without waiting for a flush.
func (c *Conn) Publish(destination string, payload []byte) error {
	if c.nc.IsClosed() {
		return ErrConnectionClosed
	}
	if err := c.nc.Publish(destination, payload); err != nil {
		return errors.Wrapf(err, "publish to %s", destination)
	}
	return nil
}

// Disconnect flushes pending publishes (so a final presence-leave reaches
// the server) and closes the connection.
func (c *Conn) Disconnect() error {
	c.closeOnce.Do(func() {
		if err := c.nc.FlushTimeout(c.disconnectTimeout); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.closeErr = errors.Wrap(err, "flush before close")
		}
		c.nc.Close()
		c.log.Info("nats session closed")
	})
	return c.closeErr
}
