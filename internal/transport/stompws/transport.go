// Package stompws speaks STOMP over a websocket to a Spring-style message
// broker endpoint.
package stompws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/config"
	"chatdesk/internal/transport/wsstream"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

const (
	contentTypeJSON = "application/json"
	writeTimeout    = 5 * time.Second
)

// Transport dials STOMP sessions. It implements interfaces.Transport.
type Transport struct {
	cfg    *config.GatewayConfig
	dialer *websocket.Dialer
	log    *zap.Logger
}

// New creates a transport for the configured gateway URL.
func New(cfg *config.GatewayConfig, log *zap.Logger) *Transport {
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		log: log,
	}
}

// Connect dials the websocket and performs the STOMP handshake, both bounded
// by the configured connect timeout.
func (t *Transport) Connect(ctx context.Context, identity types.Identity) (interfaces.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	ws, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(types.ErrConnectFailed, "dial %s: %v", t.cfg.URL, err)
	}

	// TECHNICAL DISCOVERY: the STOMP handshake is not context-aware, a read
	// deadline bounds the wait for CONNECTED instead
	deadline, _ := ctx.Deadline()
	if err := ws.SetReadDeadline(deadline); err != nil {
		ws.Close()
		return nil, errors.Wrapf(types.ErrConnectFailed, "set handshake deadline: %v", err)
	}

	stream := wsstream.New(ws, writeTimeout)
	session, err := stomp.Connect(stream, t.connectOptions()...)
	if err != nil {
		stream.Close()
		return nil, errors.Wrapf(types.ErrConnectFailed, "stomp handshake with %s: %v", t.cfg.URL, err)
	}

	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		stream.Close()
		return nil, errors.Wrapf(types.ErrConnectFailed, "clear handshake deadline: %v", err)
	}

	t.log.Info("stomp session established",
		zap.String("url", t.cfg.URL),
		zap.String("user_id", identity.ID),
		zap.String("version", string(session.Version())))

	return &Conn{
		session:           session,
		stream:            stream,
		disconnectTimeout: t.cfg.DisconnectTimeout,
		log:               t.log.With(zap.String("user_id", identity.ID)),
		done:              make(chan struct{}),
	}, nil
}

func (t *Transport) connectOptions() []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(t.cfg.HeartBeat, t.cfg.HeartBeat),
	}
	if t.cfg.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(t.cfg.Host))
	}
	return opts
}

// Conn is one STOMP session. It implements interfaces.Connection.
type Conn struct {
	session           *stomp.Conn
	stream            *wsstream.Stream
	disconnectTimeout time.Duration
	log               *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Subscribe registers an auto-ack subscription and pumps its messages into
// handler from a dedicated goroutine, preserving arrival order.
func (c *Conn) Subscribe(channel string, handler interfaces.Handler) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	sub, err := c.session.Subscribe(channel, stomp.AckAuto)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", channel)
	}

	go c.pump(channel, sub, handler)

	c.log.Debug("subscribed", zap.String("channel", channel))
	return nil
}

func (c *Conn) pump(channel string, sub *stomp.Subscription, handler interfaces.Handler) {
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				select {
				case <-c.done:
					// expected after Disconnect
					return
				default:
				}
				c.log.Warn("subscription ended",
					zap.String("channel", channel), zap.Error(msg.Err))
				return
			}
			handler(msg.Body)

		case <-c.done:
			return
		}
	}
}

// Publish sends payload as a JSON SEND frame. No receipt is requested.
func (c *Conn) Publish(destination string, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	if err := c.session.Send(destination, contentTypeJSON, payload); err != nil {
		return errors.Wrapf(err, "send to %s", destination)
	}
	return nil
}

// Disconnect performs the graceful STOMP disconnect, waiting at most the
// configured timeout for the receipt, then closes the websocket.
func (c *Conn) Disconnect() error {
	c.closeOnce.Do(func() {
		close(c.done)

		result := make(chan error, 1)
		go func() { result <- c.session.Disconnect() }()

		select {
		case c.closeErr = <-result:
		case <-time.After(c.disconnectTimeout):
			c.closeErr = ErrDisconnectTimeout
		}

		// Unblocks a Disconnect still waiting on its receipt.
		_ = c.stream.Close()

		if c.closeErr != nil {
			c.log.Warn("stomp disconnect was not clean", zap.Error(c.closeErr))
		} else {
			c.log.Info("stomp session closed")
		}
	})
	return c.closeErr
}
