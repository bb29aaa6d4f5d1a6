// Package app wires configuration, transport and collaborators into chat
// sessions, one client.Client per login.
package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/api"
	"chatdesk/internal/client"
	"chatdesk/internal/config"
	"chatdesk/internal/transport/natsbus"
	"chatdesk/internal/transport/stompws"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Application coordinates all session components.
// ARCHITECTURAL DISCOVERY: the transport and collaborator client are built
// once and shared; a client.Client is single-use, so every login gets a
// fresh one and logout discards it
type Application struct {
	config    *config.Config
	transport interfaces.Transport
	collab    interfaces.Collaborators
	view      interfaces.View
	log       *zap.Logger

	mu      sync.Mutex
	current *client.Client
	closed  bool
}

// NewApplication builds the shared stack. Component initialization follows
// dependency order: Config → Transport → Collaborators.
func NewApplication(cfg *config.Config, view interfaces.View, log *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// STEP 1: pick the transport for the configured gateway kind
	transport, err := newTransport(cfg.Gateway, log)
	if err != nil {
		return nil, err
	}

	// STEP 2: REST directory and history collaborators
	collab, err := api.NewClient(cfg.API, log.Named("api"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize collaborator client")
	}

	return &Application{
		config:    cfg,
		transport: transport,
		collab:    collab,
		view:      view,
		log:       log,
	}, nil
}

func newTransport(cfg *config.GatewayConfig, log *zap.Logger) (interfaces.Transport, error) {
	switch cfg.Kind {
	case config.KindSTOMP:
		return stompws.New(cfg, log.Named("stomp")), nil
	case config.KindNATS:
		return natsbus.New(cfg, log.Named("nats")), nil
	default:
		return nil, errors.Errorf("unsupported gateway kind %q", cfg.Kind)
	}
}

// Connect starts a new session for identity. It fails with
// client.ErrAlreadyConnected while another session is live.
func (app *Application) Connect(ctx context.Context, identity types.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return client.ErrClosed
	}
	if app.current != nil {
		app.mu.Unlock()
		return client.ErrAlreadyConnected
	}
	c := client.New(client.Options{
		Transport:     app.transport,
		Collaborators: app.collab,
		View:          app.view,
		Gateway:       app.config.Gateway,
		API:           app.config.API,
		Log:           app.log,
	})
	app.current = c
	app.mu.Unlock()

	if err := c.Connect(ctx, identity); err != nil {
		app.mu.Lock()
		if app.current == c {
			app.current = nil
		}
		app.mu.Unlock()
		return err
	}
	return nil
}

func (app *Application) active() (*client.Client, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.current == nil {
		return nil, client.ErrNotConnected
	}
	return app.current, nil
}

// Select makes id the active counterpart of the live session.
func (app *Application) Select(ctx context.Context, id string) error {
	c, err := app.active()
	if err != nil {
		return err
	}
	return c.Select(ctx, id)
}

// Send publishes text to the active counterpart of the live session.
func (app *Application) Send(ctx context.Context, text string) (bool, error) {
	c, err := app.active()
	if err != nil {
		return false, err
	}
	return c.Send(ctx, text)
}

// Refresh requests a directory refresh for the live session.
func (app *Application) Refresh(ctx context.Context) error {
	c, err := app.active()
	if err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Logout ends the live session. The application stays usable for the next
// login.
func (app *Application) Logout() error {
	app.mu.Lock()
	c := app.current
	app.current = nil
	app.mu.Unlock()

	if c == nil {
		return client.ErrNotConnected
	}
	return c.Logout()
}

// Close ends the live session, if any, and refuses further logins.
// Shutdown is bounded by ctx.
func (app *Application) Close(ctx context.Context) error {
	app.mu.Lock()
	app.closed = true
	c := app.current
	app.current = nil
	app.mu.Unlock()

	if c == nil {
		return nil
	}

	app.log.Info("closing active session")
	return c.Close(ctx)
}
