package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatdesk/internal/app"
	"chatdesk/internal/config"
	"chatdesk/internal/logger"
	"chatdesk/internal/tui"
	"chatdesk/pkg/types"
)

// shutdownTimeout bounds the presence-leave and disconnect on exit.
const shutdownTimeout = 5 * time.Second

// options are the command-line flags.
type options struct {
	id   string
	name string
	role string
}

// autoConnect reports whether the flags carry a complete identity.
func (o options) autoConnect() bool {
	return o.identity().Validate() == nil
}

func (o options) identity() types.Identity {
	return types.NewIdentity(o.id, o.name, o.role)
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("chatdesk", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.id, "id", "", "user id (prefills the identity form)")
	fs.StringVar(&opts.name, "name", "", "full name (connects immediately together with -id)")
	fs.StringVar(&opts.role, "role", string(types.RoleCustomer), "role, MANAGER or CUSTOMER")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, errors.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// Main entry point; graceful shutdown on SIGINT/SIGTERM publishes the
// presence-leave before exit.
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// STEP 1: flags, then .env so the config loader sees its variables
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to load .env")
	}

	// STEP 2: configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("CHATDESK_CONFIG_FILE"))
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// STEP 3: the bridge is the view every session reports to
	bridge := tui.NewBridge()
	application, err := app.NewApplication(cfg, bridge, log)
	if err != nil {
		return errors.Wrap(err, "failed to create application")
	}

	model := tui.New(application, tui.Options{
		Identity:    opts.identity(),
		AutoConnect: opts.autoConnect(),
	}, log.Named("tui"))
	program := tea.NewProgram(model, tea.WithAltScreen())
	bridge.Attach(program.Send)

	// STEP 4: signals end the program; teardown below runs either way
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)
	go func() {
		sig, ok := <-signalCh
		if !ok {
			return
		}
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		program.Quit()
	}()

	log.Info("chatdesk starting",
		zap.String("gateway_kind", cfg.Gateway.Kind),
		zap.String("gateway_url", cfg.Gateway.URL),
		zap.String("api_base_url", cfg.API.BaseURL))

	_, runErr := program.Run()

	// STEP 5: presence-leave and disconnect on every exit path
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Close(ctx); err != nil {
		log.Warn("session teardown incomplete", zap.Error(err))
	}

	if runErr != nil {
		return errors.Wrap(runErr, "terminal UI failed")
	}
	log.Info("chatdesk stopped")
	return nil
}
