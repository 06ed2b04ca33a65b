// storefront drives a shopper's cart and checkout against the commerce backend.
// Identity (guest session id, account token) persists between runs, so each
// command picks up the same cart.
//
// Commands:
//
//	storefront cart [-refresh]
//	storefront add -product ID [-qty N]
//	storefront update -item REF -qty N
//	storefront remove -item REF
//	storefront clear
//	storefront login -email EMAIL [-password PASS]
//	storefront logout
//	storefront whoami
//	storefront checkout -method pay_on_delivery|online_payment [address flags]
//	storefront serve
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/commerce"
	"storefront/internal/config"
	"storefront/internal/identity"
	"storefront/internal/payment"
	"storefront/internal/transport"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fatal("%v", err)
	}
}

func run(cmd string, args []string) error {
	commands := map[string]func(context.Context, *app, []string) error{
		"cart":     runCart,
		"add":      runAdd,
		"update":   runUpdate,
		"remove":   runRemove,
		"clear":    runClear,
		"login":    runLogin,
		"logout":   runLogout,
		"whoami":   runWhoami,
		"checkout": runCheckout,
		"serve":    runServe,
	}
	switch cmd {
	case "-h", "-help", "--help", "help":
		printUsage()
		return nil
	}
	command, ok := commands[cmd]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The server logs to stdout; CLI commands keep stdout for their output.
	logOut := io.Writer(os.Stderr)
	if cmd == "serve" {
		logOut = os.Stdout
	}
	logger := initLogger(logOut, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return command(ctx, a, args)
}

// app wires the subsystem for one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	state  *identity.SQLiteStore
	ids    *identity.Resolver
	client *commerce.Client
	cart   *cart.Store
	payer  *payment.Adapter
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	state, err := identity.OpenSQLiteStore(ctx, cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("opening identity state: %w", err)
	}
	ids := identity.NewResolver(state, logger)

	opts := transport.Options{
		Timeout:     cfg.HTTP.Timeout,
		Fingerprint: cfg.HTTP.TLSFingerprint,
		Tracing:     cfg.HTTP.Tracing,
	}
	if cfg.HTTP.BreakerEnabled {
		s := transport.DefaultBreakerSettings("storefront-backend")
		opts.Breaker = &s
	}

	client, err := commerce.New(commerce.Config{
		BaseURL:       cfg.Storefront.APIURL,
		APIKey:        cfg.Storefront.APIKey,
		Identity:      ids,
		Transport:     transport.New(opts),
		Timeout:       cfg.HTTP.Timeout,
		ClientName:    "storefront-cli",
		ClientVersion: version,
		Logger:        logger,
	})
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("creating commerce client: %w", err)
	}

	widget := payment.NewLoopbackWidget(payment.LoopbackConfig{
		ScriptURL:   cfg.Gateway.ScriptURL,
		Constructor: cfg.Gateway.Name,
		Opener: func(url string) error {
			printInfo("Open this page to pay: %s%s%s", colorCyan, url, colorReset)
			return nil
		},
		Logger: logger,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		state:  state,
		ids:    ids,
		client: client,
		cart:   cart.New(client, ids, logger),
		payer:  payment.NewAdapter(client, widget, payment.Options{StoreName: cfg.Storefront.StoreName}, logger),
	}, nil
}

// newCheckout returns an orchestrator for one order attempt.
func (a *app) newCheckout() *checkout.Orchestrator {
	return checkout.New(checkout.Deps{
		Backend:  a.client,
		Payer:    a.payer,
		Cart:     a.cart,
		Identity: a.ids,
	}, a.logger)
}

func (a *app) close() {
	a.cart.Close()
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing identity state", slog.String("error", err.Error()))
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON, development uses text; debug adds source locations.
func initLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storefront - cart and checkout client

Usage:
  storefront <command> [options]

Commands:
  cart      Show the current cart
  add       Add a product to the cart
  update    Change the quantity of a cart line (0 removes it)
  remove    Remove a cart line
  clear     Empty the cart
  login     Sign in; the cart switches to the account cart
  logout    Sign out; the cart switches back to the guest cart
  whoami    Show the active identity
  checkout  Place an order for the current cart
  serve     Serve /health, /cart and the MCP endpoint locally

Examples:
  storefront add -product 60 -qty 2
  storefront update -item 60 -qty 3
  storefront checkout -method pay_on_delivery -email asha@example.com -phone 9876543210 \
      -name "Asha Rao" -address "12 MG Road" -city Bengaluru -state KA -postal 560001

Configuration is read from .env, CONFIG_FILE, or environment variables
(STOREFRONT_API_URL is required).

Run 'storefront <command> -h' for command-specific options.
`)
}
