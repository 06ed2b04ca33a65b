package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/commerce"
	"storefront/internal/handler"
	"storefront/internal/middleware"
)

// runServe exposes the cart and checkout locally over HTTP and MCP until
// ctx is cancelled by SIGINT or SIGTERM.
func runServe(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:"+a.cfg.Port, "Listen address")
	fs.Parse(args)

	if v, err := a.client.CheckCompatibility(ctx, a.cfg.Storefront.MinAPIVersion); err != nil {
		if commerce.IsIncompatible(err) {
			return fmt.Errorf("backend compatibility: %w", err)
		}
		a.logger.Warn("backend not reachable at startup", slog.String("error", err.Error()))
	} else {
		a.logger.Info("backend compatible", slog.String("api_version", v))
	}

	// Warm the gateway library so the first online payment opens quickly.
	go func() {
		if err := a.payer.Preload(ctx); err != nil {
			a.logger.Warn("payment gateway preload failed", slog.String("error", err.Error()))
		}
	}()

	h := handler.New(handler.Deps{
		Cart:          a.cart,
		Accounts:      a.client,
		Sessions:      a.ids,
		Backend:       a.client,
		MinAPIVersion: a.cfg.Storefront.MinAPIVersion,
		NewCheckout:   a.newCheckout,
	}, a.logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery is outermost so it also catches panics in logging.
	httpHandler := middleware.Chain(
		middleware.Recovery(a.logger),
		middleware.RequestID,
		middleware.Logging(a.logger),
	)(mux)

	// No WriteTimeout: place_order waits for the shopper to finish paying.
	server := &http.Server{
		Addr:              *addr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", slog.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		a.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	a.logger.Info("server stopped")
	return nil
}
