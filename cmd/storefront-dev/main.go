package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront-sync/internal/devstore"
	"finitefield.org/storefront-sync/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storefront-dev: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		addr               string
		cartRequiresLogin  bool
		anonymousFavorites bool
	)
	flag.StringVar(&addr, "addr", getEnv("STOREFRONT_DEV_ADDR", ":8090"), "HTTP listen address")
	flag.BoolVar(&cartRequiresLogin, "cart-login", false, "answer 401 to anonymous cart additions")
	flag.BoolVar(&anonymousFavorites, "anonymous-favorites", false, "keep favorites for anonymous visitors instead of answering 401")
	flag.Parse()

	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var opts []devstore.Option
	opts = append(opts, devstore.WithLogger(logger))
	if cartRequiresLogin {
		opts = append(opts, devstore.WithCartRequiresLogin())
	}
	if anonymousFavorites {
		opts = append(opts, devstore.WithAnonymousFavorites())
	}
	store, err := devstore.New(opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           store,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dev storefront listening",
			zap.String("addr", addr),
			zap.Bool("cart_requires_login", cartRequiresLogin),
			zap.Bool("anonymous_favorites", anonymousFavorites),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down dev storefront")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
