package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront-sync/internal/config"
	"finitefield.org/storefront-sync/internal/csrf"
	"finitefield.org/storefront-sync/internal/dom"
	"finitefield.org/storefront-sync/internal/mutation"
	"finitefield.org/storefront-sync/internal/notify"
	"finitefield.org/storefront-sync/internal/observability"
	"finitefield.org/storefront-sync/internal/storefront"
)

const usage = "usage: storefront-sync [flags] <cart|wishlist> <productId>..."

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "storefront-sync: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type options struct {
	envFile        string
	login          string
	browserCookies bool
	cookiesJSON    string
	concurrent     bool
	delegate       bool
	cartNotice     bool
	timeout        time.Duration
	action         string
	products       []mutation.ProductRef
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("storefront-sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.envFile, "env", ".env", "dotenv file with local overrides")
	fs.StringVar(&opts.login, "login", "", "sign in as this user through the storefront's /login route first")
	fs.BoolVar(&opts.browserCookies, "browser-cookies", false, "seed the session with the storefront's cookies from local browsers")
	fs.StringVar(&opts.cookiesJSON, "cookies-json", "", "exported cookie JSON consulted before local browser profiles")
	fs.BoolVar(&opts.concurrent, "concurrent", false, "click all products at once instead of one after another")
	fs.BoolVar(&opts.delegate, "delegate", false, "bind one delegated listener instead of one per control")
	fs.BoolVar(&opts.cartNotice, "cart-notice", false, "print a notice when adding to the cart fails")
	fs.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	rest := fs.Args()
	if len(rest) < 2 {
		return options{}, errUsage
	}
	opts.action = rest[0]
	if opts.action != "cart" && opts.action != "wishlist" {
		return options{}, fmt.Errorf("%w: unknown action %q", errUsage, opts.action)
	}
	for _, raw := range rest[1:] {
		ref := mutation.ProductRef(raw)
		if !ref.Valid() {
			return options{}, fmt.Errorf("%w: blank product id", errUsage)
		}
		opts.products = append(opts.products, ref)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, loadOpts ...config.Option) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	cfg, err := config.Load(ctx, append([]config.Option{config.WithEnvFile(opts.envFile)}, loadOpts...)...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLoggerTo(stderr, os.Getenv("LOG_LEVEL"))
	defer func() { _ = logger.Sync() }()
	ctx = observability.WithLogger(ctx, logger)

	var inline []byte
	if opts.cookiesJSON != "" {
		inline, err = os.ReadFile(opts.cookiesJSON)
		if err != nil {
			return fmt.Errorf("read cookie export: %w", err)
		}
	}

	sess, err := storefront.NewSession(cfg.Storefront.BaseURL,
		storefront.WithPagePath(cfg.Storefront.PagePath),
		storefront.WithSessionLogger(logger.Named("session")),
	)
	if err != nil {
		return err
	}
	if opts.browserCookies || len(inline) > 0 {
		n, err := sess.SeedFromBrowser(ctx, csrf.BrowserOptions{
			Browsers:   cfg.Browser.Browsers,
			InlineJSON: inline,
			Timeout:    cfg.Client.Timeout,
		})
		if err != nil {
			return fmt.Errorf("seed session: %w", err)
		}
		logger.Info("session seeded from browser", zap.Int("cookies", n))
	}
	if opts.login != "" {
		if err := sess.SignIn(ctx, opts.login); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	}

	loop := dom.NewLoop(logger.Named("loop"))
	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	doc, err := sess.Open(ctx, loop)
	if err != nil {
		return err
	}
	page, err := storefront.Wire(ctx, cfg, sess, doc, storefront.WireDeps{
		Notifier:       notify.NewWriterNotifier(stdout),
		Logger:         logger,
		BrowserCookies: inline,
		Delegate:       opts.delegate,
		CartNotice:     opts.cartNotice,
	})
	if err != nil {
		return err
	}
	if cfg.CSRF.Source == config.SourceBrowser {
		// browser lookups shell out to keychain helpers; keep them off the loop
		if _, err := page.Tokens.Token(ctx); err != nil {
			logger.Warn("csrf token unavailable", zap.Error(err))
		}
	}

	click := page.Cart.Click
	if opts.action == "wishlist" {
		click = page.Wishlist.Click
	}
	if opts.concurrent {
		g, gCtx := errgroup.WithContext(ctx)
		for _, ref := range opts.products {
			g.Go(func() error { return click(gCtx, ref) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, ref := range opts.products {
			if err := click(ctx, ref); err != nil {
				return err
			}
			if err := loop.Wait(ctx); err != nil {
				return err
			}
		}
	}
	if err := loop.Wait(ctx); err != nil {
		return fmt.Errorf("wait for responses: %w", err)
	}

	return report(ctx, stdout, page)
}

func report(ctx context.Context, out io.Writer, page *storefront.Page) error {
	cart, err := page.Cart.Count(ctx)
	if err != nil {
		return err
	}
	favorites, err := page.Wishlist.Count(ctx)
	if err != nil {
		return err
	}
	states, err := page.Wishlist.States(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "cart: %s\n", cart)
	fmt.Fprintf(out, "favorites: %s\n", favorites)

	refs := make([]mutation.ProductRef, 0, len(states))
	for ref := range states {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	for _, ref := range refs {
		fmt.Fprintf(out, "wishlist %s: %s\n", ref, states[ref])
	}
	return nil
}
