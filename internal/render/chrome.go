package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	// PageTimeout bounds one navigation including the settle delay.
	PageTimeout time.Duration
	// Settle is how long to wait after the body is ready for client-side
	// rendering to finish.
	Settle time.Duration
	// MinDelay and MaxDelay bound the random pause before each navigation.
	MinDelay time.Duration
	MaxDelay time.Duration
	// ExecPath overrides the browser binary. Empty uses the default lookup.
	ExecPath string
}

// DefaultChromeOptions are used by the scheduler when nothing is configured.
var DefaultChromeOptions = ChromeOptions{
	PageTimeout: 45 * time.Second,
	Settle:      2 * time.Second,
	MinDelay:    500 * time.Millisecond,
	MaxDelay:    1500 * time.Millisecond,
}

// ChromeDriver renders pages in one headless Chrome tab.
type ChromeDriver struct {
	opts ChromeOptions
	log  *slog.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeDriver starts a headless browser. Close must be called to release it.
func NewChromeDriver(opts ChromeOptions, log *slog.Logger) (*ChromeDriver, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(defaultUserAgent),
		chromedp.WindowSize(1366, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// The first Run launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: start browser: %w", ErrFatal, err)
	}

	log.Info("headless browser started")
	return &ChromeDriver{
		opts:          opts,
		log:           log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Open navigates to url and returns the rendered HTML.
func (d *ChromeDriver) Open(ctx context.Context, url string) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browserCtx.Err() != nil {
		return nil, fmt.Errorf("%w: browser is gone", ErrFatal)
	}

	if err := d.pause(ctx); err != nil {
		return nil, err
	}

	// Actions run in the browser context; the caller's context only cancels them.
	runCtx, cancel := context.WithTimeout(d.browserCtx, d.opts.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(d.opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if d.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrFatal, url, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("open %s: timed out after %s", url, d.opts.PageTimeout)
		}
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	d.log.Debug("page rendered", "url", url, "bytes", len(html))
	return NewPage(url, []byte(html)), nil
}

// HasNextPage reports whether p has an enabled next-page control.
func (d *ChromeDriver) HasNextPage(p *Page) bool {
	return hasNextPage(p)
}

// Close shuts the browser down.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.browserCancel()
	d.allocCancel()
	d.log.Info("headless browser stopped")
	return nil
}

func (d *ChromeDriver) pause(ctx context.Context) error {
	delay := d.opts.MinDelay
	if spread := d.opts.MaxDelay - d.opts.MinDelay; spread > 0 {
		delay += rand.N(spread)
	}
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
