package visitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

// RenderConfig tunes the headless renderer.
type RenderConfig struct {
	UserAgent string
}

// RenderVisitor pre-renders one route per work item with headless
// Chrome and persists the HTML through the blob store. Render and
// storage errors fail the item; the engine keeps going.
type RenderVisitor struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	blobs           siteops.BlobStore
	userAgent       string
	logger          *zap.Logger
}

// NewRenderVisitor starts the shared browser process. Each Visit runs
// in its own tab; the executor bounds tab concurrency.
func NewRenderVisitor(cfg RenderConfig, blobs siteops.BlobStore, logger *zap.Logger) (*RenderVisitor, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pagegrove-siteops/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &RenderVisitor{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		blobs:           blobs,
		userAgent:       cfg.UserAgent,
		logger:          logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (v *RenderVisitor) Close() {
	if v == nil {
		return
	}
	v.browserCancel()
	v.allocatorCancel()
}

// Visit renders the route and stores the output. The item context's
// deadline bounds the whole render.
func (v *RenderVisitor) Visit(ctx context.Context, site siteops.Site, item siteops.WorkItem) siteops.Outcome {
	tabCtx, cancelTab := chromedp.NewContext(v.browserCtx)
	defer cancelTab()

	taskCtx := tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancelTask context.CancelFunc
		taskCtx, cancelTask = context.WithDeadline(tabCtx, deadline)
		defer cancelTask()
	}
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	target := absoluteURL(site.BaseURL, item.Key)
	start := time.Now()
	html, err := v.render(taskCtx, target)
	renderMillis := time.Since(start).Milliseconds()
	if err != nil {
		return siteops.Outcome{
			Failed:       true,
			ErrorText:    fmt.Sprintf("render %s: %v", item.Key, err),
			RenderMillis: renderMillis,
		}
	}

	uri, err := v.blobs.PutObject(ctx, renderPath(site.ID, item.Key), "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		return siteops.Outcome{
			Failed:       true,
			ErrorText:    fmt.Sprintf("store render %s: %v", item.Key, err),
			RenderMillis: renderMillis,
		}
	}

	v.logger.Debug("route rendered",
		zap.String("url", item.Key),
		zap.Int64("render_ms", renderMillis),
		zap.String("blob_uri", uri),
	)
	return siteops.Outcome{
		ByteSize:     len(html),
		RenderMillis: renderMillis,
		BlobURI:      uri,
	}
}

func (v *RenderVisitor) render(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(v.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", err
	}
	return html, nil
}

// absoluteURL resolves a route against the site's base URL. Keys that
// already carry a scheme pass through unchanged.
func absoluteURL(baseURL, key string) string {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	return base + key
}

// renderPath maps a route URL to its object path under the site prefix,
// e.g. /books/dune -> renders/site-1/books/dune.html and / ->
// renders/site-1/index.html.
func renderPath(siteID, rawURL string) string {
	route := "/"
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		route = parsed.Path
	}
	route = strings.Trim(route, "/")
	if route == "" {
		route = "index"
	}
	return fmt.Sprintf("renders/%s/%s.html", siteID, route)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
