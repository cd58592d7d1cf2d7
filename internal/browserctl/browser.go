// Package browserctl wraps chromedp to give a Session exclusive ownership
// of one browser instance and its tabs. Unlike a pooled allocator, a
// Browser here is never shared or recycled across sessions — the
// lifecycle is 1:1 with the owning Session (§3: "browser_handle:
// exclusive ownership of a single browser instance").
package browserctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"tabwatch/internal/platform"
	"tabwatch/internal/tab"
)

// LaunchOptions configures one browser instance.
type LaunchOptions struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Platform       platform.Platform
	ProxyURL       string
}

// Browser is the exclusive CDP allocator + root tab context for one
// session. It creates Page values for new targets and tears everything
// down together on Close.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	mu      sync.Mutex
	pages   map[string]*Page
	onNewTarget func(id string)
}

// Launch starts a new exclusive Chrome instance with the given options.
// The returned Browser owns allocCtx/rootCtx; Close releases both.
func Launch(parent context.Context, opts LaunchOptions) (*Browser, error) {
	w, h := opts.ViewportWidth, opts.ViewportHeight
	if w <= 0 || w > 1920 {
		w = 1920
	}
	if h <= 0 || h > 1080 {
		h = 1080
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", w, h)),
	)
	for _, flag := range platform.LaunchFlags(opts.Platform) {
		execOpts = append(execOpts, rawFlag(flag))
	}
	if opts.ProxyURL != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, execOpts...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(rootCtx); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("browserctl: launch failed: %w", err)
	}

	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		rootCtx:     rootCtx,
		rootCancel:  rootCancel,
		pages:       make(map[string]*Page),
	}

	chromedp.ListenTarget(rootCtx, b.handleTargetEvent)

	return b, nil
}

// rawFlag turns a "--name=value" or "--name" string into a chromedp.Flag,
// since ExecAllocatorOptions wants (name, value) pairs, not raw argv.
func rawFlag(flag string) chromedp.ExecAllocatorOption {
	name, value := flag, true
	for i := 0; i < len(flag); i++ {
		if flag[i] == '=' {
			name = flag[:i]
			return chromedp.Flag(trimDashes(name), flag[i+1:])
		}
	}
	return chromedp.Flag(trimDashes(name), value)
}

func trimDashes(s string) string {
	for len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	return s
}

func (b *Browser) handleTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" {
			return
		}
		if b.onNewTarget != nil {
			b.onNewTarget(string(e.TargetInfo.TargetID))
		}
	case *target.EventTargetDestroyed:
		b.mu.Lock()
		delete(b.pages, string(e.TargetID))
		b.mu.Unlock()
	}
}

// OnNewTarget registers a callback invoked whenever a new page target
// appears, satisfying the Tab Registry's "created on new-target event"
// lifecycle rule (§3). Only one callback is kept; a later call replaces
// it. internal/session registers the callback that injects the page
// scripts and adds the tab to the registry.
func (b *Browser) OnNewTarget(fn func(id string)) {
	b.mu.Lock()
	b.onNewTarget = fn
	b.mu.Unlock()
}

// RootContext returns the context of the browser's initial tab.
func (b *Browser) RootContext() context.Context {
	return b.rootCtx
}

// ListTargets enumerates all live page-type targets (§4.2 step 1).
func (b *Browser) ListTargets(ctx context.Context) ([]*target.Info, error) {
	infos, err := chromedp.Targets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(infos))
	for _, i := range infos {
		if i.Type == "page" {
			out = append(out, i)
		}
	}
	return out, nil
}

// PageFor returns (creating if necessary) the Page wrapper attached to a
// target id, backed by a chromedp context derived from the root.
func (b *Browser) PageFor(id string) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pages[id]; ok {
		return p, nil
	}

	pageCtx, pageCancel := chromedp.NewContext(b.rootCtx, chromedp.WithTargetID(target.ID(id)))
	p := &Page{id: id, ctx: pageCtx, cancel: pageCancel}
	b.pages[id] = p
	return p, nil
}

// Close tears down the browser and every derived page context.
func (b *Browser) Close() {
	b.mu.Lock()
	for _, p := range b.pages {
		p.cancel()
	}
	b.pages = make(map[string]*Page)
	b.mu.Unlock()

	b.rootCancel()
	b.allocCancel()
}

// Page adapts a chromedp per-target context to tab.Handle.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	mu     sync.Mutex
}

var _ tab.Handle = (*Page)(nil)

func (p *Page) TargetID() string { return p.id }

func (p *Page) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Navigate(url))
}

func (p *Page) BringToFront() error {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	return chromedp.Run(ctx, page.BringToFront())
}

func (p *Page) Evaluate(script string, out interface{}) error {
	ctx, cancel := context.WithTimeout(p.ctx, 1500*time.Millisecond)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Evaluate(script, out))
}

func (p *Page) EvaluateOnNewDocument(script string) error {
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

// SetExtraHeaders installs the given headers (e.g. Sec-CH-UA*,
// Accept-Language, §4.8) on every request this page issues from here on,
// so they agree with the fingerprint before the first navigation.
func (p *Page) SetExtraHeaders(headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetExtraHTTPHeaders(h).Do(ctx)
	}))
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return true
	}
	select {
	case <-p.ctx.Done():
		p.closed = true
		return true
	default:
		return false
	}
}

// Context exposes the underlying chromedp context for components (like
// the Stream Binder) that need raw CDP access beyond tab.Handle's
// capability set.
func (p *Page) Context() context.Context { return p.ctx }
