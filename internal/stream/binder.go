// Package stream implements the Stream Binder (SB, §4.3): at most one
// live CDP screencast per session, bound to exactly one tab, atomically
// replaced on every rebind.
package stream

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"tabwatch/internal/browserctl"
)

// Frame is one decoded screencast JPEG, handed to the session's
// frame_sink along with the frame's screencast session id (its ack
// token). The binder acks each frame itself; the sink need not.
type Frame struct {
	Bytes     []byte
	SessionID int64
}

// FrameSink receives frames for the session's single active binding.
// Implementations must not block — the binder does not queue frames.
type FrameSink func(Frame)

// Quality is the JPEG quality passed to startScreencast (§6 default 95).
const Quality = 95

// Binding is one active screencast attachment.
type Binding struct {
	TabID   string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Binder owns the single current Binding for one session. All methods
// are safe to call concurrently but Binder itself is meant to be used
// under the owning session's mutex per §5 — it holds no lock of its own
// over CDP calls so cleanup can cancel an in-flight bind.
type Binder struct {
	mu      sync.Mutex
	current *Binding
	sink    FrameSink
	maxW    int
	maxH    int
}

// New creates a Binder that delivers frames to sink, sized to the
// session's configured viewport.
func New(sink FrameSink, maxWidth, maxHeight int) *Binder {
	return &Binder{sink: sink, maxW: maxWidth, maxH: maxHeight}
}

// Current returns the tab id of the active binding, or "" if unbound.
func (b *Binder) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ""
	}
	return b.current.TabID
}

// Bind atomically replaces the current binding with a screencast on page.
// It never returns an error to a caller that can't act on it usefully in
// the hot path (§4.3: "bind() never throws to the caller") — callers that
// need the failure use the returned error only to decide whether to log
// and leave streaming disabled; they must not propagate it as a fatal
// session error.
func (b *Binder) Bind(ctx context.Context, sessionPage *browserctl.Page) error {
	b.mu.Lock()
	old := b.current
	b.mu.Unlock()

	if old != nil {
		b.unbindBinding(old)
	}

	bindCtx, cancel := context.WithCancel(sessionPage.Context())

	if err := chromedp.Run(bindCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := page.Enable().Do(ctx); err != nil {
				return err
			}
			if err := runtime.Enable().Do(ctx); err != nil {
				return err
			}
			return dom.Enable().Do(ctx)
		}),
	); err != nil {
		cancel()
		return fmt.Errorf("stream: prepare failed: %w", err)
	}

	chromedp.ListenTarget(bindCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		b.mu.Lock()
		isCurrent := b.current != nil && b.current.TabID == sessionPage.TargetID()
		b.mu.Unlock()
		if !isCurrent {
			return
		}
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			return
		}
		if b.sink != nil {
			b.sink(Frame{Bytes: data, SessionID: frame.SessionID})
		}
		go func() {
			ackCtx, ackCancel := context.WithTimeout(bindCtx, 2*time.Second)
			defer ackCancel()
			_ = chromedp.Run(ackCtx, page.ScreencastFrameAck(frame.SessionID))
		}()
	})

	startErr := chromedp.Run(bindCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(int64(Quality)).
			WithMaxWidth(int64(b.maxW)).
			WithMaxHeight(int64(b.maxH)).
			WithEveryNthFrame(1).
			Do(ctx)
	}))

	binding := &Binding{TabID: sessionPage.TargetID(), ctx: bindCtx, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.current = binding
	b.mu.Unlock()

	if startErr != nil {
		b.mu.Lock()
		if b.current == binding {
			b.current = nil
		}
		b.mu.Unlock()
		cancel()
		return fmt.Errorf("stream: startScreencast failed: %w", startErr)
	}

	return nil
}

// RebindOnManualSwitch re-binds, then re-confirms after 200ms (one retry)
// to counter the race where the just-activated tab wasn't foregrounded
// yet when the screencast started (§4.3).
func (b *Binder) RebindOnManualSwitch(ctx context.Context, sessionPage *browserctl.Page) error {
	if err := b.Bind(ctx, sessionPage); err != nil {
		return err
	}
	time.AfterFunc(200*time.Millisecond, func() {
		b.mu.Lock()
		stillBound := b.current != nil && b.current.TabID == sessionPage.TargetID()
		b.mu.Unlock()
		if !stillBound {
			return
		}
		_ = sessionPage.BringToFront()
	})
	return nil
}

// Unbind stops the active screencast and closes its channel. Idempotent.
func (b *Binder) Unbind() {
	b.mu.Lock()
	old := b.current
	b.current = nil
	b.mu.Unlock()

	if old != nil {
		b.unbindBinding(old)
	}
}

func (b *Binder) unbindBinding(binding *Binding) {
	stopCtx, cancel := context.WithTimeout(binding.ctx, 2*time.Second)
	defer cancel()
	_ = chromedp.Run(stopCtx, page.StopScreencast())
	binding.cancel()
}
