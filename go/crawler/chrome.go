package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Captures render at a fixed viewport so screenshots of consecutive
// snapshots are directly comparable.
const (
	viewportWidth  = 1280
	viewportHeight = 1024
)

// Renderer drives a headless browser to produce page derivatives. It's a
// narrow capability interface so tests can substitute a fake.
type Renderer interface {
	RenderPNG(ctx context.Context, url string) ([]byte, error)
	RenderPDF(ctx context.Context, url string) ([]byte, error)
}

// ChromeRenderer renders through a headless Chrome driven over the DevTools
// protocol. A fresh browser is allocated per call and disposed before
// returning, so no browser state is shared across capture jobs.
type ChromeRenderer struct {
	UserAgent   string
	SettleDelay time.Duration
}

func (r *ChromeRenderer) settle() time.Duration {
	if r.SettleDelay <= 0 {
		return 3 * time.Second
	}
	return r.SettleDelay
}

func (r *ChromeRenderer) run(ctx context.Context, url string, action chromedp.Action) error {
	var opts = append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(r.UserAgent),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	cctx, cancelCtx := chromedp.NewContext(actx)
	defer cancelCtx()

	return chromedp.Run(cctx,
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
		chromedp.Navigate(url),
		chromedp.Sleep(r.settle()),
		action,
	)
}

// RenderPNG captures a full-viewport screenshot of |url|.
func (r *ChromeRenderer) RenderPNG(ctx context.Context, url string) ([]byte, error) {
	var buf []byte
	if err := r.run(ctx, url, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("rendering screenshot of %s: %w", url, err)
	}
	return buf, nil
}

// RenderPDF prints |url| to PDF.
func (r *ChromeRenderer) RenderPDF(ctx context.Context, url string) ([]byte, error) {
	var buf []byte
	var action = chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	})
	if err := r.run(ctx, url, action); err != nil {
		return nil, fmt.Errorf("rendering PDF of %s: %w", url, err)
	}
	return buf, nil
}
