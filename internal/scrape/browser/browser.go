// Package browser renders JS-heavy listing pages through headless Chrome.
// Zillow detail pages in particular return skeleton HTML to plain HTTP
// clients; rendering them first keeps the goquery parsing path identical.
package browser

import (
	"context"
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
)

type Renderer struct {
	userAgents []string
	timeout    time.Duration
}

func New(userAgents []string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{userAgents: userAgents, timeout: timeout}
}

func (r *Renderer) userAgent() string {
	if len(r.userAgents) == 0 {
		return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return r.userAgents[rand.Intn(len(r.userAgents))]
}

// Fetch navigates to url in a fresh headless tab and returns the rendered
// outer HTML once the body is visible.
func (r *Renderer) Fetch(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(r.userAgent()),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.Evaluate("Object.defineProperty(navigator, 'webdriver', {get: () => undefined})", nil),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}
