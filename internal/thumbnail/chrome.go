package thumbnail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromiumMissing is returned when no chromium binary is installed.
var ErrChromiumMissing = errors.New("chromium not installed")

const (
	renderTimeout = 30 * time.Second
	// Reduced-scale single page; thumbnails do not need print resolution.
	pageWidth  = 480
	pageHeight = 640
)

// ChromeRasterizer renders the first page of a PDF off-screen in headless
// Chrome and rasterizes it into a PNG data URL.
type ChromeRasterizer struct{}

func NewChromeRasterizer() *ChromeRasterizer {
	return &ChromeRasterizer{}
}

func (c *ChromeRasterizer) RenderFirstPageThumbnail(parent context.Context, pdfURL string) (string, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return "", ErrChromiumMissing
		}
	}

	ctx, cancel := context.WithTimeout(parent, renderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-web-security", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// Wrap the PDF in a page sized to a single reduced-scale sheet; the
	// viewer renders the first page into the embed's viewport.
	html := fmt.Sprintf(
		`<!doctype html><html><body style="margin:0"><embed src="%s#page=1&toolbar=0" type="application/pdf" width="%d" height="%d"></body></html>`,
		pdfURL, pageWidth, pageHeight,
	)
	dataURL := "data:text/html;charset=utf-8," + percentEncodeForDataURL(html)

	var shot []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(pageWidth, pageHeight),
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body"),
		// Give the embedded viewer a beat to paint the first page.
		chromedp.Sleep(500*time.Millisecond),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chrome pdf rasterization failed: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot), nil
}

// percentEncodeForDataURL encodes a string for use in a data URL. Unlike
// url.QueryEscape, spaces become %20, never +.
func percentEncodeForDataURL(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			result.WriteRune(r)
		case r == ' ':
			result.WriteString("%20")
		default:
			for _, b := range []byte(string(r)) {
				result.WriteString(fmt.Sprintf("%%%02X", b))
			}
		}
	}
	return result.String()
}
