// Package snapshot renders a receipt preview to a PNG with headless Chrome,
// the way the receipt looks on 58mm paper.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeNotFound is returned when no Chrome or Chromium binary exists.
var ErrChromeNotFound = errors.New("chrome/chromium not found")

var pageTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
body { margin: 0; background: #fff; }
pre { margin: 0; padding: 12px; width: {{.Columns}}ch; font: 14px/1.3 "DejaVu Sans Mono", Menlo, monospace; tab-size: 8; white-space: pre; }
</style></head>
<body><pre>{{.Text}}</pre></body></html>
`))

// Renderer turns preview text into a PNG.
type Renderer struct {
	// ChromePath is the browser binary. Empty means use chromedp's lookup.
	ChromePath string
	// Columns is the paper width in characters.
	Columns int
	// Settle is how long to wait for layout before the screenshot.
	Settle time.Duration
}

// NewRenderer returns a Renderer for a 32 column receipt.
func NewRenderer(chromePath string) *Renderer {
	return &Renderer{ChromePath: chromePath, Columns: 32, Settle: 300 * time.Millisecond}
}

// HTML wraps preview in the page that gets screenshotted.
func (r *Renderer) HTML(preview string) (string, error) {
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Columns int
		Text    string
	}{r.Columns, preview})
	if err != nil {
		return "", fmt.Errorf("snapshot: rendering page: %w", err)
	}
	return buf.String(), nil
}

// Render screenshots preview as a PNG.
func (r *Renderer) Render(ctx context.Context, preview string) ([]byte, error) {
	html, err := r.HTML(preview)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)
	if r.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	cdpCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var png []byte
	err = chromedp.Run(cdpCtx,
		chromedp.Navigate("data:text/html,"+dataURLEscape(html)),
		chromedp.Sleep(r.Settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err := page.CaptureScreenshot().
				WithCaptureBeyondViewport(true).
				Do(ctx)
			if err != nil {
				return err
			}
			png = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: capturing screenshot: %w", err)
	}
	return png, nil
}

func dataURLEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// FindChrome looks for a Chrome or Chromium binary on PATH, then in the
// usual install locations for the current OS.
func FindChrome() (string, error) {
	for _, bin := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(bin); err == nil {
			return path, nil
		}
	}
	for _, path := range commonChromePaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeNotFound
}

func commonChromePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return nil
	}
}
