// Package extract fetches web pages in a scoped headless-browser context
// and parses them into schema-shaped content with a language model.
//
// Every extraction batch acquires its own browser allocator and releases
// it on all exit paths, including cancellation. When the browser cannot
// run (no Chrome binary, sandboxed CI), a plain HTTP fetch is used as a
// degraded fallback so extraction still yields text.
package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/ubyagro/biogrow/internal/generation"
)

// Preferences control content reduction during extraction.
type Preferences struct {
	OnlyMainContent    bool
	BlockAds           bool
	RemoveBase64Images bool
	SettleDelay        time.Duration // Post-load settle before reading the DOM.
	Timeout            time.Duration // Per-batch wall-clock budget.
}

// DefaultPreferences mirror the reduction settings used by the portal tools.
func DefaultPreferences() Preferences {
	return Preferences{
		OnlyMainContent:    true,
		BlockAds:           true,
		RemoveBase64Images: true,
		SettleDelay:        2 * time.Second,
		Timeout:            15 * time.Second,
	}
}

// maxContentChars caps per-URL text fed to the model.
const maxContentChars = 12000

// adHostPatterns is the block list applied when Preferences.BlockAds is set.
var adHostPatterns = []string{
	"*doubleclick.net*",
	"*googlesyndication.com*",
	"*adservice.google.*",
	"*taboola.com*",
	"*outbrain.com*",
}

var (
	base64DataRe = regexp.MustCompile(`data:[a-zA-Z0-9/+;=,.-]{64,}`)
	blockRe      = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<noscript[^>]*>.*?</noscript>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	spaceRe      = regexp.MustCompile(`[ \t]{2,}|\n{3,}`)
)

// Extractor fetches pages and parses them into structured content.
type Extractor struct {
	provider  generation.Provider
	prefs     Preferences
	chromeBin string
	client    *http.Client
	logger    *slog.Logger
}

// New creates an Extractor. chromeBin optionally pins the browser binary;
// empty uses chromedp's default lookup.
func New(provider generation.Provider, prefs Preferences, chromeBin string, logger *slog.Logger) *Extractor {
	return &Extractor{
		provider:  provider,
		prefs:     prefs,
		chromeBin: chromeBin,
		client:    &http.Client{Timeout: prefs.Timeout},
		logger:    logger,
	}
}

// Extract fetches the given URLs, reduces their content per the
// preferences, and asks the model to produce a document matching schema,
// guided by prompt. Returns the model's JSON output.
func (e *Extractor) Extract(ctx context.Context, urls []string, prompt string, schema generation.Schema) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("extract: no urls")
	}

	pages, err := e.fetchAll(ctx, urls)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for url, content := range pages {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", url, content)
	}

	resp, err := e.provider.Complete(ctx, generation.Request{
		Messages: []generation.Message{
			{Role: generation.RoleSystem, Text: "Você extrai informações estruturadas de páginas web. Responda apenas com o JSON pedido."},
			{Role: generation.RoleUser, Text: prompt + "\n\nConteúdo das páginas:\n\n" + sb.String()},
		},
		Schema: &schema,
	})
	if err != nil {
		return "", fmt.Errorf("extract: parse content: %w", err)
	}
	return resp.Text, nil
}

// fetchAll loads each URL inside one scoped browser context. On browser
// startup failure it degrades to plain HTTP fetches.
func (e *Extractor) fetchAll(ctx context.Context, urls []string) (map[string]string, error) {
	if e.prefs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.prefs.Timeout)
		defer cancel()
	}

	pages, err := e.fetchWithBrowser(ctx, urls)
	if err == nil {
		return pages, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extract: fetch: %w", ctx.Err())
	}

	e.logger.Warn("extract: browser unavailable, falling back to plain fetch", "error", err)
	return e.fetchPlain(ctx, urls)
}

func (e *Extractor) fetchWithBrowser(ctx context.Context, urls []string) (map[string]string, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if e.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(e.chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	prep := []chromedp.Action{network.Enable()}
	if e.prefs.BlockAds {
		prep = append(prep, network.SetBlockedURLs(adHostPatterns))
	}
	if err := chromedp.Run(browserCtx, prep...); err != nil {
		return nil, fmt.Errorf("extract: start browser: %w", err)
	}

	pages := make(map[string]string, len(urls))
	for _, url := range urls {
		var text string
		tasks := chromedp.Tasks{
			chromedp.Navigate(url),
			chromedp.Sleep(e.prefs.SettleDelay),
			chromedp.Evaluate(e.contentScript(), &text),
		}
		if err := chromedp.Run(browserCtx, tasks); err != nil {
			e.logger.Warn("extract: page failed", "url", url, "error", err)
			continue
		}
		pages[url] = e.reduce(text)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("extract: no page could be fetched")
	}
	return pages, nil
}

// contentScript returns the in-page JS that yields visible text, pruned
// to the main content when requested.
func (e *Extractor) contentScript() string {
	if !e.prefs.OnlyMainContent {
		return `document.body.innerText`
	}
	return `(() => {
		const clone = document.body.cloneNode(true);
		for (const sel of ['script','style','nav','header','footer','aside','iframe','noscript']) {
			clone.querySelectorAll(sel).forEach(n => n.remove());
		}
		const main = clone.querySelector('main, article, [role="main"]');
		return (main || clone).innerText;
	})()`
}

// fetchPlain is the degraded path: straight GETs with naive tag stripping.
func (e *Extractor) fetchPlain(ctx context.Context, urls []string) (map[string]string, error) {
	pages := make(map[string]string, len(urls))
	for _, url := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			e.logger.Warn("extract: build request", "url", url, "error", err)
			continue
		}
		resp, err := e.client.Do(req)
		if err != nil {
			e.logger.Warn("extract: plain fetch failed", "url", url, "error", err)
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			e.logger.Warn("extract: plain fetch bad response", "url", url, "status", resp.StatusCode)
			continue
		}
		pages[url] = e.reduce(StripTags(string(body)))
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("extract: no page could be fetched")
	}
	return pages, nil
}

// reduce applies content-reduction preferences and the size cap.
func (e *Extractor) reduce(text string) string {
	if e.prefs.RemoveBase64Images {
		text = base64DataRe.ReplaceAllString(text, "")
	}
	text = spaceRe.ReplaceAllString(text, "\n")
	text = strings.TrimSpace(text)
	if len(text) > maxContentChars {
		cut := maxContentChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// StripTags removes markup from an HTML document, keeping its text.
func StripTags(html string) string {
	html = blockRe.ReplaceAllString(html, " ")
	return tagRe.ReplaceAllString(html, " ")
}
