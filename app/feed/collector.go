package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/rss-digest/app/registry"
)

// thinContentLength is the rune count below which an item's own content is
// considered too short to evaluate on.
const thinContentLength = 100

type Collector struct {
	httpClient *http.Client
	parser     *Parser
	wechat     *WeChatParser
	filterer   *Filterer
	extractor  *ContentExtractor
	userAgent  string
	timeout    time.Duration
}

func NewCollector(httpClient *http.Client, userAgent string, timeout time.Duration) *Collector {
	parser := NewParser()
	return &Collector{
		httpClient: httpClient,
		parser:     parser,
		wechat:     NewWeChatParser(parser),
		filterer:   NewFilterer(),
		extractor:  NewContentExtractor(),
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Collect fetches one feed and returns at most ref.Count() items. Failures
// are reported in the Result, never as a Go error, so one bad feed cannot
// abort a task.
func (c *Collector) Collect(ctx context.Context, ref registry.FeedRef) Result {
	start := time.Now()

	data, err := c.fetch(ctx, ref.URL)
	if err != nil {
		slog.Warn("Failed to fetch feed", "feed", ref.URL, "error", err)
		return Result{Status: registry.StatusFail, Error: err.Error()}
	}

	var items []Item
	if IsWeChat(ref) {
		items, err = c.wechat.Run(data, ref.URL)
	} else {
		var metadata *Metadata
		metadata, items, err = c.parser.Run(data)
		if err == nil && metadata.Title == "" {
			for i := range items {
				items[i].Source = ref.URL
			}
		}
	}
	if err != nil {
		slog.Warn("Failed to parse feed", "feed", ref.URL, "error", err)
		return Result{Status: registry.StatusFail, Error: err.Error()}
	}

	if len(items) == 0 {
		return Result{Status: registry.StatusFail, Error: "feed is empty"}
	}

	if len(items) > ref.Count() {
		items = items[:ref.Count()]
	}

	for i := range items {
		items[i].FeedURL = ref.URL
	}

	items = c.filterer.Run(items, ref.Filters)

	if ref.ExtractContent {
		c.enrich(ctx, items)
	}

	filtered := 0
	for _, item := range items {
		if item.IsFiltered {
			filtered++
		}
	}

	slog.Info("Feed collected",
		"feed", ref.URL,
		"duration", time.Since(start).String(),
		"items", len(items),
		"filtered", filtered)

	return Result{Status: registry.StatusSuccess, Items: items}
}

// enrich replaces thin item content with the article extracted from the
// item's page. Extraction failures leave the item unchanged.
func (c *Collector) enrich(ctx context.Context, items []Item) {
	for i := range items {
		item := &items[i]
		if item.IsFiltered || item.Link == "" {
			continue
		}
		if utf8.RuneCountInString(PlainText(item.Body())) >= thinContentLength {
			continue
		}

		pageURL, err := url.Parse(item.Link)
		if err != nil {
			continue
		}

		data, err := c.fetch(ctx, item.Link)
		if err != nil {
			slog.Debug("Failed to fetch article for extraction", "url", item.Link, "error", err)
			continue
		}

		content, err := c.extractor.Run(data, pageURL)
		if err != nil {
			slog.Debug("Failed to extract article content", "url", item.Link, "error", err)
			continue
		}

		item.Content = content
	}
}

func (c *Collector) fetch(ctx context.Context, target string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
