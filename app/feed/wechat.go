package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/rss-digest/app/registry"
)

const (
	wechatHost          = "mp.weixin.qq.com"
	defaultWeChatSource = "WeChat Official Account"
	untitled            = "Untitled"
)

var (
	wechatTitleSelectors = []string{
		"h1.rich_media_title",
		"h2.rich_media_title",
		"#activity-name",
	}
	wechatTitleMeta = []string{
		`meta[property="og:title"]`,
		`meta[name="twitter:title"]`,
	}
	wechatSourceMeta = []string{
		`meta[property="og:site_name"]`,
		`meta[name="twitter:site"]`,
		`meta[name="application-name"]`,
	}
	wechatSourceSelectors = []string{
		"#js_name",
		"div.rich_media_meta_nickname",
		"a.rich_media_meta_link",
	}
	wechatContentSelectors = []string{
		"div.rich_media_content",
		"div#js_content",
		"div.content",
		"div.text",
		"article",
		"section.article",
	}
)

// IsWeChat reports whether a feed must go through the WeChat page parser.
func IsWeChat(ref registry.FeedRef) bool {
	if ref.Type == registry.FeedTypeWeChat {
		return true
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), wechatHost)
}

// WeChatParser reads WeChat sources, which are either an RSS/Atom bridge
// or a single public article page.
type WeChatParser struct {
	parser *Parser
}

func NewWeChatParser(parser *Parser) *WeChatParser {
	return &WeChatParser{parser: parser}
}

func (w *WeChatParser) Run(data []byte, feedURL string) ([]Item, error) {
	var items []Item

	if looksLikeXML(data) {
		_, parsed, err := w.parser.Run(data)
		if err != nil {
			slog.Debug("WeChat source is not a valid feed, falling back to HTML", "url", feedURL, "error", err)
		}
		items = parsed
	}

	if len(items) == 0 {
		item, err := w.parseArticle(data, feedURL)
		if err != nil {
			return nil, err
		}
		items = []Item{item}
	}

	for i := range items {
		if items[i].Title == "" {
			items[i].Title = untitled
		}
		if items[i].Link == "" {
			items[i].Link = feedURL
		}
		if items[i].ID == "" {
			items[i].ID = items[i].Link
		}
		if items[i].Source == "" {
			items[i].Source = defaultWeChatSource
		}
		items[i].ContentHash = ContentHash(items[i])
	}

	return items, nil
}

func (w *WeChatParser) parseArticle(data []byte, feedURL string) (Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Item{}, fmt.Errorf("failed to parse WeChat page: %w", err)
	}

	title := firstText(doc, wechatTitleSelectors)
	if title == "" {
		title = firstAttr(doc, wechatTitleMeta, "content")
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	source := firstAttr(doc, wechatSourceMeta, "content")
	if source == "" {
		source = firstText(doc, wechatSourceSelectors)
	}

	var content string
	for _, sel := range wechatContentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			content = cleanText(s)
			break
		}
	}
	if content == "" {
		content = cleanText(doc.Find("body").First())
	}

	if title == "" && content == "" {
		return Item{}, fmt.Errorf("no content could be extracted from WeChat page")
	}

	item := Item{
		ID:      feedURL,
		Title:   title,
		Link:    feedURL,
		Source:  source,
		FeedURL: feedURL,
		Content: content,
	}

	if published, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(published)); err == nil {
			t = t.UTC()
			item.PublishedAt = &t
		}
	}

	return item, nil
}

func looksLikeXML(data []byte) bool {
	head := data
	if len(head) > 1000 {
		head = head[:1000]
	}
	return bytes.Contains(head, []byte("<rss")) ||
		bytes.Contains(head, []byte("<?xml")) ||
		bytes.Contains(head, []byte("<feed"))
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors []string, attr string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// cleanText flattens a node to text with scripts and styles removed and
// whitespace collapsed per line.
func cleanText(s *goquery.Selection) string {
	s = s.Clone()
	s.Find("script, style, noscript").Remove()

	lines := strings.Split(s.Text(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
