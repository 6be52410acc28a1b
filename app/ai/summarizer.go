package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/rss-digest/app/feed"
)

const (
	MethodOriginal = "original"
	MethodSimple   = "simple"

	StyleInformative    = "informative"
	StyleConcise        = "concise"
	StyleConversational = "conversational"

	minSummarizableLength = 100
	summaryContentLimit   = 6000
	simpleSearchWindow    = 500
	simpleMinCut          = 100
	simpleFallbackLength  = 300
)

var styleDescriptions = map[string]string{
	StyleInformative:    "an informative, objective",
	StyleConcise:        "a concise",
	StyleConversational: "a conversational, easy to read",
}

type Brief struct {
	Text   string `json:"text"`
	Method string `json:"method"`
}

type Summarizer struct {
	client Client
	policy *Policy
	style  string
	now    func() time.Time
}

// NewSummarizer creates a summarizer. client and policy may be nil, in
// which case only original and simple briefs are produced.
func NewSummarizer(client Client, policy *Policy, style string) *Summarizer {
	if _, ok := styleDescriptions[style]; !ok {
		style = StyleInformative
	}
	return &Summarizer{client: client, policy: policy, style: style, now: time.Now}
}

// Summarize produces a brief for an article. An error means the AI call
// failed; callers should fall back to Fallback.
func (s *Summarizer) Summarize(ctx context.Context, article Article) (Brief, error) {
	content := feed.PlainText(article.Content)
	if utf8.RuneCountInString(content) < minSummarizableLength {
		text := feed.PlainText(article.Summary)
		if text == "" {
			text = content
		}
		return Brief{Text: text, Method: MethodOriginal}, nil
	}

	if s.client == nil || (s.policy != nil && !s.policy.AIAvailable()) {
		return s.Fallback(article), nil
	}

	response, err := s.client.Complete(ctx, s.buildPrompt(article.Title, content))
	if err != nil {
		if s.policy != nil {
			s.policy.ReportFailure(err)
		}
		return Brief{}, fmt.Errorf("failed to summarize %q: %w", article.Title, err)
	}
	if s.policy != nil {
		s.policy.ReportSuccess()
	}

	text := strings.Trim(strings.TrimSpace(response), `"'`)
	if text == "" {
		return s.Fallback(article), nil
	}
	return Brief{Text: text, Method: MethodAI}, nil
}

// Fallback is the model-free brief.
func (s *Summarizer) Fallback(article Article) Brief {
	return Brief{Text: SimpleSummary(article.Summary, article.Content), Method: MethodSimple}
}

func (s *Summarizer) buildPrompt(title, content string) string {
	return fmt.Sprintf(`Write %s brief of the following news item.
The brief must be complete, with a beginning and an end, and cover the main points so a reader can grasp the news quickly.
Keep it short but do not drop important information. Everything in it must come from the original text; do not invent anything.

Title: %s

Content:
%s

Current date: %s

Return only the brief text, without quotes or any preamble.
`, styleDescriptions[s.style], title, truncateRunes(content, summaryContentLimit), s.now().Format("2006-01-02"))
}

// SimpleSummary prefers the feed's own summary; otherwise it cuts the
// plain-text content at the last sentence or clause break within the first
// 500 characters, or at 300 characters when no break is far enough in.
func SimpleSummary(summary, content string) string {
	if text := feed.PlainText(summary); text != "" {
		return text
	}

	text := feed.PlainText(content)
	if text == "" {
		return ""
	}

	runes := []rune(text)
	window := runes
	if len(window) > simpleSearchWindow {
		window = window[:simpleSearchWindow]
	}

	cut := -1
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '。', '，', '.', '!', '?', '！', '？':
			cut = i
		}
		if cut >= 0 {
			break
		}
	}

	if cut > simpleMinCut {
		return string(runes[:cut+1])
	}
	if len(runes) <= simpleFallbackLength {
		return text
	}
	return string(runes[:simpleFallbackLength]) + "..."
}
