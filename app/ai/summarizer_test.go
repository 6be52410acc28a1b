package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var longContent = strings.Repeat("Go 1.24 ships generic type aliases and a new map implementation. ", 5)

func TestSummarizer_ShortContentUsesOriginal(t *testing.T) {
	client := &fakeClient{responses: []string{"unused"}}
	s := NewSummarizer(client, nil, StyleConcise)

	brief, err := s.Summarize(context.Background(), Article{Summary: "<p>Short summary</p>", Content: "tiny"})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if brief.Method != MethodOriginal || brief.Text != "Short summary" {
		t.Errorf("Expected original summary, got %+v", brief)
	}
	if client.calls != 0 {
		t.Errorf("Expected no AI call, got %d", client.calls)
	}
}

func TestSummarizer_NoClientUsesSimple(t *testing.T) {
	s := NewSummarizer(nil, nil, "")

	brief, err := s.Summarize(context.Background(), Article{Content: longContent})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if brief.Method != MethodSimple {
		t.Errorf("Expected simple method, got %s", brief.Method)
	}
}

func TestSummarizer_AI(t *testing.T) {
	client := &fakeClient{responses: []string{`  "A crisp brief."  `}}
	s := NewSummarizer(client, nil, StyleInformative)

	brief, err := s.Summarize(context.Background(), Article{Title: "Go", Content: longContent})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if brief.Method != MethodAI || brief.Text != "A crisp brief." {
		t.Errorf("Expected trimmed AI brief, got %+v", brief)
	}
}

func TestSummarizer_AIFailureReturnsError(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	policy, _ := NewPolicy(ModeAuto, client, 5, time.Minute)
	s := NewSummarizer(client, policy, StyleInformative)

	article := Article{Title: "Go", Content: longContent}
	if _, err := s.Summarize(context.Background(), article); err == nil {
		t.Fatal("Expected error on AI failure")
	}

	fallback := s.Fallback(article)
	if fallback.Method != MethodSimple || fallback.Text == "" {
		t.Errorf("Expected simple fallback, got %+v", fallback)
	}
}

func TestSummarizer_PromptCarriesStyle(t *testing.T) {
	s := NewSummarizer(nil, nil, StyleConversational)
	s.now = func() time.Time { return time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC) }

	prompt := s.buildPrompt("Title", "Body")
	if !strings.Contains(prompt, "conversational") || !strings.Contains(prompt, "2025-02-03") {
		t.Errorf("Unexpected prompt: %s", prompt)
	}
}

func TestSimpleSummary(t *testing.T) {
	if got := SimpleSummary("<b>Feed summary</b>", longContent); got != "Feed summary" {
		t.Errorf("Expected feed summary to win, got %q", got)
	}

	if got := SimpleSummary("", ""); got != "" {
		t.Errorf("Expected empty summary, got %q", got)
	}

	short := "Just one line without a break"
	if got := SimpleSummary("", short); got != short {
		t.Errorf("Expected short text unchanged, got %q", got)
	}

	chinese := strings.Repeat("这是一个很长的句子", 20) + "。" + strings.Repeat("后面还有内容", 100)
	got := SimpleSummary("", chinese)
	if !strings.HasSuffix(got, "。") {
		t.Errorf("Expected cut at sentence end, got %q", got)
	}

	noBreaks := strings.Repeat("x", 800)
	got = SimpleSummary("", noBreaks)
	if len([]rune(got)) != 303 || !strings.HasSuffix(got, "...") {
		t.Errorf("Expected 300 runes plus ellipsis, got %d runes", len([]rune(got)))
	}
}
