package feed

import (
	"testing"
	"time"
)

func TestParser_RSS(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title> Tech Wire </title><link>https://wire.example.org</link>
<description>Daily technology news</description><language>zh-cn</language>
<item>
<title>Chip exports tighten</title><link>https://wire.example.org/a/chips</link>
<description>New export rules for accelerators.</description><guid>wire-1001</guid>
<pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
<category>Semiconductors</category><category>Policy</category>
</item>
<item>
<title>Untitled brief</title><description>Only a GUID identifies this entry.</description><guid>wire-1002</guid>
</item>
</channel></rss>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "Tech Wire" {
		t.Errorf("Expected trimmed title 'Tech Wire', got: %s", metadata.Title)
	}
	if metadata.Language != "zh-cn" {
		t.Errorf("Expected language 'zh-cn', got: %s", metadata.Language)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(items))
	}

	chips := items[0]
	if chips.ID != "https://wire.example.org/a/chips" {
		t.Errorf("Expected link to be used as identity, got: %s", chips.ID)
	}
	if chips.Source != "Tech Wire" {
		t.Errorf("Expected source 'Tech Wire', got: %s", chips.Source)
	}
	if chips.Content != "New export rules for accelerators." {
		t.Errorf("Expected description to back empty content, got: %s", chips.Content)
	}
	published := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	if chips.PublishedAt == nil || !chips.PublishedAt.Equal(published) {
		t.Errorf("Expected published %v, got %v", published, chips.PublishedAt)
	}
	if len(chips.Categories) != 2 || chips.Categories[0] != "Semiconductors" {
		t.Errorf("Expected categories [Semiconductors Policy], got: %v", chips.Categories)
	}
	if chips.ContentHash != ContentHash(chips) {
		t.Error("Expected content hash to be set from title and link")
	}

	brief := items[1]
	if brief.ID != "wire-1002" {
		t.Errorf("Expected GUID fallback identity 'wire-1002', got: %s", brief.ID)
	}
	if brief.PublishedAt != nil {
		t.Errorf("Expected nil published date, got %v", brief.PublishedAt)
	}
}

func TestParser_AtomFallsBackToUpdated(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Research Notes</title><id>tag:notes.example.org,2023:feed</id>
<updated>2023-07-03T12:00:00Z</updated>
<entry>
<title>Sparse attention revisited</title>
<link href="https://notes.example.org/sparse-attention"/>
<id>tag:notes.example.org,2023:17</id>
<updated>2023-07-03T10:00:00Z</updated>
<content type="html">A look at block sparse kernels.</content>
</entry>
</feed>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(atomData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "Research Notes" {
		t.Errorf("Expected title 'Research Notes', got: %s", metadata.Title)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(items))
	}

	entry := items[0]
	if entry.Content != "A look at block sparse kernels." {
		t.Errorf("Expected entry content, got: %s", entry.Content)
	}
	updated := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	if entry.PublishedAt == nil || !entry.PublishedAt.Equal(updated) {
		t.Errorf("Expected updated date %v as published, got %v", updated, entry.PublishedAt)
	}
}

func TestParser_RejectsNonFeed(t *testing.T) {
	if _, _, err := NewParser().Run([]byte("<html><body>not a feed</body></html>")); err == nil {
		t.Error("Expected error for a page that is not a feed")
	}
}

func TestContentHash_IgnoresBody(t *testing.T) {
	base := Item{Title: "Chip exports tighten", Link: "https://wire.example.org/a/chips"}
	edited := base
	edited.Content = "Updated with comment from the ministry."
	retitled := base
	retitled.Title = "Chip export rules tighten further"

	if ContentHash(base) != ContentHash(edited) {
		t.Error("Expected body edits to keep the hash")
	}
	if ContentHash(base) == ContentHash(retitled) {
		t.Error("Expected a new title to change the hash")
	}
}
