package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/rss-digest/app/ai"
)

func ratedItem(id string, importance, timeliness, interest ai.Rating) Item {
	return Item{
		ID:          id,
		RetrievedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Evaluation: ai.Evaluation{
			Importance:    ai.Assessment{Rating: importance},
			Timeliness:    ai.Assessment{Rating: timeliness},
			InterestLevel: ai.Assessment{Rating: interest},
		},
	}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestRank_ByImportance(t *testing.T) {
	items := []Item{
		ratedItem("high", ai.High, ai.Medium, ai.Medium),
		ratedItem("very-high", ai.VeryHigh, ai.Medium, ai.Medium),
		ratedItem("medium", ai.Medium, ai.Medium, ai.Medium),
	}

	got := ids(Rank(items))
	expected := []string{"very-high", "high", "medium"}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("Expected %v, got %v", expected, got)
		}
	}
}

func TestRank_TieBreaks(t *testing.T) {
	items := []Item{
		ratedItem("interest-low", ai.High, ai.High, ai.Low),
		ratedItem("timely", ai.High, ai.VeryHigh, ai.Low),
		ratedItem("interest-high", ai.High, ai.High, ai.High),
		ratedItem("unknown", ai.Unknown, ai.Unknown, ai.Unknown),
		ratedItem("low", ai.Low, ai.VeryHigh, ai.VeryHigh),
	}

	got := ids(Rank(items))
	expected := []string{"timely", "interest-high", "interest-low", "unknown", "low"}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("Expected %v, got %v", expected, got)
		}
	}
}

func TestRank_TimestampAndIDAreTotal(t *testing.T) {
	early := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	a := ratedItem("b-late", ai.Medium, ai.Medium, ai.Medium)
	a.PublishedAt = &late
	b := ratedItem("a-early", ai.Medium, ai.Medium, ai.Medium)
	b.PublishedAt = &early
	c := ratedItem("retrieved-only", ai.Medium, ai.Medium, ai.Medium)
	c.RetrievedAt = late
	d := ratedItem("a-late", ai.Medium, ai.Medium, ai.Medium)
	d.PublishedAt = &late

	first := ids(Rank([]Item{a, b, c, d}))
	second := ids(Rank([]Item{d, c, b, a}))

	expected := []string{"a-early", "a-late", "b-late", "retrieved-only"}
	for i := range expected {
		if first[i] != expected[i] || second[i] != expected[i] {
			t.Fatalf("Expected %v for both input orders, got %v and %v", expected, first, second)
		}
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	items := []Item{
		ratedItem("medium", ai.Medium, ai.Medium, ai.Medium),
		ratedItem("high", ai.High, ai.Medium, ai.Medium),
	}

	Rank(items)
	if items[0].ID != "medium" || items[1].ID != "high" {
		t.Errorf("Expected input order unchanged, got %v", ids(items))
	}
}

func TestRender_GroupsBySource(t *testing.T) {
	items := []Item{
		{ID: "1", Title: "Go 1.24", Link: "https://go.dev/blog/go1.24", Source: "Go Blog", Brief: "Release notes", Labels: []string{"go"}},
		{ID: "2", Title: "SQLite tips", Link: "https://example.com/sqlite", Source: "DB Weekly", Brief: "Use WAL"},
		{ID: "3", Title: "Go tooling", Source: "Go Blog", Brief: "gopls <fast>"},
		{ID: "4", Title: "Anonymous"},
	}

	html, err := Render(Page{
		TaskName:           "Morning",
		TaskID:             "1f0c-22",
		Date:               "2025-03-01",
		UnsubscribeAddress: "digest@example.com",
		Items:              items,
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	goBlog := strings.Index(html, "<h2>Go Blog</h2>")
	dbWeekly := strings.Index(html, "<h2>DB Weekly</h2>")
	tooling := strings.Index(html, "Go tooling")
	if goBlog == -1 || dbWeekly == -1 || tooling == -1 {
		t.Fatalf("Expected both source headers and all items in output")
	}
	if !(goBlog < tooling && tooling < dbWeekly) {
		t.Error("Expected items of the same source grouped under the first source header")
	}
	if strings.Count(html, "<h2>Go Blog</h2>") != 1 {
		t.Error("Expected a single header per source")
	}
	if !strings.Contains(html, unknownSource) {
		t.Error("Expected unknown source group for items without source")
	}
	if !strings.Contains(html, "gopls &lt;fast&gt;") {
		t.Error("Expected brief text to be escaped")
	}
	if !strings.Contains(html, `<span class="category">go</span>`) {
		t.Error("Expected labels rendered as categories")
	}
	if !strings.Contains(html, "mailto:digest@example.com?subject=Unsubscribe:%20") {
		t.Error("Expected unsubscribe mailto link")
	}
}

func TestUnsubscribeLink(t *testing.T) {
	got := UnsubscribeLink("digest@example.com", "abc-123")
	expected := "mailto:digest@example.com?subject=Unsubscribe:%20abc-123"
	if got != expected {
		t.Errorf("Expected %q, got %q", expected, got)
	}
}
