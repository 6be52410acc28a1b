package feed

import (
	"time"
)

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Item is one raw entry as returned by a source. ID is the raw identity
// and has not been canonicalized yet.
type Item struct {
	ID          string
	Title       string
	Link        string
	Source      string
	FeedURL     string
	Description string
	Content     string
	PublishedAt *time.Time
	Categories  []string

	ContentHash  string
	IsFiltered   bool
	FilterReason string
}

// Result is the outcome of collecting one feed.
type Result struct {
	Status string
	Items  []Item
	Error  string
}

// Body returns the richest text available for the item.
func (i Item) Body() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Description
}
