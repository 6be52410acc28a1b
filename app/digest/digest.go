package digest

import (
	"time"

	"github.com/lysyi3m/rss-digest/app/ai"
)

// Item is a kept, summarized article on its way into a digest.
type Item struct {
	ID           string
	Title        string
	Link         string
	Source       string
	Labels       []string
	Brief        string
	BriefMethod  string
	SummaryError string
	PublishedAt  *time.Time
	RetrievedAt  time.Time
	Evaluation   ai.Evaluation
}

// Timestamp is the published time when known, otherwise the retrieval time.
func (i Item) Timestamp() time.Time {
	if i.PublishedAt != nil {
		return *i.PublishedAt
	}
	return i.RetrievedAt
}

// Tags are the labels shown next to an item's title.
func (i Item) Tags() []string {
	if len(i.Labels) > 0 {
		return i.Labels
	}
	return i.Evaluation.InterestMatch.MatchedTags
}
