package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MethodAI    = "ai"
	MethodRules = "rules"

	evalSummaryLimit = 1000
	evalContentLimit = 3000
)

// Evaluator scores one article and decides whether to keep it.
type Evaluator interface {
	Evaluate(ctx context.Context, article Article) (Decision, error)
	Name() string
}

type AIEvaluator struct {
	client Client
	now    func() time.Time
}

func NewAIEvaluator(client Client) *AIEvaluator {
	return &AIEvaluator{client: client, now: time.Now}
}

func (e *AIEvaluator) Name() string { return MethodAI }

func (e *AIEvaluator) Evaluate(ctx context.Context, article Article) (Decision, error) {
	response, err := e.client.Complete(ctx, e.buildPrompt(article))
	if err != nil {
		return Decision{}, err
	}

	ev := ParseEvaluation(response)
	if ev.Importance.Rating == Unknown && ev.Timeliness.Rating == Unknown && ev.InterestLevel.Rating == Unknown {
		slog.Warn("AI evaluation unreadable, treating item as unrated", "title", article.Title, "reason", ev.Importance.Explanation)
	}

	return Decision{Keep: ShouldKeep(ev), Evaluation: ev, Method: MethodAI}, nil
}

func (e *AIEvaluator) buildPrompt(article Article) string {
	now := e.now()

	published := "not provided"
	if article.PublishedAt != nil {
		published = article.PublishedAt.Format(time.RFC3339)
	}

	labels := make([]string, len(article.Labels))
	for i, l := range article.Labels {
		labels[i] = fmt.Sprintf("%q", l)
	}

	var b strings.Builder
	b.WriteString("Analyze the following news item and assess it against the criteria below.\n\n")
	fmt.Fprintf(&b, "## Current time\n%s (%s)\n\n", now.Format("2006-01-02 15:04:05"), now.Weekday())
	fmt.Fprintf(&b, "## News item\nTitle: %s\nPublished: %s\nSummary: %s\nFull text: %s\n\n",
		article.Title, published,
		truncateRunes(article.Summary, evalSummaryLimit),
		truncateRunes(article.Content, evalContentLimit))
	fmt.Fprintf(&b, "## Labels this feed is followed for\n%s\n\n", strings.Join(labels, ", "))
	b.WriteString(`## Assessment
1. Interest match: does the item match any of the labels? Name the matching labels, or explain why none match.
2. Importance: VERY_LOW, LOW, MEDIUM, HIGH or VERY_HIGH.
3. Timeliness relative to the current date: VERY_LOW, LOW, MEDIUM, HIGH or VERY_HIGH.
   - VERY_HIGH: breaking news from today or yesterday
   - HIGH: an important development this week
   - MEDIUM: relevant this month
   - LOW: months old or general background
   - VERY_LOW: clearly outdated
4. Interest level: VERY_LOW, LOW, MEDIUM, HIGH or VERY_HIGH.

Reply with JSON only, in this shape:
{"interest_match": {"is_match": true, "matched_tags": ["label"], "explanation": "..."}, "importance": {"rating": "MEDIUM", "explanation": "..."}, "timeliness": {"rating": "MEDIUM", "explanation": "..."}, "interest_level": {"rating": "MEDIUM", "explanation": "..."}}
`)
	return b.String()
}

// RuleEvaluator decides without a model: an item matches when its feed
// carries labels, and matching items are rated higher.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Name() string { return MethodRules }

func (e *RuleEvaluator) Evaluate(_ context.Context, article Article) (Decision, error) {
	match := len(article.Labels) > 0

	ev := Evaluation{
		InterestMatch: InterestMatch{
			IsMatch:     match,
			MatchedTags: append([]string(nil), article.Labels...),
			Explanation: "feed has no interest labels",
		},
		Importance:    Assessment{Rating: Medium, Explanation: "importance cannot be judged by rules"},
		Timeliness:    Assessment{Rating: High, Explanation: "feed items are assumed recent"},
		InterestLevel: Assessment{Rating: Medium, Explanation: "interest cannot be judged by rules"},
	}
	if match {
		ev.InterestMatch.Explanation = "item comes from a feed tagged with these labels"
		ev.Importance.Rating = High
		ev.InterestLevel.Rating = High
	}

	return Decision{Keep: ShouldKeep(ev), Evaluation: ev, Method: MethodRules}, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
