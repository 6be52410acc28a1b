package ai

import (
	"encoding/json"
	"strings"
	"time"
)

// Article is the evaluator and summarizer view of a collected item.
type Article struct {
	Title       string
	Summary     string
	Content     string
	Source      string
	Link        string
	Labels      []string
	PublishedAt *time.Time
}

type InterestMatch struct {
	IsMatch     bool     `json:"is_match"`
	MatchedTags []string `json:"matched_tags"`
	Explanation string   `json:"explanation"`
}

type Assessment struct {
	Rating      Rating `json:"rating"`
	Explanation string `json:"explanation"`
}

type Evaluation struct {
	InterestMatch InterestMatch `json:"interest_match"`
	Importance    Assessment    `json:"importance"`
	Timeliness    Assessment    `json:"timeliness"`
	InterestLevel Assessment    `json:"interest_level"`
}

// Decision is the evaluator verdict for one article.
type Decision struct {
	Keep       bool       `json:"keep"`
	Evaluation Evaluation `json:"evaluation"`
	Method     string     `json:"method"`
}

func unknownEvaluation(reason string) Evaluation {
	return Evaluation{
		InterestMatch: InterestMatch{Explanation: reason},
		Importance:    Assessment{Rating: Unknown, Explanation: reason},
		Timeliness:    Assessment{Rating: Unknown, Explanation: reason},
		InterestLevel: Assessment{Rating: Unknown, Explanation: reason},
	}
}

// ParseEvaluation reads the JSON object spanning the first '{' to the last
// '}' of a model response. A response without a readable object, or with a
// section missing, yields an all-unknown evaluation, which ShouldKeep
// discards.
func ParseEvaluation(response string) Evaluation {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end < start {
		return unknownEvaluation("no JSON object in evaluation response")
	}

	raw := []byte(response[start : end+1])

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return unknownEvaluation("unreadable evaluation response")
	}
	for _, key := range []string{"interest_match", "importance", "timeliness", "interest_level"} {
		if _, ok := sections[key]; !ok {
			return unknownEvaluation("evaluation response incomplete")
		}
	}

	var ev Evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		return unknownEvaluation("unreadable evaluation response")
	}
	for _, a := range []*Assessment{&ev.Importance, &ev.Timeliness, &ev.InterestLevel} {
		if a.Rating == "" {
			a.Rating = Unknown
		}
	}
	return ev
}

// ShouldKeep applies the keep/discard rules to an evaluation.
func ShouldKeep(ev Evaluation) bool {
	importance := ev.Importance.Rating
	timeliness := ev.Timeliness.Rating
	interest := ev.InterestLevel.Rating

	if !ev.InterestMatch.IsMatch && importance != VeryHigh && interest != VeryHigh {
		return false
	}
	if ev.InterestMatch.IsMatch && isLow(importance) && isLow(interest) {
		return false
	}
	if timeliness == VeryLow {
		return false
	}
	if importance == VeryLow && interest == VeryLow {
		return false
	}
	return true
}

func isLow(r Rating) bool {
	return r == Low || r == VeryLow
}
