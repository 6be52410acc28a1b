package ai

import (
	"context"
	"testing"
)

func TestParseRating(t *testing.T) {
	tests := []struct {
		input    string
		expected Rating
		score    int
	}{
		{"VERY_LOW", VeryLow, 1},
		{"low", Low, 2},
		{" Medium ", Medium, 3},
		{"HIGH", High, 4},
		{"very high", VeryHigh, 5},
		{"极低", VeryLow, 1},
		{"中", Medium, 3},
		{"极高", VeryHigh, 5},
		{"未知", Unknown, 3},
		{"banana", Unknown, 3},
		{"", Unknown, 3},
	}

	for _, tt := range tests {
		got := ParseRating(tt.input)
		if got != tt.expected {
			t.Errorf("ParseRating(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
		if got.Score() != tt.score {
			t.Errorf("Score(%s): expected %d, got %d", got, tt.score, got.Score())
		}
	}
}

func evaluation(match bool, importance, timeliness, interest Rating) Evaluation {
	return Evaluation{
		InterestMatch: InterestMatch{IsMatch: match},
		Importance:    Assessment{Rating: importance},
		Timeliness:    Assessment{Rating: timeliness},
		InterestLevel: Assessment{Rating: interest},
	}
}

func TestShouldKeep(t *testing.T) {
	tests := []struct {
		name     string
		ev       Evaluation
		expected bool
	}{
		{"no match, ordinary item", evaluation(false, High, High, High), false},
		{"no match, very important", evaluation(false, VeryHigh, Medium, Low), true},
		{"no match, very interesting", evaluation(false, Low, Medium, VeryHigh), true},
		{"match, low importance and interest", evaluation(true, Low, High, VeryLow), false},
		{"match, low importance but interesting", evaluation(true, Low, High, Medium), true},
		{"match, outdated", evaluation(true, High, VeryLow, High), false},
		{"match, medium everything", evaluation(true, Medium, Medium, Medium), true},
		{"match, unknown ratings", evaluation(true, Unknown, Unknown, Unknown), true},
		{"no match, unknown ratings", evaluation(false, Unknown, Unknown, Unknown), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldKeep(tt.ev); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseEvaluation(t *testing.T) {
	response := "Sure, here it is:\n```json\n" +
		`{"interest_match": {"is_match": true, "matched_tags": ["go"], "explanation": "about go"},
		  "importance": {"rating": "高", "explanation": "x"},
		  "timeliness": {"rating": "VERY_HIGH", "explanation": "x"},
		  "interest_level": {"rating": "medium", "explanation": "x"}}` +
		"\n```"

	ev := ParseEvaluation(response)
	if !ev.InterestMatch.IsMatch || len(ev.InterestMatch.MatchedTags) != 1 {
		t.Errorf("Unexpected interest match: %+v", ev.InterestMatch)
	}
	if ev.Importance.Rating != High || ev.Timeliness.Rating != VeryHigh || ev.InterestLevel.Rating != Medium {
		t.Errorf("Unexpected ratings: %s %s %s", ev.Importance.Rating, ev.Timeliness.Rating, ev.InterestLevel.Rating)
	}
}

func TestParseEvaluation_MissingSections(t *testing.T) {
	ev := ParseEvaluation(`{"importance": {"rating": "HIGH"}}`)
	if ev.InterestMatch.IsMatch {
		t.Error("Expected no interest match for incomplete response")
	}
	if ev.Importance.Rating != Unknown || ev.Timeliness.Rating != Unknown || ev.InterestLevel.Rating != Unknown {
		t.Errorf("Expected all unknown ratings, got %+v", ev)
	}
}

func TestParseEvaluation_UnreadableIsUnknown(t *testing.T) {
	inputs := []string{"", "Sorry, I cannot rate this item.", "} backwards {", `{"interest_match": }`}
	for _, input := range inputs {
		ev := ParseEvaluation(input)
		if ev.Importance.Rating != Unknown || ev.Timeliness.Rating != Unknown || ev.InterestLevel.Rating != Unknown {
			t.Errorf("Expected all unknown ratings for %q, got %+v", input, ev)
		}
		if ShouldKeep(ev) {
			t.Errorf("Expected unreadable response %q to be discarded", input)
		}
	}
}

func TestRuleEvaluator(t *testing.T) {
	evaluator := NewRuleEvaluator()

	d, err := evaluator.Evaluate(context.Background(), Article{Title: "x", Labels: []string{"go"}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !d.Keep || d.Method != MethodRules {
		t.Errorf("Expected labelled item to be kept by rules, got %+v", d)
	}
	if d.Evaluation.Importance.Rating != High || d.Evaluation.InterestLevel.Rating != High {
		t.Errorf("Expected HIGH ratings for match, got %+v", d.Evaluation)
	}

	d, _ = evaluator.Evaluate(context.Background(), Article{Title: "y"})
	if d.Keep {
		t.Error("Expected unlabelled item to be discarded by rules")
	}
	if d.Evaluation.Timeliness.Rating != High {
		t.Errorf("Expected HIGH timeliness, got %s", d.Evaluation.Timeliness.Rating)
	}
}
