package ai

import (
	"encoding/json"
	"strings"
)

type Rating string

const (
	VeryLow  Rating = "VERY_LOW"
	Low      Rating = "LOW"
	Medium   Rating = "MEDIUM"
	High     Rating = "HIGH"
	VeryHigh Rating = "VERY_HIGH"
	Unknown  Rating = "UNKNOWN"
)

var ratingAliases = map[string]Rating{
	"VERY_LOW":  VeryLow,
	"VERY LOW":  VeryLow,
	"LOW":       Low,
	"MEDIUM":    Medium,
	"HIGH":      High,
	"VERY_HIGH": VeryHigh,
	"VERY HIGH": VeryHigh,
	"UNKNOWN":   Unknown,
	"极低":        VeryLow,
	"低":         Low,
	"中":         Medium,
	"高":         High,
	"极高":        VeryHigh,
	"未知":        Unknown,
}

// ParseRating maps a model's rating token to a Rating. Anything it does
// not recognise is Unknown.
func ParseRating(s string) Rating {
	if r, ok := ratingAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return r
	}
	return Unknown
}

// Score maps VERY_LOW..VERY_HIGH to 1..5; Unknown and unparseable values
// score as MEDIUM.
func (r Rating) Score() int {
	switch r {
	case VeryLow:
		return 1
	case Low:
		return 2
	case High:
		return 4
	case VeryHigh:
		return 5
	default:
		return 3
	}
}

func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*r = Unknown
		return nil
	}
	*r = ParseRating(s)
	return nil
}
