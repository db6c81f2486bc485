// Package verdict turns free oracle text into an evaluator outcome. Parsing
// never fails: missing fields, extra keys, or text that is not JSON all
// degrade to RequestReview.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

// ErrNoJSON is returned by Extract when no JSON object is present.
var ErrNoJSON = errors.New("verdict: no JSON object in oracle response")

const (
	// DefaultConfidence is used when the oracle omits confidence.
	DefaultConfidence = 0.5
	// DefaultReason is used when the oracle omits a reason.
	DefaultReason = "No reason provided"
)

// Rules are the role-specific override rules. Exactly one of ScoreField or
// FlagField is normally set.
type Rules struct {
	// ScoreField names a numeric score; above Threshold forces Reject.
	ScoreField string `yaml:"score_field" json:"score_field,omitempty"`
	Threshold  float64 `yaml:"threshold" json:"threshold,omitempty"`
	// ReviewFraction forces RequestReview above ReviewFraction*Threshold.
	// Zero disables the review band.
	ReviewFraction float64 `yaml:"review_fraction" json:"review_fraction,omitempty"`

	// FlagField names a boolean; false forces Reject.
	FlagField string `yaml:"flag_field" json:"flag_field,omitempty"`
}

// Outcome is the parsed and overridden result.
type Outcome struct {
	Action     payment.Action
	Confidence float64
	Reason     string
	// Suggested is the oracle's own action before overrides.
	Suggested payment.Action
	Score     *float64
	Flag      *bool
}

// Extract pulls the first JSON object out of text. The whole text is tried
// first, then the span between the first '{' and the last '}', which covers
// code fences and leading prose.
func Extract(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return obj, nil
}

// ParseAction maps an oracle keyword to an action. Unknown or empty
// keywords map to RequestReview.
func ParseAction(s string) payment.Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return payment.ActionApprove
	case "reject", "rejected", "deny":
		return payment.ActionReject
	case "defer", "deferred":
		return payment.ActionDefer
	}
	return payment.ActionRequestReview
}

// Decide parses text and applies rules.
func Decide(text string, rules Rules) Outcome {
	obj, err := Extract(text)
	if err != nil {
		return Outcome{
			Action:    payment.ActionRequestReview,
			Suggested: payment.ActionRequestReview,
			Reason:    "Unparseable oracle response",
		}
	}

	out := Outcome{
		Confidence: DefaultConfidence,
		Reason:     DefaultReason,
	}
	if c, ok := number(obj["confidence"]); ok {
		out.Confidence = payment.ClampConfidence(c)
	}
	if r, ok := obj["reason"].(string); ok && strings.TrimSpace(r) != "" {
		out.Reason = r
	}
	if a, ok := obj["action"].(string); ok {
		out.Suggested = ParseAction(a)
	} else {
		out.Suggested = payment.ActionRequestReview
	}
	out.Action = out.Suggested

	switch {
	case rules.ScoreField != "":
		score, ok := number(obj[rules.ScoreField])
		if !ok {
			out.Action = payment.ActionRequestReview
			out.Reason = fmt.Sprintf("Missing %s: %s", rules.ScoreField, out.Reason)
			return out
		}
		out.Score = &score
		switch {
		case score > rules.Threshold:
			out.Action = payment.ActionReject
			out.Reason = fmt.Sprintf("%s %.2f exceeds threshold %.2f: %s", rules.ScoreField, score, rules.Threshold, out.Reason)
		case rules.ReviewFraction > 0 && score > rules.Threshold*rules.ReviewFraction:
			out.Action = payment.ActionRequestReview
			out.Reason = fmt.Sprintf("%s %.2f needs review: %s", rules.ScoreField, score, out.Reason)
		}
	case rules.FlagField != "":
		flag, ok := obj[rules.FlagField].(bool)
		if !ok {
			out.Action = payment.ActionRequestReview
			out.Reason = fmt.Sprintf("Missing %s: %s", rules.FlagField, out.Reason)
			return out
		}
		out.Flag = &flag
		if !flag {
			out.Action = payment.ActionReject
		}
	}
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
