package oracle

import (
	"context"
	"strings"
	"sync"
)

// Scripted replies with canned text chosen by the first keyword found in the
// prompt's header line. Request fields further down the prompt never select a
// reply. It backs the offline demo and tests.
type Scripted struct {
	mu       sync.Mutex
	replies  []scriptedReply
	fallback string
	calls    int
}

type scriptedReply struct {
	keyword string
	text    string
	err     error
}

// NewScripted returns a client whose unmatched prompts yield fallback. An
// empty fallback makes unmatched prompts fail with ErrEmptyResponse.
func NewScripted(fallback string) *Scripted {
	return &Scripted{fallback: fallback}
}

// On registers a reply for prompts whose header line contains keyword
// (case-insensitive). Earlier registrations win.
func (s *Scripted) On(keyword, reply string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, scriptedReply{keyword: strings.ToLower(keyword), text: reply})
	return s
}

// Fail registers a failure for prompts whose header line contains keyword.
func (s *Scripted) Fail(keyword string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, scriptedReply{keyword: strings.ToLower(keyword), err: err})
	return s
}

// Calls is the number of Generate calls served.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Kind: KindTransport, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	header := strings.ToLower(headerLine(prompt))
	for _, r := range s.replies {
		if strings.Contains(header, r.keyword) {
			if r.err != nil {
				return "", r.err
			}
			return r.text, nil
		}
	}
	if s.fallback == "" {
		return "", &Error{Kind: KindInvalidResponse, Err: ErrEmptyResponse}
	}
	return s.fallback, nil
}

// headerLine is the first non-blank line of prompt.
func headerLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// Demo returns the scripted oracle used when no API key is configured. It
// answers each evaluator role with a plausible verdict and the budget gate
// with YES.
func Demo() *Scripted {
	return NewScripted(`{"action": "review", "confidence": 0.5, "reason": "No scripted answer"}`).
		On("risk assessment ai agent", `{"risk_score": 0.2, "action": "approve", "confidence": 0.85, "reason": "Known counterparty, amount within normal range"}`).
		On("compliance officer ai agent", `{"compliant": true, "action": "approve", "confidence": 0.9, "reason": "No sanctions or KYC concerns"}`).
		On("treasury manager ai agent", `{"can_fund": true, "action": "approve", "confidence": 0.8, "reason": "Within daily limit"}`).
		On("fraud detection ai agent", `{"fraud_score": 0.1, "action": "approve", "confidence": 0.8, "reason": "No fraud indicators"}`).
		On("you are an ai payment agent", "YES")
}
