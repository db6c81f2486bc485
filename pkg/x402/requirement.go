// Package x402 models the "payment required" challenge exchanged over HTTP:
// the requirement a provider advertises with a 402 response and the proof a
// client attaches when it retries.
package x402

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Header names carried on a 402 challenge and on the retried request.
const (
	HeaderPaymentRequired = "X-Payment-Required"
	HeaderMode            = "X-FlowPay-Mode"
	HeaderRate            = "X-FlowPay-Rate"
	HeaderRecipient       = "X-FlowPay-Recipient"
	HeaderMinDeposit      = "X-FlowPay-MinDeposit"
	HeaderAmount          = "X-FlowPay-Amount"
	HeaderToken           = "X-FlowPay-Token"
	HeaderNetwork         = "X-FlowPay-Network"
	HeaderDescription     = "X-FlowPay-Description"

	HeaderStream = "X-FlowPay-Stream"
	HeaderTxHash = "X-Payment-TxHash"

	// Aliases emitted by the JavaScript provider middleware.
	HeaderStreamAlias = "X-FlowPay-Stream-Id"
	HeaderTxHashAlias = "X-FlowPay-Tx-Hash"
)

// ErrUnparseableChallenge is returned when a 402 arrives without the marker
// or the recipient.
var ErrUnparseableChallenge = errors.New("x402: challenge received but unparseable")

// Mode selects how a requirement is paid.
type Mode string

const (
	ModePerRequest Mode = "per_request"
	ModeStreaming  Mode = "streaming"
)

// ParseMode maps a header value to a Mode. Only "streaming" and "stream"
// (any case) select streaming; everything else, including "", is per-request.
func ParseMode(v string) Mode {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "streaming") || strings.EqualFold(v, "stream") {
		return ModeStreaming
	}
	return ModePerRequest
}

// Metadata is the named challenge metadata, independent of transport.
// Keys are matched case-insensitively.
type Metadata map[string]string

// MetadataFromHeader flattens the first value of every header.
func MetadataFromHeader(h http.Header) Metadata {
	m := make(Metadata, len(h))
	for k, v := range h {
		if len(v) > 0 {
			m[http.CanonicalHeaderKey(k)] = v[0]
		}
	}
	return m
}

func (m Metadata) lookup(key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (m Metadata) optional(key string) *string {
	v, ok := m.lookup(key)
	if !ok {
		return nil
	}
	return &v
}

// Requirement is the parsed terms of a challenge. Pointer fields are absent
// when the provider did not send them.
type Requirement struct {
	Recipient     string  `json:"recipient"`
	Mode          Mode    `json:"mode"`
	Amount        *string `json:"amount,omitempty"`
	RatePerSecond *string `json:"rate_per_second,omitempty"`
	MinDeposit    *string `json:"min_deposit,omitempty"`
	Description   *string `json:"description,omitempty"`
	Network       *string `json:"network,omitempty"`
	Token         *string `json:"token,omitempty"`
}

// Parse returns the requirement described by m. It yields nothing unless the
// payment-required marker and a non-empty recipient are both present.
func Parse(m Metadata) (*Requirement, bool) {
	if _, ok := m.lookup(HeaderPaymentRequired); !ok {
		return nil, false
	}
	recipient, ok := m.lookup(HeaderRecipient)
	if !ok || strings.TrimSpace(recipient) == "" {
		return nil, false
	}
	mode, _ := m.lookup(HeaderMode)

	return &Requirement{
		Recipient:     recipient,
		Mode:          ParseMode(mode),
		Amount:        m.optional(HeaderAmount),
		RatePerSecond: m.optional(HeaderRate),
		MinDeposit:    m.optional(HeaderMinDeposit),
		Description:   m.optional(HeaderDescription),
		Network:       m.optional(HeaderNetwork),
		Token:         m.optional(HeaderToken),
	}, true
}

// FromResponse parses the requirement carried on an HTTP response.
func FromResponse(resp *http.Response) (*Requirement, bool) {
	if resp == nil {
		return nil, false
	}
	return Parse(MetadataFromHeader(resp.Header))
}

// Metadata renders the requirement back into challenge metadata.
func (r Requirement) Metadata() Metadata {
	m := Metadata{
		HeaderPaymentRequired: "true",
		HeaderRecipient:       r.Recipient,
		HeaderMode:            string(r.Mode),
	}
	set := func(key string, v *string) {
		if v != nil {
			m[key] = *v
		}
	}
	set(HeaderAmount, r.Amount)
	set(HeaderRate, r.RatePerSecond)
	set(HeaderMinDeposit, r.MinDeposit)
	set(HeaderDescription, r.Description)
	set(HeaderNetwork, r.Network)
	set(HeaderToken, r.Token)
	return m
}

// WriteHeaders sets the challenge headers on h.
func (r Requirement) WriteHeaders(h http.Header) {
	for k, v := range r.Metadata() {
		h.Set(k, v)
	}
}

// Display renders the requirement as an indented tree for log output.
func (r Requirement) Display() string {
	lines := []string{
		fmt.Sprintf("├─ Recipient: %s", r.Recipient),
		fmt.Sprintf("├─ Mode: %s", r.Mode),
	}
	if r.RatePerSecond != nil {
		lines = append(lines, fmt.Sprintf("├─ Rate: %s/second", *r.RatePerSecond))
	}
	if r.MinDeposit != nil {
		lines = append(lines, fmt.Sprintf("├─ Min Deposit: %s", *r.MinDeposit))
	}
	if r.Amount != nil {
		lines = append(lines, fmt.Sprintf("├─ Amount: %s", *r.Amount))
	}
	if r.Description != nil {
		lines = append(lines, fmt.Sprintf("└─ Description: %s", *r.Description))
	}
	return strings.Join(lines, "\n   ")
}

// String is a convenience for building optional fields.
func String(s string) *string { return &s }
