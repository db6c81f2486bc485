package x402_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay-labs/paystream/pkg/x402"
)

func streamingChallenge() x402.Metadata {
	return x402.Metadata{
		x402.HeaderPaymentRequired: "true",
		x402.HeaderRecipient:       "0xprovider",
		x402.HeaderMode:            "Streaming",
		x402.HeaderRate:            "0.0001",
		x402.HeaderMinDeposit:      "1.00",
		x402.HeaderDescription:     "weather feed",
	}
}

func TestParseStreaming(t *testing.T) {
	req, ok := x402.Parse(streamingChallenge())
	require.True(t, ok)
	assert.Equal(t, "0xprovider", req.Recipient)
	assert.Equal(t, x402.ModeStreaming, req.Mode)
	require.NotNil(t, req.MinDeposit)
	assert.Equal(t, "1.00", *req.MinDeposit)
	assert.Nil(t, req.Amount)
	assert.Nil(t, req.Network)
}

func TestParseModeDefaults(t *testing.T) {
	cases := map[string]x402.Mode{
		"stream":      x402.ModeStreaming,
		"STREAMING":   x402.ModeStreaming,
		"per_request": x402.ModePerRequest,
		"flat":        x402.ModePerRequest,
		"":            x402.ModePerRequest,
	}
	for in, want := range cases {
		assert.Equal(t, want, x402.ParseMode(in), in)
	}

	m := x402.Metadata{x402.HeaderPaymentRequired: "true", x402.HeaderRecipient: "0xabc"}
	req, ok := x402.Parse(m)
	require.True(t, ok)
	assert.Equal(t, x402.ModePerRequest, req.Mode)
}

func TestParseRequiresMarkerAndRecipient(t *testing.T) {
	_, ok := x402.Parse(x402.Metadata{x402.HeaderRecipient: "0xabc"})
	assert.False(t, ok, "missing marker")

	_, ok = x402.Parse(x402.Metadata{x402.HeaderPaymentRequired: "true", x402.HeaderAmount: "0.01"})
	assert.False(t, ok, "missing recipient")

	_, ok = x402.Parse(x402.Metadata{x402.HeaderPaymentRequired: "true", x402.HeaderRecipient: "  "})
	assert.False(t, ok, "blank recipient")
}

func TestFromResponseIsCaseInsensitive(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusPaymentRequired, Header: http.Header{}}
	resp.Header.Set("x-payment-required", "true")
	resp.Header.Set("x-flowpay-recipient", "0xabc")
	resp.Header.Set("x-flowpay-amount", "0.005")

	req, ok := x402.FromResponse(resp)
	require.True(t, ok)
	require.NotNil(t, req.Amount)
	assert.Equal(t, "0.005", *req.Amount)

	_, ok = x402.FromResponse(nil)
	assert.False(t, ok)
}

func TestRequirementHeadersRoundTrip(t *testing.T) {
	orig, ok := x402.Parse(streamingChallenge())
	require.True(t, ok)

	h := http.Header{}
	orig.WriteHeaders(h)
	back, ok := x402.Parse(x402.MetadataFromHeader(h))
	require.True(t, ok)
	assert.Equal(t, orig, back)
}

func TestDisplay(t *testing.T) {
	req, _ := x402.Parse(streamingChallenge())
	out := req.Display()
	assert.Contains(t, out, "Recipient: 0xprovider")
	assert.Contains(t, out, "Rate: 0.0001/second")
	assert.Contains(t, out, "Description: weather feed")
	assert.NotContains(t, out, "Amount:")
}

func TestProofIsModeLocked(t *testing.T) {
	_, err := x402.NewStreamingProof(0, "1.00")
	require.ErrorIs(t, err, x402.ErrMissingStreamID)

	_, err = x402.NewPerRequestProof("", "0.001")
	require.ErrorIs(t, err, x402.ErrMissingTxRef)

	s, err := x402.NewStreamingProof(1000, "1.00")
	require.NoError(t, err)
	_, hasTx := s.TxRef()
	assert.False(t, hasTx)
	id, hasStream := s.StreamID()
	assert.True(t, hasStream)
	assert.Equal(t, uint64(1000), id)

	p, err := x402.NewPerRequestProof("0xfeed", "0.001")
	require.NoError(t, err)
	_, hasStream = p.StreamID()
	assert.False(t, hasStream)
}

func TestProofAttachAndRead(t *testing.T) {
	s, _ := x402.NewStreamingProof(1001, "1.00")
	r, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	s.Attach(r.Header)
	assert.Equal(t, "1001", r.Header.Get(x402.HeaderStream))
	assert.Empty(t, r.Header.Get(x402.HeaderTxHash))

	got, err := x402.ProofFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, x402.ModeStreaming, got.Mode())

	alias, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	alias.Header.Set("x-flowpay-tx-hash", "0xabc")
	got, err = x402.ProofFromRequest(alias)
	require.NoError(t, err)
	ref, ok := got.TxRef()
	require.True(t, ok)
	assert.Equal(t, "0xabc", ref)

	bare, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err = x402.ProofFromRequest(bare)
	require.ErrorIs(t, err, x402.ErrNoProof)

	bad, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	bad.Header.Set(x402.HeaderStream, "not-a-number")
	_, err = x402.ProofFromRequest(bad)
	require.Error(t, err)
}

func TestProofJSON(t *testing.T) {
	s, _ := x402.NewStreamingProof(1002, "1.00")
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"streaming","stream_id":1002,"amount_paid":"1.00"}`, string(b))

	var back x402.Proof
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)

	err = json.Unmarshal([]byte(`{"mode":"streaming","tx_hash":"0x1","amount_paid":"1"}`), &back)
	require.ErrorIs(t, err, x402.ErrMissingStreamID)
}

var modeLiterals = []string{"streaming", "Stream", "STREAMING", "per_request", "flat", ""}

func TestParseProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(recipient string, modeIdx int, amount string) x402.Metadata {
		return x402.Metadata{
			x402.HeaderPaymentRequired: "true",
			x402.HeaderRecipient:       recipient,
			x402.HeaderMode:            modeLiterals[modeIdx],
			x402.HeaderAmount:          amount,
		}
	}

	properties.Property("parsing the same metadata twice is structurally equal", prop.ForAll(
		func(recipient string, modeIdx int, amount string) bool {
			m := build(recipient, modeIdx, amount)
			a, okA := x402.Parse(m)
			b, okB := x402.Parse(m)
			if okA != okB {
				return false
			}
			return !okA || assert.ObjectsAreEqual(a, b)
		},
		gen.AlphaString(),
		gen.IntRange(0, len(modeLiterals)-1),
		gen.NumString(),
	))

	properties.Property("proof carried on retry metadata keeps the requirement mode", prop.ForAll(
		func(recipient string, modeIdx int, streamID uint64, tx string) bool {
			req, ok := x402.Parse(build("0x"+recipient, modeIdx, "0.001"))
			if !ok {
				return false
			}
			var proof x402.Proof
			var err error
			if req.Mode == x402.ModeStreaming {
				proof, err = x402.NewStreamingProof(streamID, "1.00")
			} else {
				proof, err = x402.NewPerRequestProof("0x"+tx, "0.001")
			}
			if err != nil {
				return false
			}
			back, err := x402.ProofFromMetadata(proof.Metadata())
			if err != nil || back.Mode() != req.Mode {
				return false
			}
			_, hasStream := back.StreamID()
			_, hasTx := back.TxRef()
			if req.Mode == x402.ModeStreaming {
				return hasStream && !hasTx
			}
			return hasTx && !hasStream
		},
		gen.AlphaString(),
		gen.IntRange(0, len(modeLiterals)-1),
		gen.UInt64Range(1, 1<<40),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
