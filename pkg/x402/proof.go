package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrMissingStreamID is returned when building a streaming proof without a stream.
	ErrMissingStreamID = errors.New("x402: streaming proof requires a stream id")
	// ErrMissingTxRef is returned when building a per-request proof without a transaction reference.
	ErrMissingTxRef = errors.New("x402: per-request proof requires a transaction reference")
	// ErrNoProof is returned when a request carries no recognisable proof.
	ErrNoProof = errors.New("x402: no payment proof attached")
)

// Proof is mode-specific evidence of payment. The zero value is not a valid
// proof; use NewStreamingProof or NewPerRequestProof.
type Proof struct {
	mode       Mode
	streamID   uint64
	txRef      string
	amountPaid string
}

// NewStreamingProof builds a proof for a deposited stream.
func NewStreamingProof(streamID uint64, deposit string) (Proof, error) {
	if streamID == 0 {
		return Proof{}, ErrMissingStreamID
	}
	return Proof{mode: ModeStreaming, streamID: streamID, amountPaid: deposit}, nil
}

// NewPerRequestProof builds a proof for a single flat payment.
func NewPerRequestProof(txRef, amount string) (Proof, error) {
	if strings.TrimSpace(txRef) == "" {
		return Proof{}, ErrMissingTxRef
	}
	return Proof{mode: ModePerRequest, txRef: txRef, amountPaid: amount}, nil
}

func (p Proof) Mode() Mode { return p.mode }

// AmountPaid is the deposit for streaming proofs and the flat amount otherwise.
func (p Proof) AmountPaid() string { return p.amountPaid }

// StreamID is only present on streaming proofs.
func (p Proof) StreamID() (uint64, bool) {
	return p.streamID, p.mode == ModeStreaming
}

// TxRef is only present on per-request proofs.
func (p Proof) TxRef() (string, bool) {
	return p.txRef, p.mode == ModePerRequest
}

// Metadata is the retry metadata for the proof: the stream id for
// streaming, the transaction reference for per-request.
func (p Proof) Metadata() Metadata {
	switch p.mode {
	case ModeStreaming:
		return Metadata{HeaderStream: strconv.FormatUint(p.streamID, 10)}
	case ModePerRequest:
		return Metadata{HeaderTxHash: p.txRef}
	}
	return Metadata{}
}

// Attach sets the proof headers on an outgoing request.
func (p Proof) Attach(h http.Header) {
	for k, v := range p.Metadata() {
		h.Set(k, v)
	}
}

// ProofFromMetadata reconstructs a proof from retry metadata. The amount is
// not carried on the wire and is left empty. A stream id takes precedence
// when both are present.
func ProofFromMetadata(m Metadata) (Proof, error) {
	for _, key := range []string{HeaderStream, HeaderStreamAlias} {
		if v, ok := m.lookup(key); ok && strings.TrimSpace(v) != "" {
			id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return Proof{}, fmt.Errorf("x402: invalid stream id %q: %w", v, err)
			}
			return NewStreamingProof(id, "")
		}
	}
	for _, key := range []string{HeaderTxHash, HeaderTxHashAlias} {
		if v, ok := m.lookup(key); ok && strings.TrimSpace(v) != "" {
			return NewPerRequestProof(strings.TrimSpace(v), "")
		}
	}
	return Proof{}, ErrNoProof
}

// ProofFromRequest reads the proof attached to an incoming request.
func ProofFromRequest(r *http.Request) (Proof, error) {
	return ProofFromMetadata(MetadataFromHeader(r.Header))
}

type proofJSON struct {
	Mode       Mode    `json:"mode"`
	StreamID   *uint64 `json:"stream_id,omitempty"`
	TxHash     *string `json:"tx_hash,omitempty"`
	AmountPaid string  `json:"amount_paid"`
}

func (p Proof) MarshalJSON() ([]byte, error) {
	out := proofJSON{Mode: p.mode, AmountPaid: p.amountPaid}
	switch p.mode {
	case ModeStreaming:
		id := p.streamID
		out.StreamID = &id
	case ModePerRequest:
		ref := p.txRef
		out.TxHash = &ref
	}
	return json.Marshal(out)
}

func (p *Proof) UnmarshalJSON(b []byte) error {
	var in proofJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	var (
		parsed Proof
		err    error
	)
	switch in.Mode {
	case ModeStreaming:
		if in.StreamID == nil || in.TxHash != nil {
			return ErrMissingStreamID
		}
		parsed, err = NewStreamingProof(*in.StreamID, in.AmountPaid)
	case ModePerRequest:
		if in.TxHash == nil || in.StreamID != nil {
			return ErrMissingTxRef
		}
		parsed, err = NewPerRequestProof(*in.TxHash, in.AmountPaid)
	default:
		return fmt.Errorf("x402: unknown proof mode %q", in.Mode)
	}
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
