package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay-labs/paystream/pkg/money"
	"github.com/flowpay-labs/paystream/pkg/observability"
	"github.com/flowpay-labs/paystream/pkg/receipts"
	"github.com/flowpay-labs/paystream/pkg/x402"
)

// Pay manufactures a proof for req and charges it to the agent's counters.
// Amounts are validated before a stream id is allocated, so a rejected
// requirement leaves every counter untouched.
func (a *Agent) Pay(ctx context.Context, req x402.Requirement) (x402.Proof, error) {
	return a.pay(ctx, req, "")
}

func (a *Agent) pay(ctx context.Context, req x402.Requirement, url string) (x402.Proof, error) {
	switch req.Mode {
	case x402.ModeStreaming:
		return a.openStream(ctx, req, url)
	default:
		return a.payPerRequest(ctx, req, url)
	}
}

func (a *Agent) openStream(ctx context.Context, req x402.Requirement, url string) (x402.Proof, error) {
	deposit := orDefault(req.MinDeposit, a.cfg.StreamDeposit)
	rate := orDefault(req.RatePerSecond, a.cfg.StreamRate)

	micro, err := money.ToMicro(deposit)
	if err != nil {
		return x402.Proof{}, fmt.Errorf("%w: deposit: %w", ErrInvalidAmount, err)
	}
	if _, err := money.ToMicro(rate); err != nil {
		return x402.Proof{}, fmt.Errorf("%w: rate: %w", ErrInvalidAmount, err)
	}

	streamID := a.nextStream.Add(1) - 1
	proof, err := x402.NewStreamingProof(streamID, deposit)
	if err != nil {
		return x402.Proof{}, err
	}

	a.stats.activeStreams.Add(1)
	a.stats.totalSpentMicro.Add(micro)

	a.logger.Info("payment stream opened",
		"stream_id", streamID,
		"recipient", req.Recipient,
		"rate_per_second", rate,
		"deposit", deposit,
	)
	a.charged(ctx, proof, req, url, micro)
	return proof, nil
}

func (a *Agent) payPerRequest(ctx context.Context, req x402.Requirement, url string) (x402.Proof, error) {
	amount := orDefault(req.Amount, a.cfg.PerRequestAmount)
	micro, err := money.ToMicro(amount)
	if err != nil {
		return x402.Proof{}, fmt.Errorf("%w: amount: %w", ErrInvalidAmount, err)
	}

	proof, err := x402.NewPerRequestProof(newTxRef(), amount)
	if err != nil {
		return x402.Proof{}, err
	}

	a.stats.totalSpentMicro.Add(micro)

	txRef, _ := proof.TxRef()
	a.logger.Info("per-request payment sent",
		"tx_ref", txRef,
		"recipient", req.Recipient,
		"amount", amount,
	)
	a.charged(ctx, proof, req, url, micro)
	return proof, nil
}

// charged reports a completed charge to metrics and the journal. Journal
// failures are logged and never change the payment outcome.
func (a *Agent) charged(ctx context.Context, proof x402.Proof, req x402.Requirement, url string, micro uint64) {
	a.obs.RecordPayment(ctx, string(proof.Mode()), micro)
	observability.AddSpanEvent(ctx, "payment.sent", observability.AttrPaymentMode.String(string(proof.Mode())))

	if a.recorder == nil {
		return
	}
	streamID, _ := proof.StreamID()
	txRef, _ := proof.TxRef()
	rec := receipts.Payment{
		ID:          uuid.New().String(),
		AgentID:     a.id,
		URL:         url,
		Recipient:   req.Recipient,
		Mode:        string(proof.Mode()),
		StreamID:    streamID,
		TxRef:       txRef,
		AmountPaid:  proof.AmountPaid(),
		AmountMicro: micro,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.recorder.RecordPayment(ctx, rec); err != nil {
		a.logger.Warn("failed to journal payment", "error", err, "mode", rec.Mode)
	}
}

// newTxRef synthesizes an opaque transaction reference: "0x" followed by the
// 32 hex digits of a random UUID.
func newTxRef() string {
	return "0x" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func orDefault(v *string, fallback string) string {
	if v != nil && strings.TrimSpace(*v) != "" {
		return strings.TrimSpace(*v)
	}
	return fallback
}
