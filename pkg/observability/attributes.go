package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrOperation = attribute.Key("paystream.operation")

	// Consensus attributes
	AttrRequestID   = attribute.Key("paystream.request.id")
	AttrAmount      = attribute.Key("paystream.request.amount")
	AttrUrgency     = attribute.Key("paystream.request.urgency")
	AttrEvaluators  = attribute.Key("paystream.consensus.evaluators")
	AttrFinalAction = attribute.Key("paystream.consensus.final_action")
	AttrScore       = attribute.Key("paystream.consensus.score")

	// Payment agent attributes
	AttrAgentID     = attribute.Key("paystream.agent.id")
	AttrURL         = attribute.Key("paystream.fetch.url")
	AttrPaymentMode = attribute.Key("paystream.payment.mode")
	AttrStatus      = attribute.Key("paystream.fetch.status")
)

// ConsensusOperation creates attributes for one consensus round.
func ConsensusOperation(requestID string, amount float64, urgency string, evaluators int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrAmount.Float64(amount),
		AttrUrgency.String(urgency),
		AttrEvaluators.Int(evaluators),
	}
}

// FetchOperation creates attributes for one challenge-retry call.
func FetchOperation(agentID, url string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgentID.String(agentID),
		AttrURL.String(url),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
