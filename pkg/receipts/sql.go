package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowpay-labs/paystream/pkg/payment"
)

// dialect captures the differences between the SQLite and PostgreSQL
// journals.
type dialect struct {
	name       string
	schema     []string
	bind       func(n int) string
	timeValue  func(t time.Time) any
	decisionTb string
	paymentTb  string
}

// SQLStore is the journal over database/sql.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("receipts: %s migrate: %w", s.d.name, err)
		}
	}
	return nil
}

// placeholders renders n bind parameters for the dialect.
func (s *SQLStore) placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.d.bind(i + 1)
	}
	return strings.Join(ps, ", ")
}

func (s *SQLStore) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	body, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("receipts: marshal decision: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (request_id, from_addr, to_addr, amount, final_action, consensus_score, summary, decision, recorded_at) VALUES (%s)`,
		s.d.decisionTb, s.placeholders(9))
	_, err = s.db.ExecContext(ctx, query,
		rec.RequestID, rec.From, rec.To, rec.Amount, string(rec.FinalAction), rec.ConsensusScore, rec.Summary, string(body), s.d.timeValue(rec.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("receipts: insert decision: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordPayment(ctx context.Context, p Payment) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, agent_id, url, recipient, mode, stream_id, tx_ref, amount_paid, amount_micro, created_at) VALUES (%s)`,
		s.d.paymentTb, s.placeholders(10))
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.AgentID, p.URL, p.Recipient, p.Mode, int64(p.StreamID), p.TxRef, p.AmountPaid, int64(p.AmountMicro), s.d.timeValue(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("receipts: insert payment: %w", err)
	}
	return nil
}

const decisionColumns = "request_id, from_addr, to_addr, amount, final_action, consensus_score, summary, decision, recorded_at"

func (s *SQLStore) GetDecision(ctx context.Context, requestID string) (*DecisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = %s ORDER BY seq DESC LIMIT 1`,
		decisionColumns, s.d.decisionTb, s.d.bind(1))
	rec, err := scanDecision(s.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY seq DESC LIMIT %s`,
		decisionColumns, s.d.decisionTb, s.d.bind(1))
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("receipts: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []DecisionRecord{}
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListPayments(ctx context.Context, limit int) ([]Payment, error) {
	query := fmt.Sprintf(`SELECT id, agent_id, url, recipient, mode, stream_id, tx_ref, amount_paid, amount_micro, created_at FROM %s ORDER BY seq DESC LIMIT %s`,
		s.d.paymentTb, s.d.bind(1))
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("receipts: list payments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Payment{}
	for rows.Next() {
		var (
			p               Payment
			streamID, micro int64
			created         scanTime
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.URL, &p.Recipient, &p.Mode, &streamID, &p.TxRef, &p.AmountPaid, &micro, &created); err != nil {
			return nil, fmt.Errorf("receipts: scan payment: %w", err)
		}
		p.StreamID = uint64(streamID)
		p.AmountMicro = uint64(micro)
		p.CreatedAt = created.Time
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*DecisionRecord, error) {
	var (
		rec      DecisionRecord
		action   string
		body     string
		recorded scanTime
	)
	if err := row.Scan(&rec.RequestID, &rec.From, &rec.To, &rec.Amount, &action, &rec.ConsensusScore, &rec.Summary, &body, &recorded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("receipts: scan decision: %w", err)
	}
	rec.FinalAction = payment.Action(action)
	rec.RecordedAt = recorded.Time
	if err := json.Unmarshal([]byte(body), &rec.Decision); err != nil {
		return nil, fmt.Errorf("receipts: decode decision: %w", err)
	}
	return &rec, nil
}

// scanTime accepts the RFC 3339 text SQLite hands back as well as the
// time.Time PostgreSQL does.
type scanTime struct {
	time.Time
}

func (t *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("receipts: unsupported time value %T", src)
	}
	return nil
}

func (t *scanTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("receipts: parse time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
