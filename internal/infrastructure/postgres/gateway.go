package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

// Gateway implements contract.Gateway on PostgreSQL.
type Gateway struct {
	pool *pgxpool.Pool
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

func (g *Gateway) LoadSession(ctx context.Context, sessionID uuid.UUID) (*contract.Session, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT session_id, owner_id, contract_status, version, devices, paired_devices, started_at, last_activity_at,
		       review, approved_ceiling, approved_cost, signed_at, signed_by, integrity_hash
		FROM contract_sessions WHERE session_id=$1
	`, sessionID)
	return scanSession(row)
}

func (g *Gateway) SaveSession(ctx context.Context, s *contract.Session) error {
	var review []byte
	if s.Review != nil {
		b, err := json.Marshal(s.Review)
		if err != nil {
			return err
		}
		review = b
	}
	devices := s.Devices
	if devices == nil {
		devices = []string{}
	}
	paired := s.PairedDevices
	if paired == nil {
		paired = []string{}
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO contract_sessions
		(session_id, owner_id, contract_status, version, devices, paired_devices, started_at, last_activity_at,
		 review, approved_ceiling, approved_cost, signed_at, signed_by, integrity_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (session_id) DO UPDATE SET
			contract_status=EXCLUDED.contract_status,
			version=EXCLUDED.version,
			devices=EXCLUDED.devices,
			paired_devices=EXCLUDED.paired_devices,
			last_activity_at=EXCLUDED.last_activity_at,
			review=EXCLUDED.review,
			approved_ceiling=EXCLUDED.approved_ceiling,
			approved_cost=EXCLUDED.approved_cost,
			signed_at=EXCLUDED.signed_at,
			signed_by=EXCLUDED.signed_by,
			integrity_hash=EXCLUDED.integrity_hash
	`, s.SessionID, s.OwnerID, string(s.ContractStatus), s.Version, devices, paired, s.StartedAt, s.LastActivityAt,
		review, s.ApprovedCeiling, s.ApprovedCost, s.SignedAt, s.SignedBy, s.IntegrityHash)
	return err
}

func (g *Gateway) AppendMessage(ctx context.Context, sessionID uuid.UUID, m *contract.Message) error {
	var body []byte
	if len(m.Body) > 0 {
		body = m.Body
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO contract_messages (message_id, session_id, author, body, cost, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, m.MessageID, sessionID, m.Author, body, m.Cost, m.CreatedAt)
	return err
}

func (g *Gateway) LoadMessages(ctx context.Context, sessionID uuid.UUID) ([]*contract.Message, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT message_id, session_id, author, body, cost, created_at
		FROM contract_messages WHERE session_id=$1 ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*contract.Message, 0)
	for rows.Next() {
		var (
			m    contract.Message
			body []byte
		)
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.Author, &body, &m.Cost, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(body) > 0 {
			m.Body = json.RawMessage(body)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*contract.Session, error) {
	var (
		s        contract.Session
		status   string
		review   []byte
		signedAt *time.Time
	)
	err := row.Scan(&s.SessionID, &s.OwnerID, &status, &s.Version, &s.Devices, &s.PairedDevices, &s.StartedAt, &s.LastActivityAt,
		&review, &s.ApprovedCeiling, &s.ApprovedCost, &signedAt, &s.SignedBy, &s.IntegrityHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.ContractStatus = contract.Status(status)
	s.StartedAt = s.StartedAt.UTC()
	s.LastActivityAt = s.LastActivityAt.UTC()
	if signedAt != nil {
		t := signedAt.UTC()
		s.SignedAt = &t
	}
	if len(review) > 0 {
		var r contract.ReviewSummary
		if err := json.Unmarshal(review, &r); err != nil {
			return nil, err
		}
		r.ComputedAt = r.ComputedAt.UTC()
		s.Review = &r
	}
	if s.Devices == nil {
		s.Devices = []string{}
	}
	if len(s.PairedDevices) == 0 {
		s.PairedDevices = nil
	}
	return &s, nil
}
