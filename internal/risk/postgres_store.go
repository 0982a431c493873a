package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists risk profiles in PostgreSQL. The full profile is a
// JSONB document; the indexed columns mirror it for queries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, accountID string) (*Profile, error) {
	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version FROM risk_profiles WHERE account_id = $1
	`, accountID).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk profile: %w", err)
	}
	return decodeProfile(data, version)
}

func (s *PostgresStore) Create(ctx context.Context, p *Profile) error {
	p.Version = 1
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal risk profile: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_profiles (account_id, risk_level, risk_score, version, next_review,
		                           is_restricted, is_monitored, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id) DO NOTHING
	`,
		p.AccountID, string(p.RiskLevel), p.RiskScore, p.Version, p.NextReview,
		p.Monitoring.IsRestricted, p.Monitoring.IsMonitored, data, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create risk profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileExists
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, p *Profile) error {
	next := *p
	next.Version = p.Version + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal risk profile: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE risk_profiles
		SET risk_level = $2, risk_score = $3, version = $4, next_review = $5,
		    is_restricted = $6, is_monitored = $7, data = $8, updated_at = $9
		WHERE account_id = $1 AND version = $10
	`,
		p.AccountID, string(p.RiskLevel), p.RiskScore, next.Version, p.NextReview,
		p.Monitoring.IsRestricted, p.Monitoring.IsMonitored, data, p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save risk profile: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM risk_profiles WHERE account_id = $1)`, p.AccountID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to save risk profile: %w", err)
		}
		if !exists {
			return ErrProfileNotFound
		}
		return ErrVersionConflict
	}
	p.Version = next.Version
	return nil
}

func (s *PostgresStore) ListDueForReview(ctx context.Context, t time.Time, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data, version FROM risk_profiles
		WHERE next_review <= $1
		ORDER BY next_review ASC
		LIMIT $2
	`, t, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles due for review: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Profile
	for rows.Next() {
		var (
			data    []byte
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan risk profile: %w", err)
		}
		p, err := decodeProfile(data, version)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// decodeProfile unmarshals a stored document. The version column wins over
// the copy inside the document.
func decodeProfile(data []byte, version int64) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	p.Version = version
	return &p, nil
}
