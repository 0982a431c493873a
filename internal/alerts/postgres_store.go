package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, account_id, type, severity, status, title, description,
	details, trigger_event, risk_score, risk_factors, requires_action, assigned_to,
	escalated, escalated_at, escalated_to, resolved_at, resolved_by, resolution,
	actions_taken, user_notified, created_at, updated_at`

type jsonFields struct {
	details, trigger, factors, actions []byte
}

func marshalJSON(a *Alert) (jsonFields, error) {
	var f jsonFields
	var err error
	if f.details, err = json.Marshal(a.Details); err != nil {
		return f, fmt.Errorf("failed to marshal details: %w", err)
	}
	if f.trigger, err = json.Marshal(a.TriggerEvent); err != nil {
		return f, fmt.Errorf("failed to marshal trigger event: %w", err)
	}
	if f.factors, err = json.Marshal(a.RiskFactors); err != nil {
		return f, fmt.Errorf("failed to marshal risk factors: %w", err)
	}
	if f.actions, err = json.Marshal(a.ActionsTaken); err != nil {
		return f, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	f, err := marshalJSON(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`,
		a.ID, a.AccountID, string(a.Type), string(a.Severity), string(a.Status),
		a.Title, a.Description, f.details, f.trigger, a.RiskScore, f.factors,
		a.RequiresAction, nullString(a.AssignedTo), a.Escalated, a.EscalatedAt,
		nullString(a.EscalatedTo), a.ResolvedAt, nullString(a.ResolvedBy),
		nullString(a.Resolution), f.actions, a.UserNotified, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM risk_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

func (s *PostgresStore) Update(ctx context.Context, a *Alert) error {
	f, err := marshalJSON(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE risk_alerts SET
			severity = $2, status = $3, details = $4, requires_action = $5,
			assigned_to = $6, escalated = $7, escalated_at = $8, escalated_to = $9,
			resolved_at = $10, resolved_by = $11, resolution = $12,
			actions_taken = $13, user_notified = $14, updated_at = $15
		WHERE id = $1
	`,
		a.ID, string(a.Severity), string(a.Status), f.details, a.RequiresAction,
		nullString(a.AssignedTo), a.Escalated, a.EscalatedAt, nullString(a.EscalatedTo),
		a.ResolvedAt, nullString(a.ResolvedBy), nullString(a.Resolution),
		f.actions, a.UserNotified, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Alert, int, error) {
	f.Normalize()

	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("account_id", f.AccountID)
	add("status", string(f.Status))
	add("severity", string(f.Severity))
	add("type", string(f.Type))

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	if f.Keyset && f.After != nil {
		args = append(args, f.After.CreatedAt, f.After.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, f.FetchLimit(), f.Offset())
	query := `SELECT ` + alertColumns + ` FROM risk_alerts` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(sc scanner) (*Alert, error) {
	var (
		a                                   Alert
		typ, sev, status                    string
		details, trigger, factors, actions  []byte
		assignedTo, escalatedTo, resolvedBy sql.NullString
		resolution                          sql.NullString
		escalatedAt, resolvedAt             sql.NullTime
	)
	err := sc.Scan(
		&a.ID, &a.AccountID, &typ, &sev, &status, &a.Title, &a.Description,
		&details, &trigger, &a.RiskScore, &factors, &a.RequiresAction, &assignedTo,
		&a.Escalated, &escalatedAt, &escalatedTo, &resolvedAt, &resolvedBy, &resolution,
		&actions, &a.UserNotified, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = Type(typ)
	a.Severity = Severity(sev)
	a.Status = Status(status)
	a.AssignedTo = assignedTo.String
	a.EscalatedTo = escalatedTo.String
	a.ResolvedBy = resolvedBy.String
	a.Resolution = resolution.String
	a.EscalatedAt = timePtr(escalatedAt)
	a.ResolvedAt = timePtr(resolvedAt)

	_ = json.Unmarshal(details, &a.Details)
	_ = json.Unmarshal(factors, &a.RiskFactors)
	_ = json.Unmarshal(actions, &a.ActionsTaken)
	if len(trigger) > 0 && string(trigger) != "null" {
		var te TriggerEvent
		if err := json.Unmarshal(trigger, &te); err == nil {
			a.TriggerEvent = &te
		}
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
