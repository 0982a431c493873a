package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingNotifier) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestManager(n ...Notifier) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	m := NewManager(store,
		WithClock(func() time.Time { return fixedNow }),
		WithNotifiers(n...),
	)
	return m, store
}

func TestCreate_Classification(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		wantScore  int
		wantSev    Severity
		wantAction bool
	}{
		{
			name:       "compliance issue is always critical",
			req:        Request{Type: TypeComplianceIssue, Details: map[string]any{"type": "aml_manual_review"}},
			wantScore:  90,
			wantSev:    SeverityCritical,
			wantAction: true,
		},
		{
			name:       "small high-risk transaction",
			req:        Request{Type: TypeHighRiskTransaction, Amount: decimal.NewFromInt(20000)},
			wantScore:  60,
			wantSev:    SeverityHigh,
			wantAction: true,
		},
		{
			name:       "large high-risk transaction",
			req:        Request{Type: TypeHighRiskTransaction, Amount: decimal.NewFromInt(60000)},
			wantScore:  80,
			wantSev:    SeverityHigh,
			wantAction: true,
		},
		{
			name:      "unusual activity is a warning",
			req:       Request{Type: TypeUnusualActivity, Details: map[string]any{"type": "high_velocity"}},
			wantScore: 50,
			wantSev:   SeverityWarning,
		},
		{
			name:      "limit breach is info",
			req:       Request{Type: TypeLimitBreach},
			wantScore: 40,
			wantSev:   SeverityInfo,
		},
		{
			name:       "caller score above 80 is critical",
			req:        Request{Type: TypeLimitBreach, RiskScore: 85},
			wantScore:  85,
			wantSev:    SeverityCritical,
			wantAction: true,
		},
		{
			name:       "caller score above 60 is high",
			req:        Request{Type: TypeUnusualActivity, RiskScore: 65},
			wantScore:  65,
			wantSev:    SeverityHigh,
			wantAction: true,
		},
		{
			name:      "default score",
			req:       Request{Type: TypeMarketRisk},
			wantScore: 30,
			wantSev:   SeverityInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			tt.req.AccountID = "acct-1"

			a, err := m.Create(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, a.RiskScore)
			assert.Equal(t, tt.wantSev, a.Severity)
			assert.Equal(t, tt.wantAction, a.RequiresAction)
			assert.Equal(t, StatusOpen, a.Status)
			assert.Regexp(t, `^alert_\d+_[0-9a-f]{16}$`, a.ID)
		})
	}
}

func TestCreate_CriticalAutoEscalates(t *testing.T) {
	m, store := newTestManager()

	a, err := m.Create(context.Background(), Request{AccountID: "acct-1", Type: TypeComplianceIssue})
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Escalated)
	assert.Equal(t, DefaultEscalationQueue, stored.EscalatedTo)
	require.NotNil(t, stored.EscalatedAt)
	assert.Equal(t, fixedNow, *stored.EscalatedAt)
}

func TestCreate_TitlesAndDescriptions(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	a, err := m.Create(ctx, Request{
		AccountID: "acct-1",
		Type:      TypeHighRiskTransaction,
		Operation: "withdrawal",
		Amount:    decimal.RequireFromString("12500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "High Risk Transaction", a.Title)
	assert.Equal(t, "High risk withdrawal transaction of $12500.00", a.Description)

	a, err = m.Create(ctx, Request{
		AccountID: "acct-1",
		Type:      TypeLimitBreach,
		Details:   map[string]any{"limits": []string{"daily_trading_limit", "single_trade_size_limit"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Transaction Limit Exceeded", a.Title)
	assert.Equal(t, "User attempted to exceed daily_trading_limit, single_trade_size_limit limit", a.Description)

	a, err = m.Create(ctx, Request{AccountID: "acct-1", Type: TypeUnusualActivity, Details: map[string]any{"type": "high_velocity"}})
	require.NoError(t, err)
	assert.Equal(t, "Unusual high_velocity detected for user account", a.Description)
}

func TestCreate_RejectsUnknownType(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Create(context.Background(), Request{AccountID: "acct-1", Type: "phishing"})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestEscalate_RaisesSeverity(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	a, err := m.Create(ctx, Request{AccountID: "acct-1", Type: TypeLimitBreach})
	require.NoError(t, err)
	require.Equal(t, SeverityInfo, a.Severity)

	a, err = m.Escalate(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, a.Severity)
	assert.True(t, a.Escalated)
	assert.Equal(t, DefaultEscalationQueue, a.EscalatedTo)
	assert.True(t, a.RequiresAction)
}

func TestEscalate_KeepsCritical(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	a, err := m.Create(ctx, Request{AccountID: "acct-1", Type: TypeComplianceIssue})
	require.NoError(t, err)

	a, err = m.Escalate(ctx, a.ID, "compliance_officer")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "compliance_officer", a.EscalatedTo)
}

func TestLifecycle_TerminalStatesRejectTransitions(t *testing.T) {
	n := &recordingNotifier{}
	m, _ := newTestManager(n)
	ctx := context.Background()

	a, err := m.Create(ctx, Request{AccountID: "acct-1", Type: TypeUnusualActivity})
	require.NoError(t, err)

	a, err = m.Investigate(ctx, a.ID, "analyst-7")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, a.Status)
	assert.Equal(t, "analyst-7", a.AssignedTo)

	a, err = m.Resolve(ctx, a.ID, "analyst-7", "customer confirmed", []string{"contacted_user"})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, a.Status)
	assert.Equal(t, "analyst-7", a.ResolvedBy)
	assert.Equal(t, []string{"contacted_user"}, a.ActionsTaken)
	require.NotNil(t, a.ResolvedAt)

	_, err = m.Resolve(ctx, a.ID, "analyst-8", "again", nil)
	assert.ErrorIs(t, err, ErrAlertClosed)
	_, err = m.Escalate(ctx, a.ID, "")
	assert.ErrorIs(t, err, ErrAlertClosed)
	_, err = m.MarkFalsePositive(ctx, a.ID, "analyst-8", "")
	assert.ErrorIs(t, err, ErrAlertClosed)

	assert.Equal(t, []EventKind{EventCreated, EventInvestigating, EventResolved}, n.kinds())
}

func TestMarkFalsePositive(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	a, err := m.Create(ctx, Request{AccountID: "acct-1", Type: TypeUnusualActivity})
	require.NoError(t, err)

	a, err = m.MarkFalsePositive(ctx, a.ID, "analyst-1", "salary deposit")
	require.NoError(t, err)
	assert.Equal(t, StatusFalsePositive, a.Status)
	assert.True(t, a.Status.Terminal())
}

func TestMarkRead_ChecksOwnership(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	a, err := m.Create(ctx, Request{AccountID: "acct-1", Type: TypeLimitBreach})
	require.NoError(t, err)

	assert.ErrorIs(t, m.MarkRead(ctx, "acct-2", a.ID), ErrAlertNotFound)
	require.NoError(t, m.MarkRead(ctx, "acct-1", a.ID))

	stored, _ := store.Get(ctx, a.ID)
	assert.True(t, stored.UserNotified)
}

func TestNotifierFailureDoesNotFailCreate(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	m, _ := newTestManager(n)

	_, err := m.Create(context.Background(), Request{AccountID: "acct-1", Type: TypeLimitBreach})
	assert.NoError(t, err)
	assert.Len(t, n.kinds(), 1)
}

func TestTransition_UnknownAlert(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.Escalate(context.Background(), "alert_missing", "")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}
