package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/clock"
	"github.com/classbridge/schoolops/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepCall struct {
	TenantID     string
	Actor        string
	SchoolID     string
	AcademicYear string
}

// fakeBilling implements the billing service with only SweepOverdue
// behavior; the scheduler touches nothing else.
type fakeBilling struct {
	billingdomain.Service

	mu     sync.Mutex
	calls  []sweepCall
	err    error
	report billingdomain.OverdueSweepReport
}

func (f *fakeBilling) SweepOverdue(ctx context.Context, schoolID, academicYear string) (billingdomain.OverdueSweepReport, error) {
	tenantID, _ := tenantctx.TenantID(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sweepCall{
		TenantID:     tenantID,
		Actor:        tenantctx.Actor(ctx),
		SchoolID:     schoolID,
		AcademicYear: academicYear,
	})
	return f.report, f.err
}

func (f *fakeBilling) snapshot() []sweepCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sweepCall(nil), f.calls...)
}

func newScheduler(t *testing.T, billing billingdomain.Service, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)),
		BillingSvc: billing,
		Config:     cfg,
	})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.NewFakeClock(time.Now())})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnce_SweepsEveryScope(t *testing.T) {
	billing := &fakeBilling{}
	s := newScheduler(t, billing, Config{
		Scopes: []Scope{
			{TenantID: "t1", SchoolID: "north", AcademicYear: "2026"},
			{TenantID: "t1", SchoolID: "south", AcademicYear: "2026"},
			{TenantID: "t2", SchoolID: "east", AcademicYear: "2026"},
		},
	})

	require.NoError(t, s.RunOnce(context.Background()))

	calls := billing.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, sweepCall{TenantID: "t1", Actor: tenantctx.SystemActor, SchoolID: "north", AcademicYear: "2026"}, calls[0])
	assert.Equal(t, "t2", calls[2].TenantID)
}

func TestRunOnce_ScopeFailureDoesNotStopOthers(t *testing.T) {
	billing := &fakeBilling{err: errors.New("store down")}
	s := newScheduler(t, billing, Config{
		Scopes: []Scope{
			{TenantID: "t1", SchoolID: "north", AcademicYear: "2026"},
			{TenantID: "t1", SchoolID: "south", AcademicYear: "2026"},
		},
	})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, billing.snapshot(), 2, "second scope still swept")
}

func TestRunOnce_TimeoutIsSoft(t *testing.T) {
	billing := &fakeBilling{err: context.DeadlineExceeded}
	s := newScheduler(t, billing, Config{
		Scopes: []Scope{{TenantID: "t1", SchoolID: "north", AcademicYear: "2026"}},
	})

	assert.NoError(t, s.RunOnce(context.Background()), "a timed-out sweep resumes next run")
}

func TestRunOnce_NoScopesIsNoop(t *testing.T) {
	billing := &fakeBilling{}
	s := newScheduler(t, billing, Config{})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, billing.snapshot())
}

func TestRunForever_StopsOnCancel(t *testing.T) {
	billing := &fakeBilling{}
	s := newScheduler(t, billing, Config{
		RunInterval: time.Hour,
		Scopes:      []Scope{{TenantID: "t1", SchoolID: "north", AcademicYear: "2026"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	// The first sweep fires immediately, before the first tick.
	require.Eventually(t, func() bool {
		return len(billing.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not stop on cancel")
	}
}

func TestParseScopes(t *testing.T) {
	scopes := ParseScopes([]string{
		"t1:north:2026",
		" t1 : south : 2026 ",
		"malformed",
		"t1::2026",
		"",
	})
	require.Len(t, scopes, 2)
	assert.Equal(t, Scope{TenantID: "t1", SchoolID: "north", AcademicYear: "2026"}, scopes[0])
	assert.Equal(t, Scope{TenantID: "t1", SchoolID: "south", AcademicYear: "2026"}, scopes[1])
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 24*time.Hour, cfg.RunInterval)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 100, cfg.BatchSize)

	cfg = Config{RunInterval: time.Minute, JobTimeout: time.Second, BatchSize: 5}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
}
