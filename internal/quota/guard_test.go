package quota

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/finsight/internal/storage"
)

func newTestGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewGuard(store.DB(), cfg)
}

func TestGuard_AllowsUpToSessionLimit(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 3, OriginDailyLimit: 100})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("query %d denied, want allowed", i)
		}
		if d.SessionCount != i {
			t.Errorf("query %d: SessionCount = %d, want %d", i, d.SessionCount, i)
		}
	}

	d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4")
	if d.Allowed {
		t.Fatal("query over the limit was allowed")
	}
	if d.LimitType != LimitSession {
		t.Errorf("LimitType = %q, want %q", d.LimitType, LimitSession)
	}
	if d.SessionCount != 3 {
		t.Errorf("SessionCount = %d, want 3", d.SessionCount)
	}
}

func TestGuard_OtherSessionUnaffected(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 1, OriginDailyLimit: 100})
	ctx := context.Background()

	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); !d.Allowed {
		t.Fatal("first query denied")
	}
	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); d.Allowed {
		t.Fatal("s1 over limit but allowed")
	}
	if d := g.CheckAndIncrement(ctx, "s2", "5.6.7.8"); !d.Allowed {
		t.Fatal("unrelated session denied")
	}
}

func TestGuard_OriginLimitSpansSessions(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 100, OriginDailyLimit: 2})
	ctx := context.Background()

	g.CheckAndIncrement(ctx, "s1", "1.2.3.4")
	g.CheckAndIncrement(ctx, "s2", "1.2.3.4")

	d := g.CheckAndIncrement(ctx, "s3", "1.2.3.4")
	if d.Allowed {
		t.Fatal("origin over limit but allowed")
	}
	if d.LimitType != LimitOrigin {
		t.Errorf("LimitType = %q, want %q", d.LimitType, LimitOrigin)
	}

	// A different origin is unaffected.
	if d := g.CheckAndIncrement(ctx, "s4", "9.9.9.9"); !d.Allowed {
		t.Fatal("unrelated origin denied")
	}
}

func TestGuard_CountersResetAtMidnightUTC(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 1, OriginDailyLimit: 100})
	ctx := context.Background()

	day1 := time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day1 }

	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); !d.Allowed {
		t.Fatal("first query denied")
	}
	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); d.Allowed {
		t.Fatal("over limit but allowed")
	}

	g.now = func() time.Time { return day1.Add(2 * time.Hour) } // next UTC day
	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); !d.Allowed {
		t.Fatal("fresh day but denied")
	}
}

func TestGuard_FailOpenOnStorageError(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	g := NewGuard(store.DB(), Config{SessionDailyLimit: 1, OriginDailyLimit: 1})
	store.Close() // every subsequent query errors

	d := g.CheckAndIncrement(context.Background(), "s1", "1.2.3.4")
	if !d.Allowed {
		t.Fatal("storage failure should fail open")
	}
}

func TestGuard_Usage(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 30, OriginDailyLimit: 1000})
	ctx := context.Background()

	u := g.Usage(ctx, "s1")
	if u.QueriesToday != 0 || u.QueriesRemaining != 30 || u.DailyLimit != 30 {
		t.Errorf("fresh usage = %+v", u)
	}
	if u.LastQueryAt != nil {
		t.Error("fresh usage should have no last query time")
	}

	g.CheckAndIncrement(ctx, "s1", "1.2.3.4")
	g.CheckAndIncrement(ctx, "s1", "1.2.3.4")

	u = g.Usage(ctx, "s1")
	if u.QueriesToday != 2 || u.QueriesRemaining != 28 {
		t.Errorf("usage after 2 queries = %+v", u)
	}
	if u.LastQueryAt == nil {
		t.Error("expected last query time to be recorded")
	}
}

func TestGuard_ResetSession(t *testing.T) {
	g := newTestGuard(t, Config{SessionDailyLimit: 1, OriginDailyLimit: 100})
	ctx := context.Background()

	g.CheckAndIncrement(ctx, "s1", "1.2.3.4")
	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); d.Allowed {
		t.Fatal("over limit but allowed")
	}

	if err := g.ResetSession(ctx, "s1"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if d := g.CheckAndIncrement(ctx, "s1", "1.2.3.4"); !d.Allowed {
		t.Fatal("denied after reset")
	}
}

func TestNewGuard_AppliesDefaults(t *testing.T) {
	g := newTestGuard(t, Config{})
	if g.cfg.SessionDailyLimit != DefaultSessionDailyLimit {
		t.Errorf("SessionDailyLimit = %d, want %d", g.cfg.SessionDailyLimit, DefaultSessionDailyLimit)
	}
	if g.cfg.OriginDailyLimit != DefaultOriginDailyLimit {
		t.Errorf("OriginDailyLimit = %d, want %d", g.cfg.OriginDailyLimit, DefaultOriginDailyLimit)
	}
}
