package counter

import (
	"context"
	"testing"
	"time"
)

func TestMemoryIncrAndExpire(t *testing.T) {
	m := NewMemory()
	base := time.Unix(1000, 0)
	now := base
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		n, err := m.Incr(ctx, "ratelimit:auth")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != int64(i) {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
	if err := m.Expire(ctx, "ratelimit:auth", time.Minute); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	// Just before the deadline the counter survives.
	now = base.Add(59 * time.Second)
	if n, _ := m.Incr(ctx, "ratelimit:auth"); n != 4 {
		t.Fatalf("expected 4 within window, got %d", n)
	}

	// After the deadline the counter resets to a fresh window.
	now = base.Add(2 * time.Minute)
	if n, _ := m.Incr(ctx, "ratelimit:auth"); n != 1 {
		t.Fatalf("expected reset to 1 after expiry, got %d", n)
	}
}

func TestMemoryHashOps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.HIncrBy(ctx, MetricsByTypeKey, "login", 2)
	_ = m.HIncrBy(ctx, MetricsByTypeKey, "login", 1)
	_ = m.HIncrBy(ctx, MetricsByTypeKey, "logout", 1)

	if v, _ := m.HGet(ctx, MetricsByTypeKey, "login"); v != "3" {
		t.Fatalf("expected 3, got %q", v)
	}
	if v, _ := m.HGet(ctx, MetricsByTypeKey, "missing"); v != "" {
		t.Fatalf("expected empty for missing field, got %q", v)
	}
	all, _ := m.HGetAll(ctx, MetricsByTypeKey)
	if len(all) != 2 || all["logout"] != "1" {
		t.Fatalf("unexpected hash contents: %v", all)
	}
	if none, _ := m.HGetAll(ctx, "nope"); len(none) != 0 {
		t.Fatalf("expected empty map for missing key, got %v", none)
	}
}

func TestSnapshotReadsCounters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.HIncrBy(ctx, MetricsTotalKey, MetricsTotalField, 5)
	_ = m.HIncrBy(ctx, MetricsBySeverityKey, "high", 2)
	_ = m.HIncrBy(ctx, MetricsBySourceKey, "auth", 4)

	snap, err := Snapshot(ctx, m, true)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Total != 5 {
		t.Fatalf("expected total 5, got %d", snap.Total)
	}
	if snap.BySeverity["high"] != "2" {
		t.Fatalf("unexpected by-severity: %v", snap.BySeverity)
	}
	if snap.BySource["auth"] != "4" {
		t.Fatalf("unexpected by-source: %v", snap.BySource)
	}

	noSrc, err := Snapshot(ctx, m, false)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if noSrc.BySource != nil {
		t.Fatalf("expected no by-source map, got %v", noSrc.BySource)
	}
}
