package scheduler

import (
	"testing"
	"time"
)

func TestSchedule_ImmediateFiresOnceThenDefers(t *testing.T) {
	s := NewImmediateSchedule()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	should, next := s.Check(now, nil)
	if !should {
		t.Fatal("expected immediate schedule to fire with no last run")
	}
	if next == nil || !next.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("expected deferral to now+24h, got %v", next)
	}

	last := now
	should, _ = s.Check(now.Add(time.Hour), &last)
	if should {
		t.Fatal("expected immediate schedule not to re-fire within the deferral window")
	}
}

func TestSchedule_OnceFiresWhenDue(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewOnceSchedule(at)

	should, next := s.Check(at.Add(-time.Minute), nil)
	if should {
		t.Fatal("expected once schedule not to fire before At")
	}
	if next == nil || !next.Equal(at) {
		t.Fatalf("expected next run to equal At, got %v", next)
	}

	should, _ = s.Check(at, nil)
	if !should {
		t.Fatal("expected once schedule to fire when now >= At")
	}

	last := at
	should, _ = s.Check(at.Add(time.Hour), &last)
	if should {
		t.Fatal("expected once schedule never to re-fire after a recorded last run")
	}
}

func TestSchedule_IntervalFiresOnElapsed(t *testing.T) {
	s := NewIntervalSchedule(time.Hour)
	epoch := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	should, _ := s.Check(epoch.Add(30*time.Minute), &epoch)
	if should {
		t.Fatal("expected interval schedule not to fire before epoch+interval")
	}

	last := epoch
	should, next := s.Check(epoch.Add(90*time.Minute), &last)
	if !should {
		t.Fatal("expected interval schedule to fire once the interval has elapsed since last run")
	}
	if next == nil || !next.Equal(epoch.Add(90*time.Minute).Add(time.Hour)) {
		t.Fatalf("unexpected next run: %v", next)
	}
}

func TestSchedule_CronInvalidExpressionRejectedAtConstruction(t *testing.T) {
	if _, err := NewCronSchedule("not a cron expression"); err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
}

func TestSchedule_CronFiresOnDueInstant(t *testing.T) {
	s, err := NewCronSchedule("0 0 * * * *") // top of every hour
	if err != nil {
		t.Fatalf("new cron schedule: %v", err)
	}
	last := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC)

	should, next := s.Check(now, &last)
	if !should {
		t.Fatal("expected cron schedule to fire once the hourly instant has passed")
	}
	if next == nil {
		t.Fatal("expected a next run to be computed")
	}
}

func TestSchedule_CronDoesNotFireEarly(t *testing.T) {
	s, err := NewCronSchedule("0 0 * * * *")
	if err != nil {
		t.Fatalf("new cron schedule: %v", err)
	}
	last := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 1, 11, 30, 0, 0, time.UTC)

	should, _ := s.Check(now, &last)
	if should {
		t.Fatal("expected cron schedule not to fire before the next hourly instant")
	}
}
