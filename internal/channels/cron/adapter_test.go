package cron

import (
	"context"
	"testing"
	"time"

	"github.com/starkbot/starkbot/pkg/models"
)

func newDueJob(t *testing.T, id string, now time.Time) *Job {
	t.Helper()
	return &Job{
		ID:            id,
		Name:          "daily-standup",
		ScheduleType:  "every",
		ScheduleValue: "1h",
		Message:       "time for standup",
		Status:        StatusEnabled,
		NextRunAt:     now.Add(-time.Minute),
	}
}

func TestRunOnceFiresDueJob(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.Put(newDueJob(t, "job-1", now))

	a := NewAdapter(Config{TickInterval: time.Hour}, store)
	a.now = func() time.Time { return now }

	fired := a.RunOnce(context.Background())
	if fired != 1 {
		t.Fatalf("expected 1 fired job, got %d", fired)
	}

	select {
	case msg := <-a.Messages():
		if msg.ChannelType != models.ChannelCron {
			t.Fatalf("expected cron channel type, got %s", msg.ChannelType)
		}
		if msg.Text != "time for standup" || msg.ChatID != "job-1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatalf("expected a synthesized message")
	}

	job, ok := store.Get("job-1")
	if !ok {
		t.Fatalf("job missing from store")
	}
	if job.RunCount != 1 {
		t.Fatalf("expected run count 1, got %d", job.RunCount)
	}
	if !job.NextRunAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected next run in 1h, got %v", job.NextRunAt)
	}
}

func TestRunOnceSkipsNotYetDue(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	job := newDueJob(t, "job-2", now)
	job.NextRunAt = now.Add(time.Hour)
	store.Put(job)

	a := NewAdapter(Config{}, store)
	a.now = func() time.Time { return now }

	if fired := a.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("expected 0 fired jobs, got %d", fired)
	}
}

func TestRunOnceSkipsDisabled(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	job := newDueJob(t, "job-3", now)
	job.Status = StatusDisabled
	store.Put(job)

	a := NewAdapter(Config{}, store)
	a.now = func() time.Time { return now }

	if fired := a.RunOnce(context.Background()); fired != 0 {
		t.Fatalf("expected 0 fired jobs, got %d", fired)
	}
}

func TestFireSetsStartSafeModeForNewSessionMode(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	job := newDueJob(t, "job-4", now)
	job.SessionMode = "new"
	store.Put(job)

	a := NewAdapter(Config{}, store)
	a.now = func() time.Time { return now }
	a.RunOnce(context.Background())

	msg := <-a.Messages()
	if !msg.StartSafeMode {
		t.Fatalf("expected StartSafeMode to be set")
	}
}

func TestFireResumesExplicitSession(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	job := newDueJob(t, "job-5", now)
	job.SessionMode = "sess-123"
	store.Put(job)

	a := NewAdapter(Config{}, store)
	a.now = func() time.Time { return now }
	a.RunOnce(context.Background())

	msg := <-a.Messages()
	if msg.SafeModeSessionID != "sess-123" {
		t.Fatalf("expected resumed session id, got %q", msg.SafeModeSessionID)
	}
}

func TestFireOnScheduleErrorMarksErrored(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	job := newDueJob(t, "job-6", now)
	job.ScheduleType = "bogus"
	store.Put(job)

	a := NewAdapter(Config{}, store)
	a.now = func() time.Time { return now }
	a.RunOnce(context.Background())
	<-a.Messages()

	got, _ := store.Get("job-6")
	if got.Status != StatusErrored {
		t.Fatalf("expected errored status, got %s", got.Status)
	}
	if got.ErrorCount != 1 {
		t.Fatalf("expected error count 1, got %d", got.ErrorCount)
	}
}

func TestTypeAndMetrics(t *testing.T) {
	a := NewAdapter(Config{}, nil)
	if a.Type() != models.ChannelCron {
		t.Fatalf("expected cron type")
	}
	if a.Metrics().ChannelType != models.ChannelCron {
		t.Fatalf("expected metrics channel type cron")
	}
}

func TestStartStopHealth(t *testing.T) {
	a := NewAdapter(Config{TickInterval: 10 * time.Millisecond}, nil)
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.HealthCheck(ctx).Healthy {
		t.Fatalf("expected healthy after start")
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.HealthCheck(ctx).Healthy {
		t.Fatalf("expected unhealthy after stop")
	}
}
