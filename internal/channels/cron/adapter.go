package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/starkbot/starkbot/internal/channels"
	"github.com/starkbot/starkbot/pkg/models"
)

// Config configures the cron channel adapter.
type Config struct {
	TickInterval time.Duration
	Logger       *slog.Logger
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Adapter is the cron channel: it has no upstream platform, instead polling
// a Store of cron_jobs rows and synthesizing a NormalizedMessage each time a
// job comes due. It implements InboundAdapter but not OutboundAdapter — a
// cron job's "reply" is whatever the dispatched session does with it, there
// is nothing to send a response back to.
type Adapter struct {
	store  Store
	logger *slog.Logger
	health *channels.BaseHealthAdapter

	tickInterval time.Duration
	now          func() time.Time

	messages chan *models.NormalizedMessage
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewAdapter creates a cron adapter backed by store. A nil store falls back
// to an empty in-memory Store (useful for tests and for running with no
// cron_jobs configured).
func NewAdapter(cfg Config, store Store) *Adapter {
	cfg.setDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	logger := cfg.Logger.With("channel", "cron")
	return &Adapter{
		store:        store,
		logger:       logger,
		health:       channels.NewBaseHealthAdapter(models.ChannelCron, logger),
		tickInterval: cfg.TickInterval,
		now:          time.Now,
		messages:     make(chan *models.NormalizedMessage, 100),
	}
}

// Type returns the channel type.
func (a *Adapter) Type() models.ChannelType {
	return models.ChannelCron
}

// Messages returns the channel of synthesized inbound messages.
func (a *Adapter) Messages() <-chan *models.NormalizedMessage {
	return a.messages
}

// Start begins polling the store for due jobs.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runDue(ctx)
			}
		}
	}()

	a.health.SetStatus(true, "")
	return nil
}

// Stop halts polling.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.health.SetStatus(false, "")
	close(a.messages)
	return nil
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	return a.health.Status()
}

// HealthCheck reports whether the adapter is actively polling.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	status := a.Status()
	return channels.HealthStatus{
		Healthy:   status.Connected,
		Message:   map[bool]string{true: "polling", false: "stopped"}[status.Connected],
		Latency:   time.Since(start),
		LastCheck: time.Now(),
	}
}

// Metrics returns the current metrics snapshot.
func (a *Adapter) Metrics() channels.MetricsSnapshot {
	return a.health.Metrics()
}

// RunOnce executes due jobs immediately; exposed primarily for tests but
// also usable for an operator-triggered "run now" action.
func (a *Adapter) RunOnce(ctx context.Context) int {
	return a.runDue(ctx)
}

func (a *Adapter) runDue(ctx context.Context) int {
	jobs, err := a.store.ListEnabled(ctx)
	if err != nil {
		a.logger.Warn("failed to list cron jobs", "error", err)
		return 0
	}

	now := a.now()
	fired := 0
	for _, job := range jobs {
		if job == nil || job.Status != StatusEnabled {
			continue
		}
		if job.NextRunAt.IsZero() || now.Before(job.NextRunAt) {
			continue
		}
		a.fire(ctx, job, now)
		fired++
	}
	return fired
}

func (a *Adapter) fire(ctx context.Context, job *Job, now time.Time) {
	msg := &models.NormalizedMessage{
		ChannelID:   job.ID,
		ChannelType: models.ChannelCron,
		ChatID:      job.ID,
		UserID:      "cron:" + job.ID,
		UserName:    job.Name,
		Text:        job.Message,
		MessageID:   uuid.NewString(),
		ReceivedAt:  now,
	}
	switch job.SessionMode {
	case "":
	case "new":
		msg.StartSafeMode = true
	default:
		msg.SafeModeSessionID = job.SessionMode
	}

	var runErr error
	select {
	case a.messages <- msg:
		a.health.RecordMessageReceived()
		channels.RecordActivity(string(channels.ChannelCron), job.ID, channels.DirectionInbound)
	default:
		runErr = fmt.Errorf("cron channel buffer full, dropping run for job %s", job.ID)
		a.logger.Warn("dropping cron run, message buffer full", "job_id", job.ID)
	}

	sched, schedErr := ParseSchedule(job.ScheduleType, job.ScheduleValue, job.Timezone)
	var next time.Time
	if schedErr == nil {
		n, ok, nextErr := sched.Next(now)
		if nextErr != nil {
			schedErr = nextErr
		} else if ok {
			next = n
		}
		// ok==false (e.g. an "at" schedule already fired) leaves next zero,
		// which RecordRun below treats as "don't run again".
	}
	if schedErr != nil && runErr == nil {
		runErr = schedErr
	}

	if err := a.store.RecordRun(ctx, job.ID, now, next, runErr); err != nil {
		a.logger.Warn("failed to record cron run", "job_id", job.ID, "error", err)
	}
}
