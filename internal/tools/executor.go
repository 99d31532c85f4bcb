package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/starkbot/starkbot/internal/tools/policy"
	"github.com/starkbot/starkbot/pkg/models"
)

// ExecutorConfig tunes the batch executor's concurrency.
type ExecutorConfig struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns sane defaults for the executor.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 8,
		DefaultTimeout: 30 * time.Second,
	}
}

// ExecutorMetrics tracks cumulative batch-execution counters.
type ExecutorMetrics struct {
	mu        sync.Mutex
	totalRuns int64
	timeouts  int64
	failures  int64
}

// ExecutorMetricsSnapshot is a point-in-time copy of ExecutorMetrics.
type ExecutorMetricsSnapshot struct {
	TotalRuns int64
	Timeouts  int64
	Failures  int64
}

func (m *ExecutorMetrics) recordRun()     { m.mu.Lock(); m.totalRuns++; m.mu.Unlock() }
func (m *ExecutorMetrics) recordTimeout() { m.mu.Lock(); m.timeouts++; m.mu.Unlock() }
func (m *ExecutorMetrics) recordFailure() { m.mu.Lock(); m.failures++; m.mu.Unlock() }

// Snapshot returns a copy of the current counters.
func (m *ExecutorMetrics) Snapshot() ExecutorMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ExecutorMetricsSnapshot{TotalRuns: m.totalRuns, Timeouts: m.timeouts, Failures: m.failures}
}

// Executor runs a batch of tool calls, at most MaxConcurrency at a time,
// preserving call order in its results and giving each call its own
// timeout so one hung tool cannot stall its siblings (§4.4).
type Executor struct {
	registry *Registry
	config   ExecutorConfig
	sem      chan struct{}
	metrics  *ExecutorMetrics
}

// NewExecutor creates an Executor bound to a Registry.
func NewExecutor(registry *Registry, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultExecutorConfig().MaxConcurrency
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultExecutorConfig().DefaultTimeout
	}
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
		metrics:  &ExecutorMetrics{},
	}
}

// Metrics returns a snapshot of cumulative execution counters.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	return e.metrics.Snapshot()
}

// ExecuteBatch runs every call in parallel (bounded by MaxConcurrency),
// each under its own deadline, and returns responses in the same order as
// calls. A call that does not finish before deadline yields
// success=false, content="timeout" rather than being cancelled outright;
// the failure of one call never cancels its siblings.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, tc *Context, p *policy.Policy, deadline time.Duration) []models.ToolResponse {
	if deadline <= 0 {
		deadline = e.config.DefaultTimeout
	}

	results := make([]models.ToolResponse, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, call := range calls {
		i, call := i, call
		go func() {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()
			results[i] = *e.executeOne(ctx, call, tc, p, deadline)
		}()
	}
	wg.Wait()

	return results
}

// executeOne runs a single call with panic recovery and a per-call
// timeout, racing the tool's own completion against the deadline and the
// parent context's cancellation.
func (e *Executor) executeOne(ctx context.Context, call models.ToolCall, tc *Context, p *policy.Policy, timeout time.Duration) *models.ToolResponse {
	e.metrics.recordRun()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan *models.ToolResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- &models.ToolResponse{
					CallID:  call.CallID,
					Success: false,
					Content: fmt.Sprintf("tool panicked: %v\n%s", r, debug.Stack()),
				}
			}
		}()
		resultCh <- e.registry.invoke(callCtx, call, tc, p)
	}()

	select {
	case res := <-resultCh:
		res.DurationMs = time.Since(start).Milliseconds()
		if !res.Success {
			e.metrics.recordFailure()
		}
		return res
	case <-callCtx.Done():
		e.metrics.recordTimeout()
		reason := "timeout"
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		return &models.ToolResponse{
			CallID:     call.CallID,
			Success:    false,
			Content:    reason,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
}
