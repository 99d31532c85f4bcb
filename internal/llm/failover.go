package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FailoverConfig tunes the fallback list's circuit breaker, grounded on the
// teacher's FailoverOrchestrator (internal/agent/failover.go).
type FailoverConfig struct {
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig returns sane defaults.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{CircuitBreakerThreshold: 3, CircuitBreakerTimeout: 30 * time.Second}
}

type clientState struct {
	failures    int
	circuitOpen bool
	openedAt    time.Time
}

func (s *clientState) available(cfg FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.openedAt) > cfg.CircuitBreakerTimeout
}

// FallbackList holds an ordered list of ModelClients, the credential/
// provider rotation §4.1 calls for on auth or rate-limit failure: each
// Generate call tries clients in order, skipping ones whose circuit is
// open, and opens a client's circuit after CircuitBreakerThreshold
// consecutive ShouldRotate failures.
type FallbackList struct {
	mu      sync.Mutex
	clients []ModelClient
	states  map[string]*clientState
	config  FailoverConfig
}

// NewFallbackList builds a fallback list in priority order.
func NewFallbackList(config FailoverConfig, clients ...ModelClient) *FallbackList {
	states := make(map[string]*clientState, len(clients))
	for _, c := range clients {
		states[c.Name()] = &clientState{}
	}
	return &FallbackList{clients: clients, states: states, config: config}
}

// Generate tries each client in order until one succeeds or all have been
// exhausted, recording circuit-breaker state per client as it goes.
func (f *FallbackList) Generate(ctx context.Context, conv *Conversation, tools []ToolSchema, opts GenerateOptions) (*ModelResponse, error) {
	var lastErr error
	for _, client := range f.clients {
		f.mu.Lock()
		st := f.states[client.Name()]
		available := st.available(f.config)
		f.mu.Unlock()
		if !available {
			continue
		}

		resp, err := client.Generate(ctx, conv, tools, opts)
		if err == nil {
			f.recordSuccess(client.Name())
			return resp, nil
		}
		lastErr = err

		reason := ClassifyError(err)
		if !reason.ShouldRotate() {
			return nil, err
		}
		f.recordFailure(client.Name())
	}
	if lastErr == nil {
		return nil, fmt.Errorf("llm: no available model client")
	}
	return nil, fmt.Errorf("llm: all providers exhausted: %w", lastErr)
}

// Name reports the primary (first) client's name. The fallback list as a
// whole is addressed by this name wherever a single ModelClient is expected,
// e.g. when an Orchestrator is built over it.
func (f *FallbackList) Name() string {
	if len(f.clients) == 0 {
		return "fallback-list"
	}
	return f.clients[0].Name()
}

// Models returns the union of every member client's catalog, primary first.
func (f *FallbackList) Models() []ModelInfo {
	var out []ModelInfo
	seen := make(map[string]bool)
	for _, c := range f.clients {
		for _, m := range c.Models() {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

// SupportsTools reports true if any member client supports tool calling.
func (f *FallbackList) SupportsTools() bool {
	for _, c := range f.clients {
		if c.SupportsTools() {
			return true
		}
	}
	return false
}

func (f *FallbackList) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[name]; ok {
		st.failures = 0
		st.circuitOpen = false
	}
}

func (f *FallbackList) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[name]
	if !ok {
		return
	}
	st.failures++
	if st.failures >= f.config.CircuitBreakerThreshold {
		st.circuitOpen = true
		st.openedAt = time.Now()
	}
}
