// Package execlog records agent invocations for observability. Logging never
// influences the pipeline: sinks swallow and log their own failures.
package execlog

import (
	"context"
	"sync"
	"time"

	"github.com/stulshyan/sherpaAI-sub000/internal/adapter"
	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
)

// Record describes one agent execution.
type Record struct {
	ID            string
	AgentID       string
	AgentType     string
	ProjectID     string
	RequirementID string
	FeatureID     string
	AdapterID     string
	Model         string
	Prompt        string
	Response      string
	Output        interface{}
	Usage         adapter.Usage
	Cost          float64
	Latency       time.Duration
	Quality       *quality.Score
	Success       bool
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
	Metadata      map[string]interface{}
}

func (r Record) clone() Record {
	if r.Metadata != nil {
		md := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		r.Metadata = md
	}
	if r.Quality != nil {
		q := *r.Quality
		r.Quality = &q
	}
	return r
}

// Logger is a sink for execution records.
type Logger interface {
	Log(ctx context.Context, rec Record)
}

// Noop discards every record.
type Noop struct{}

func (Noop) Log(context.Context, Record) {}

// Memory keeps every record in process memory. Accessors return copies.
type Memory struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Log(_ context.Context, rec Record) {
	m.mu.Lock()
	m.records = append(m.records, rec.clone())
	m.mu.Unlock()
}

func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Executions returns every record in log order.
func (m *Memory) Executions() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	for i, r := range m.records {
		out[i] = r.clone()
	}
	return out
}

// ExecutionsByAgentType filters records by agent type.
func (m *Memory) ExecutionsByAgentType(agentType string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.AgentType == agentType {
			out = append(out, r.clone())
		}
	}
	return out
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}
