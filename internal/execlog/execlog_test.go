package execlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stulshyan/sherpaAI-sub000/internal/quality"
)

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	q := quality.NewScore(1, 1, 1)
	m.Log(context.Background(), Record{ID: "1", AgentType: "classification", Quality: &q, Metadata: map[string]interface{}{"k": "v"}})
	m.Log(context.Background(), Record{ID: "2", AgentType: "decomposition"})
	m.Log(context.Background(), Record{ID: "3", AgentType: "classification"})

	if m.Count() != 3 {
		t.Fatalf("expected 3 records, got %d", m.Count())
	}
	got := m.Executions()
	got[0].Metadata["k"] = "changed"
	got[0].Quality.Overall = 0
	got[1].ID = "changed"
	again := m.Executions()
	if again[0].Metadata["k"] != "v" || again[0].Quality.Overall != 1 || again[1].ID != "2" {
		t.Fatalf("accessor leaked internal state: %+v", again)
	}
	if byType := m.ExecutionsByAgentType("classification"); len(byType) != 2 {
		t.Fatalf("expected 2 classification records, got %d", len(byType))
	}
	m.Clear()
	if m.Count() != 0 {
		t.Fatalf("expected empty after Clear")
	}
}

type fakeStore struct {
	started, completed []Record
	startErr           error
	completeErr        error
}

func (f *fakeStore) StartExecution(_ context.Context, rec Record) error {
	f.started = append(f.started, rec)
	return f.startErr
}

func (f *fakeStore) CompleteExecution(_ context.Context, rec Record) error {
	f.completed = append(f.completed, rec)
	return f.completeErr
}

func TestPersistentStartsThenCompletes(t *testing.T) {
	st := &fakeStore{}
	p := NewPersistent(st, nil, func(Record) (float64, error) { return 0, errors.New("no pricing") })
	p.Log(context.Background(), Record{ID: "e1", Success: true})
	if len(st.started) != 1 || len(st.completed) != 1 {
		t.Fatalf("expected one start and one complete, got %d/%d", len(st.started), len(st.completed))
	}
	if st.completed[0].Cost != 0 {
		t.Fatalf("expected cost default 0, got %f", st.completed[0].Cost)
	}
}

func TestPersistentPricesRecord(t *testing.T) {
	st := &fakeStore{}
	p := NewPersistent(st, nil, func(Record) (float64, error) { return 0.42, nil })
	p.Log(context.Background(), Record{ID: "e1"})
	if st.completed[0].Cost != 0.42 {
		t.Fatalf("expected priced record, got %f", st.completed[0].Cost)
	}
}

func TestPersistentSwallowsFailures(t *testing.T) {
	st := &fakeStore{startErr: errors.New("db down")}
	p := NewPersistent(st, nil, nil)
	p.Log(context.Background(), Record{ID: "e1"})
	if len(st.completed) != 0 {
		t.Fatalf("complete must not run after a failed start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st2 := &fakeStore{completeErr: errors.New("db down")}
	NewPersistent(st2, nil, nil).Log(ctx, Record{ID: "e2"})
	if len(st2.completed) != 1 {
		t.Fatalf("expected completion attempt despite cancelled context")
	}
}
