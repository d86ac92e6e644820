package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stulshyan/sherpaAI-sub000/internal/pipeline"
	"github.com/stulshyan/sherpaAI-sub000/internal/queue/streams"
)

type fixture struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	pub      *streams.Publisher
	consumer *streams.Consumer
	status   *StatusStore
	enqueuer *Enqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	reg, err := streams.NewBaseRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := streams.EnsureGroup(context.Background(), client, StreamDecompose, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	pub := streams.NewPublisher(client, reg)
	status := NewStatusStore(client, 0)
	return &fixture{
		mr:       mr,
		client:   client,
		pub:      pub,
		consumer: streams.NewConsumer(client, reg, "workers", "w1", nil),
		status:   status,
		enqueuer: NewEnqueuer(pub, status, StreamDecompose),
	}
}

func (f *fixture) pending(t *testing.T) int64 {
	t.Helper()
	res, err := f.client.XPending(context.Background(), StreamDecompose, "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	return res.Count
}

type call struct{ requirementID, jobID string }

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fn    func(ctx context.Context, requirementID, jobID string) pipeline.State
}

func (r *fakeRunner) ExecuteJob(ctx context.Context, requirementID, jobID string) pipeline.State {
	r.mu.Lock()
	r.calls = append(r.calls, call{requirementID, jobID})
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, requirementID, jobID)
	}
	return pipeline.State{RequirementID: requirementID, JobID: jobID, Stage: pipeline.StageCompleted, Progress: 100}
}

func (r *fakeRunner) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func fastOptions(concurrency int) Options {
	return Options{Concurrency: concurrency, Block: 20 * time.Millisecond}
}

func TestEnqueueRunsJobAndAcks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.enqueuer.Enqueue(ctx, "req-1", "alice")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	queued, err := f.status.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("status after enqueue: %v", err)
	}
	if queued.Stage != pipeline.StageQueued || queued.JobID != jobID || queued.Progress != 5 {
		t.Fatalf("expected queued snapshot, got %+v", queued)
	}

	runner := &fakeRunner{}
	proc := NewProcessor(runner, f.consumer, fastOptions(2))
	n, err := proc.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	proc.Wait()
	if n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
	calls := runner.Calls()
	if len(calls) != 1 || calls[0] != (call{"req-1", jobID}) {
		t.Fatalf("unexpected runner calls %+v", calls)
	}
	if p := f.pending(t); p != 0 {
		t.Fatalf("expected job acked, pending=%d", p)
	}
}

// commandLog records the names of commands sent through a client.
type commandLog struct {
	mu    sync.Mutex
	names []string
}

func (l *commandLog) DialHook(next redis.DialHook) redis.DialHook { return next }

func (l *commandLog) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		l.mu.Lock()
		l.names = append(l.names, cmd.Name())
		l.mu.Unlock()
		return next(ctx, cmd)
	}
}

func (l *commandLog) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (l *commandLog) writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, n := range l.names {
		if n == "set" || n == "xadd" {
			out = append(out, n)
		}
	}
	return out
}

func TestEnqueueCachesQueuedStatusBeforePublishing(t *testing.T) {
	f := newFixture(t)
	log := &commandLog{}
	f.client.AddHook(log)

	if _, err := f.enqueuer.Enqueue(context.Background(), "req-1", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := log.writes(); len(got) != 2 || got[0] != "set" || got[1] != "xadd" {
		t.Fatalf("expected status write before publish, got %v", got)
	}
}

func TestEnqueuePublishFailureMarksStatusFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.mr.Set("occupied", "not a stream"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	enq := NewEnqueuer(f.pub, f.status, "occupied")

	if _, err := enq.Enqueue(ctx, "req-1", ""); err == nil {
		t.Fatalf("expected publish failure")
	}
	st, err := f.status.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Stage != pipeline.StageFailed || st.Error == nil || st.Error.Stage != pipeline.StageQueued {
		t.Fatalf("expected failed snapshot, got %+v", st)
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := f.enqueuer.Enqueue(ctx, id, ""); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	release := make(chan struct{})
	var mu sync.Mutex
	running, peak := 0, 0
	runner := &fakeRunner{fn: func(_ context.Context, id, job string) pipeline.State {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return pipeline.State{RequirementID: id, JobID: job, Stage: pipeline.StageCompleted}
	}}
	proc := NewProcessor(runner, f.consumer, fastOptions(2))

	n, err := proc.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected a batch capped at concurrency 2, got %d", n)
	}
	close(release)
	proc.Wait()

	n, err = proc.Poll(ctx)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	proc.Wait()
	if n != 1 {
		t.Fatalf("expected remaining job, got %d", n)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent runs, saw %d", peak)
	}
	if len(runner.Calls()) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runner.Calls()))
	}
}

func TestShutdownLeavesJobPending(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := f.enqueuer.Enqueue(ctx, "req-1", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runner := &fakeRunner{fn: func(_ context.Context, id, job string) pipeline.State {
		cancel()
		return pipeline.State{RequirementID: id, JobID: job, Stage: pipeline.StageCancelled}
	}}
	proc := NewProcessor(runner, f.consumer, fastOptions(1))
	if _, err := proc.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	proc.Wait()
	if p := f.pending(t); p != 1 {
		t.Fatalf("expected interrupted job left pending, got %d", p)
	}
}

func TestFailedRunIsAcked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.enqueuer.Enqueue(ctx, "req-1", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runner := &fakeRunner{fn: func(_ context.Context, id, job string) pipeline.State {
		return pipeline.State{RequirementID: id, JobID: job, Stage: pipeline.StageFailed,
			Error: &pipeline.Error{Stage: pipeline.StageExtracting, Code: "VALIDATION_ERROR", Message: "no source"}}
	}}
	proc := NewProcessor(runner, f.consumer, fastOptions(1))
	if _, err := proc.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	proc.Wait()
	if p := f.pending(t); p != 0 {
		t.Fatalf("expected failed job acked, pending=%d", p)
	}
}

func TestProgressSinkCachesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sink := NewProgressSink(f.status, f.pub, StreamProgress)

	state := pipeline.State{
		RequirementID: "req-1", JobID: "job-1", Stage: pipeline.StageClassifying, Progress: 40,
		Metadata: map[string]interface{}{pipeline.MetaWordCount: 12},
	}
	if err := sink.Handle(ctx, state); err != nil {
		t.Fatalf("handle: %v", err)
	}

	cached, err := f.status.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("status get: %v", err)
	}
	if cached.Stage != pipeline.StageClassifying || cached.Progress != 40 {
		t.Fatalf("unexpected cached state %+v", cached)
	}
	if ttl := f.mr.TTL(StatusKey("req-1")); ttl != DefaultStatusTTL {
		t.Fatalf("expected ttl %s, got %s", DefaultStatusTTL, ttl)
	}

	entries, err := f.client.XRange(ctx, StreamProgress, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 progress event, got %d", len(entries))
	}
	env, err := streams.UnmarshalEnvelope([]byte(entries[0].Values["envelope"].(string)))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	var evt streams.ProgressEvent
	if err := env.Decode(&evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Stage != "classifying" || evt.Progress != 40 || evt.JobID != "job-1" {
		t.Fatalf("unexpected progress event %+v", evt)
	}
	var snap pipeline.State
	if err := json.Unmarshal(evt.State, &snap); err != nil || snap.RequirementID != "req-1" {
		t.Fatalf("embedded state not decodable: %v %+v", err, snap)
	}
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.status.Get(context.Background(), "missing"); !errors.Is(err, ErrStatusNotFound) {
		t.Fatalf("expected ErrStatusNotFound, got %v", err)
	}
	if err := f.status.Put(context.Background(), pipeline.State{}); err == nil {
		t.Fatalf("expected error for empty requirement id")
	}
}
