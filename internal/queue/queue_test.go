package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eicompanion/ei/internal/llmclient"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

func newTestProcessor(t *testing.T, client llmclient.Client, kinds ProviderKinder) *Processor {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sm, err := statemgr.New(context.Background(), statemgr.Options{Store: store})
	if err != nil {
		t.Fatalf("statemgr.New: %v", err)
	}
	return New(sm, client, kinds, nil)
}

type fakeClient struct {
	mu       sync.Mutex
	chatErr  error
	chatText string
	jsonErr  error
	jsonBody json.RawMessage
	calls    int
}

func (f *fakeClient) CallChat(ctx context.Context, req llmclient.ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.chatText, f.chatErr
}

func (f *fakeClient) CallJSON(ctx context.Context, req llmclient.JSONRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.jsonBody, f.jsonErr
}

type fakeKinds struct{ kind string }

func (f fakeKinds) ProviderKind(providerID string) string { return f.kind }

func TestTickDispatchesEligibleItemAndRunsHandler(t *testing.T) {
	client := &fakeClient{chatText: "hello there"}
	proc := newTestProcessor(t, client, fakeKinds{kind: "cloud"})

	done := make(chan types.LLMRequest, 1)
	proc.Register(types.HandleResponse, func(ctx context.Context, item types.LLMRequest, result Result, deps Deps) error {
		if !result.OK() || result.ChatText != "hello there" {
			t.Errorf("unexpected result: %+v", result)
		}
		done <- item
		return nil
	})

	item := proc.sm.QueueEnqueue(types.LLMRequest{
		NextStep: types.HandleResponse,
		Priority: types.PriorityNormal,
		Model:    "anthropic:claude-sonnet-4-20250514",
		Prompt:   types.Prompt{Messages: []types.ChatMsg{{Role: "user", Content: "hi"}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Tick(ctx)

	// drain the completion delivered to proc.results via Tick's own
	// non-blocking drain loop happens inside Tick, but the dispatch
	// goroutine may still be racing to enqueue onto proc.results; poll.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case c := <-proc.results:
			proc.handleCompletion(ctx, c)
		default:
		}
		select {
		case got := <-done:
			if got.ID != item.ID {
				t.Fatalf("got item %s, want %s", got.ID, item.ID)
			}
			return
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("handler was never invoked")
}

func TestUnregisteredNextStepDropsItem(t *testing.T) {
	client := &fakeClient{chatText: "x"}
	proc := newTestProcessor(t, client, fakeKinds{kind: "cloud"})

	item := proc.sm.QueueEnqueue(types.LLMRequest{
		NextStep: types.HandlePersonaGeneration,
		Priority: types.PriorityNormal,
		Model:    "anthropic:claude-sonnet-4-20250514",
		Prompt:   types.Prompt{Messages: []types.ChatMsg{{Role: "user", Content: "hi"}}},
	})

	ctx := context.Background()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		proc.Tick(ctx)
		if _, ok := find(proc.sm.QueueGetAll(), item.ID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("item with no registered handler was never dropped")
}

func TestFailedDispatchRequeuesThenDropsAfterMaxAttempts(t *testing.T) {
	client := &fakeClient{chatErr: errors.New("connection reset")}
	proc := newTestProcessor(t, client, fakeKinds{kind: "cloud"})

	var handlerCalls int
	proc.Register(types.HandleResponse, func(ctx context.Context, item types.LLMRequest, result Result, deps Deps) error {
		handlerCalls++
		return nil
	})

	item := proc.sm.QueueEnqueue(types.LLMRequest{
		NextStep: types.HandleResponse,
		Priority: types.PriorityNormal,
		Model:    "anthropic:claude-sonnet-4-20250514",
		Prompt:   types.Prompt{Messages: []types.ChatMsg{{Role: "user", Content: "hi"}}},
	})

	ctx := context.Background()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		proc.Tick(ctx)
		if _, ok := find(proc.sm.QueueGetAll(), item.ID); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if handlerCalls != 0 {
		t.Fatalf("handler should never run on a failed call, got %d calls", handlerCalls)
	}
	if _, ok := find(proc.sm.QueueGetAll(), item.ID); ok {
		t.Fatalf("item should have been dropped after exhausting max_attempts")
	}
}

func TestLocalProviderSemaphoreLimitsConcurrency(t *testing.T) {
	proc := newTestProcessor(t, &fakeClient{chatText: "ok"}, fakeKinds{kind: "local"})
	sem := proc.semFor("local-provider")
	if !sem.TryAcquire(1) {
		t.Fatalf("expected first acquire to succeed")
	}
	if sem.TryAcquire(1) {
		t.Fatalf("local provider concurrency should be limited to 1")
	}
	sem.Release(1)
}

func TestCloudProviderSemaphoreAllowsThreeConcurrent(t *testing.T) {
	proc := newTestProcessor(t, &fakeClient{chatText: "ok"}, fakeKinds{kind: "cloud"})
	sem := proc.semFor("cloud-provider")
	for i := 0; i < cloudConcurrency; i++ {
		if !sem.TryAcquire(1) {
			t.Fatalf("expected acquire %d to succeed", i)
		}
	}
	if sem.TryAcquire(1) {
		t.Fatalf("cloud provider concurrency should be limited to %d", cloudConcurrency)
	}
}

func TestAbortCancelsInFlightCall(t *testing.T) {
	client := &blockingClient{unblock: make(chan struct{})}
	proc := newTestProcessor(t, client, fakeKinds{kind: "cloud"})
	proc.Register(types.HandleResponse, func(ctx context.Context, item types.LLMRequest, result Result, deps Deps) error {
		return nil
	})

	item := proc.sm.QueueEnqueue(types.LLMRequest{
		NextStep: types.HandleResponse,
		Priority: types.PriorityNormal,
		Model:    "anthropic:claude-sonnet-4-20250514",
		Prompt:   types.Prompt{Messages: []types.ChatMsg{{Role: "user", Content: "hi"}}},
	})

	ctx := context.Background()
	proc.Tick(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !proc.IsInFlight(item.ID) {
		time.Sleep(5 * time.Millisecond)
	}
	if !proc.IsInFlight(item.ID) {
		t.Fatalf("expected item to be in flight")
	}

	proc.Abort(item.ID)
	close(client.unblock)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && proc.IsInFlight(item.ID) {
		time.Sleep(5 * time.Millisecond)
	}
	if proc.IsInFlight(item.ID) {
		t.Fatalf("expected item to leave in-flight set after abort")
	}
}

type blockingClient struct {
	unblock chan struct{}
}

func (b *blockingClient) CallChat(ctx context.Context, req llmclient.ChatRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.unblock:
		return "done", nil
	}
}

func (b *blockingClient) CallJSON(ctx context.Context, req llmclient.JSONRequest) (json.RawMessage, error) {
	return nil, nil
}

func find(items []types.LLMRequest, id string) (types.LLMRequest, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return types.LLMRequest{}, false
}
