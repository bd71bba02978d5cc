package convo

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSurface struct {
	mu      sync.Mutex
	posts   []string
	deletes []string
	replies []slackapi.RawMessage
}

func (s *fakeSurface) PostMessage(ctx context.Context, channelID, text string, opts slackapi.PostOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, text)
	return "1700000000.000100", nil
}

func (s *fakeSurface) DeleteMessage(ctx context.Context, channelID, ts string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, ts)
	return nil
}

func (s *fakeSurface) ConversationReplies(ctx context.Context, channelID, threadTS string) ([]slackapi.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replies, nil
}

func (s *fakeSurface) postedTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posts...)
}

func (s *fakeSurface) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deletes)
}

// gateInvoker blocks each Respond call until released, tracking how many
// run concurrently.
type gateInvoker struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	release     chan struct{}
}

func newGateInvoker() *gateInvoker {
	return &gateInvoker{release: make(chan struct{})}
}

func (g *gateInvoker) Respond(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gateInvoker) stats() (calls, maxInFlight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.maxInFlight
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEnqueueSerializesPerThread(t *testing.T) {
	surface := &fakeSurface{}
	invoker := newGateInvoker()
	m := NewManager(surface, invoker, nil, testLogger(), Config{})
	m.Start(context.Background())
	defer func() {
		if err := m.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}()

	for i := 0; i < 3; i++ {
		if err := m.Enqueue("C1", "100.1"); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		calls, _ := invoker.stats()
		return calls >= 1
	}, "first invocation never started")
	close(invoker.release)

	waitFor(t, func() bool {
		calls, _ := invoker.stats()
		return calls == 3
	}, "expected 3 invocations")

	if _, maxInFlight := invoker.stats(); maxInFlight != 1 {
		t.Fatalf("max concurrent invocations = %d, want 1", maxInFlight)
	}
	if m.Count() != 1 {
		t.Fatalf("registry size = %d, want 1", m.Count())
	}
}

func TestCancelIdleIsNoOp(t *testing.T) {
	surface := &fakeSurface{}
	invoker := newGateInvoker()
	close(invoker.release)
	m := NewManager(surface, invoker, nil, testLogger(), Config{})
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	if m.Cancel(context.Background(), "C1", "100.1", "U1") {
		t.Fatal("Cancel on unknown thread returned true")
	}

	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		calls, _ := invoker.stats()
		return calls == 1 && m.ActiveCount() == 0
	}, "invocation never finished")

	if m.Cancel(context.Background(), "C1", "100.1", "U1") {
		t.Fatal("Cancel on idle conversation returned true")
	}
	if m.Count() != 1 {
		t.Fatalf("idle cancel changed registry size to %d", m.Count())
	}
}

func TestCancelProcessingRetiresConversation(t *testing.T) {
	surface := &fakeSurface{}
	invoker := newGateInvoker()
	m := NewManager(surface, invoker, nil, testLogger(), Config{})
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return m.ActiveCount() == 1 }, "processing never started")

	if !m.Cancel(context.Background(), "C1", "100.1", "U42") {
		t.Fatal("Cancel on processing conversation returned false")
	}

	waitFor(t, func() bool { return m.Count() == 0 }, "conversation was not retired")

	var stopped bool
	for _, text := range surface.postedTexts() {
		if strings.Contains(text, "Stopped by <@U42>") {
			stopped = true
		}
	}
	if !stopped {
		t.Fatalf("no stopped notice posted; posts = %#v", surface.postedTexts())
	}
	// The stop affordance must not be left dangling.
	waitFor(t, func() bool { return surface.deleteCount() == 1 }, "stop affordance never retracted")

	// The thread is usable again afterwards.
	close(invoker.release)
	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue after cancel: %v", err)
	}
	waitFor(t, func() bool {
		calls, _ := invoker.stats()
		return calls == 2
	}, "new conversation never processed")
}

func TestIdleEvictionSweep(t *testing.T) {
	surface := &fakeSurface{}
	invoker := newGateInvoker()
	close(invoker.release)
	m := NewManager(surface, invoker, nil, testLogger(), Config{
		SweepInterval: 10 * time.Millisecond,
		IdleThreshold: 30 * time.Millisecond,
	})
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		calls, _ := invoker.stats()
		return calls == 1
	}, "invocation never ran")

	waitFor(t, func() bool { return m.Count() == 0 }, "idle conversation was not evicted")
}

func TestQueueTimeoutRetiresWorker(t *testing.T) {
	surface := &fakeSurface{}
	invoker := newGateInvoker()
	close(invoker.release)
	m := NewManager(surface, invoker, nil, testLogger(), Config{
		QueueTimeout: 20 * time.Millisecond,
	})
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool { return m.Count() == 0 }, "worker did not retire after queue timeout")
}

func TestSetModelBeforeCreationApplies(t *testing.T) {
	surface := &fakeSurface{}

	var gotModel string
	var mu sync.Mutex
	invoker := invokerFunc(func(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error {
		mu.Lock()
		gotModel = model
		mu.Unlock()
		return nil
	})

	m := NewManager(surface, invoker, nil, testLogger(), Config{DefaultModel: "model-normal"})
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	m.SetModel("C1", "100.1", "model-beast")
	if err := m.Enqueue("C1", "100.1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotModel != ""
	}, "invocation never ran")

	mu.Lock()
	defer mu.Unlock()
	if gotModel != "model-beast" {
		t.Fatalf("model = %q, want model-beast", gotModel)
	}
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	m := NewManager(&fakeSurface{}, newGateInvoker(), nil, testLogger(), Config{})
	if err := m.Enqueue("C1", "100.1"); err == nil {
		t.Fatal("expected error before Start")
	}
}

type invokerFunc func(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error

func (f invokerFunc) Respond(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error {
	return f(ctx, channelID, threadTS, model, system, history)
}
