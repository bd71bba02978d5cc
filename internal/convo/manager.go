// Package convo is the concurrency core: a registry of per-thread
// conversation workers. Each Slack thread gets at most one worker, which
// drains a FIFO queue of triggers, so concurrent messages in one thread
// never produce overlapping model calls.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quailyquaily/threadmorph/internal/blocks"
	"github.com/quailyquaily/threadmorph/internal/msgcodec"
	"github.com/quailyquaily/threadmorph/internal/slackapi"
)

const (
	defaultQueueTimeout  = time.Hour
	defaultSweepInterval = 5 * time.Minute
	defaultIdleThreshold = time.Hour
	defaultQueueDepth    = 16
)

// StopActionID names the interactive button that cancels a processing
// conversation. The button value carries "channelID:threadTS".
const StopActionID = "emergency_stop"

// Surface is the slice of the Slack client the manager needs.
type Surface interface {
	HistorySource
	PostMessage(ctx context.Context, channelID, text string, opts slackapi.PostOptions) (string, error)
	DeleteMessage(ctx context.Context, channelID, ts string) error
}

// Invoker runs one full reasoning turn for a thread. Implemented by
// claude.Runner.
type Invoker interface {
	Respond(ctx context.Context, channelID, threadTS, model, system string, history []blocks.Message) error
}

type Config struct {
	// QueueTimeout retires a worker whose queue stays empty this long.
	QueueTimeout time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// IdleThreshold is the inactivity age at which the sweep evicts a
	// conversation that is not processing.
	IdleThreshold time.Duration
	// QueueDepth bounds how many triggers may wait per thread.
	QueueDepth int
	// DefaultModel is used until a thread selects another.
	DefaultModel string
}

func (c Config) withDefaults() Config {
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = defaultQueueTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = defaultIdleThreshold
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	return c
}

type conversation struct {
	channelID string
	threadTS  string
	jobs      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by Manager.mu.
	active       bool
	processing   bool
	lastActivity time.Time
	model        string
	procCancel   context.CancelFunc
}

// Manager owns the conversation registry. The registry map and the
// out-of-band fields of each entry (cancellation, model selection) are the
// only cross-goroutine state, all guarded by one mutex.
type Manager struct {
	surface Surface
	invoker Invoker
	system  func() string
	logger  *slog.Logger
	cfg     Config

	mu            sync.Mutex
	convs         map[string]*conversation
	pendingModels map[string]string

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewManager(surface Surface, invoker Invoker, system func() string, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if system == nil {
		system = func() string { return "" }
	}
	return &Manager{
		surface:       surface,
		invoker:       invoker,
		system:        system,
		logger:        logger,
		cfg:           cfg.withDefaults(),
		convs:         map[string]*conversation{},
		pendingModels: map[string]string{},
	}
}

func key(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

// Start launches the eviction sweep. The manager refuses triggers until
// started.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx != nil {
		return
	}
	m.baseCtx, m.baseCancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sweepLoop()
	m.logger.Info("conversation_manager_started")
}

// Stop cancels every worker and the sweep, then waits for them to unwind.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.baseCancel
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("conversation_manager_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue registers a trigger for a thread, creating its worker on first
// contact. Triggers for one thread are processed strictly in arrival
// order.
func (m *Manager) Enqueue(channelID, threadTS string) error {
	if channelID == "" || threadTS == "" {
		return fmt.Errorf("channel_id and thread_ts are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx == nil || m.baseCtx.Err() != nil {
		return fmt.Errorf("conversation manager is not running")
	}

	k := key(channelID, threadTS)
	conv, ok := m.convs[k]
	if !ok || !conv.active {
		ctx, cancel := context.WithCancel(m.baseCtx)
		conv = &conversation{
			channelID:    channelID,
			threadTS:     threadTS,
			jobs:         make(chan struct{}, m.cfg.QueueDepth),
			ctx:          ctx,
			cancel:       cancel,
			active:       true,
			lastActivity: time.Now(),
			model:        m.cfg.DefaultModel,
		}
		if pending, ok := m.pendingModels[k]; ok {
			conv.model = pending
			delete(m.pendingModels, k)
		}
		m.convs[k] = conv
		m.wg.Add(1)
		go m.worker(conv)
		m.logger.Info("conversation_created", "channel_id", channelID, "thread_ts", threadTS)
	}

	conv.lastActivity = time.Now()
	select {
	case conv.jobs <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("conversation queue is full")
	}
}

// Cancel aborts the in-flight processing of a thread, if any. It reports
// false when there is nothing to stop; cancelling an idle conversation
// changes nothing.
func (m *Manager) Cancel(ctx context.Context, channelID, threadTS, userID string) bool {
	m.mu.Lock()
	conv, ok := m.convs[key(channelID, threadTS)]
	if !ok || !conv.processing || conv.procCancel == nil {
		m.mu.Unlock()
		return false
	}
	conv.active = false
	cancel := conv.procCancel
	m.mu.Unlock()

	cancel()
	m.logger.Info("conversation_cancelled", "channel_id", channelID, "thread_ts", threadTS, "user_id", userID)
	_, _ = m.surface.PostMessage(ctx, channelID, msgcodec.StopPrefix+" Stopped by <@"+userID+">", slackapi.PostOptions{
		ThreadTS: threadTS,
	})
	return true
}

// SetModel selects the model for a thread's next round. For threads with
// no live conversation the choice is remembered and applied on creation.
func (m *Manager) SetModel(channelID, threadTS, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(channelID, threadTS)
	if conv, ok := m.convs[k]; ok && conv.active {
		conv.model = model
	} else {
		m.pendingModels[k] = model
	}
	m.logger.Info("model_selected", "channel_id", channelID, "thread_ts", threadTS, "model", model)
}

// Count reports how many conversations are registered.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// ActiveCount reports how many conversations are currently processing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, conv := range m.convs {
		if conv.active && conv.processing {
			n++
		}
	}
	return n
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.IdleThreshold)

	m.mu.Lock()
	var evicted []*conversation
	for k, conv := range m.convs {
		if conv.processing || conv.lastActivity.After(cutoff) {
			continue
		}
		conv.active = false
		delete(m.convs, k)
		evicted = append(evicted, conv)
	}
	m.mu.Unlock()

	for _, conv := range evicted {
		conv.cancel()
		m.logger.Info("conversation_evicted", "channel_id", conv.channelID, "thread_ts", conv.threadTS)
	}
}

func (m *Manager) worker(conv *conversation) {
	defer m.wg.Done()
	defer m.retire(conv)

	timer := time.NewTimer(m.cfg.QueueTimeout)
	defer timer.Stop()
	for {
		select {
		case <-conv.ctx.Done():
			return
		case <-conv.jobs:
			m.process(conv)
			m.mu.Lock()
			active := conv.active
			m.mu.Unlock()
			if !active {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.cfg.QueueTimeout)
		case <-timer.C:
			if m.tryRetireIdle(conv) {
				return
			}
			timer.Reset(m.cfg.QueueTimeout)
		}
	}
}

// tryRetireIdle ends the worker after a queue timeout, unless a trigger
// slipped in between the timer firing and the lock.
func (m *Manager) tryRetireIdle(conv *conversation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(conv.jobs) > 0 {
		return false
	}
	conv.active = false
	return true
}

func (m *Manager) retire(conv *conversation) {
	m.mu.Lock()
	k := key(conv.channelID, conv.threadTS)
	if current, ok := m.convs[k]; ok && current == conv {
		delete(m.convs, k)
	}
	conv.active = false
	m.mu.Unlock()
	conv.cancel()
	m.logger.Info("conversation_retired", "channel_id", conv.channelID, "thread_ts", conv.threadTS)
}

func (m *Manager) process(conv *conversation) {
	procCtx, cancel := context.WithCancel(conv.ctx)

	m.mu.Lock()
	conv.processing = true
	conv.procCancel = cancel
	conv.lastActivity = time.Now()
	model := conv.model
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		conv.processing = false
		conv.procCancel = nil
		conv.lastActivity = time.Now()
		m.mu.Unlock()
	}()

	runID := "run_" + uuid.NewString()
	m.logger.Info("turn_started", "run_id", runID, "channel_id", conv.channelID, "thread_ts", conv.threadTS, "model", model)

	stopTS := m.postStopAffordance(procCtx, conv)
	// The stop affordance must go away on every exit path, including
	// cancellation, so the retraction uses its own context.
	defer m.retractStopAffordance(conv, stopTS)

	history, err := FetchHistory(procCtx, m.surface, conv.channelID, conv.threadTS)
	if err != nil {
		if procCtx.Err() != nil {
			return
		}
		m.logger.Error("history_fetch_failed", "run_id", runID, "channel_id", conv.channelID, "thread_ts", conv.threadTS, "error", err)
		_, _ = m.surface.PostMessage(procCtx, conv.channelID, ":warning: Error: "+err.Error(), slackapi.PostOptions{
			ThreadTS: conv.threadTS,
		})
		return
	}

	err = m.invoker.Respond(procCtx, conv.channelID, conv.threadTS, model, m.system(), history)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// The stopped notice is posted by Cancel or by shutdown.
	default:
		m.logger.Error("turn_failed", "run_id", runID, "channel_id", conv.channelID, "thread_ts", conv.threadTS, "error", err)
		if procCtx.Err() == nil {
			_, _ = m.surface.PostMessage(procCtx, conv.channelID, ":warning: Error: "+err.Error(), slackapi.PostOptions{
				ThreadTS: conv.threadTS,
			})
		}
	}
}

func (m *Manager) postStopAffordance(ctx context.Context, conv *conversation) string {
	ts, err := m.surface.PostMessage(ctx, conv.channelID, msgcodec.ProcessingText, slackapi.PostOptions{
		ThreadTS: conv.threadTS,
		Blocks: []slackapi.Block{
			{
				Type: "section",
				Text: &slackapi.TextObject{Type: "mrkdwn", Text: ":hourglass_flowing_sand: Processing..."},
			},
			{
				Type: "actions",
				Elements: []any{
					slackapi.BlockElement{
						Type:     "button",
						Text:     &slackapi.TextObject{Type: "plain_text", Text: ":octagonal_sign: Stop", Emoji: true},
						Value:    conv.channelID + ":" + conv.threadTS,
						ActionID: StopActionID,
						Style:    "danger",
					},
				},
			},
		},
	})
	if err != nil {
		return ""
	}
	return ts
}

func (m *Manager) retractStopAffordance(conv *conversation, ts string) {
	if ts == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.surface.DeleteMessage(ctx, conv.channelID, ts); err != nil {
		m.logger.Warn("stop_affordance_retract_failed", "channel_id", conv.channelID, "thread_ts", conv.threadTS, "error", err)
	}
}
