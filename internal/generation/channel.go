// Package generation implements the response generation side of the dialogue
// loop. A Channel owns a stream of generation tasks against one LLM provider
// and exposes their output as an ordered queue of sentence-sized chunks.
//
// The dialogue loop runs two channels side by side: a fast one producing
// backchannel fillers and a stronger one producing substantive answers. Both
// share the conversation history; each keeps its own task list and output
// queue.
package generation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm"
)

// Separator sets for sentence segmentation. The backchannel set also splits
// at the Japanese comma so fillers reach the speaker as early as possible.
const (
	DefaultSeparators     = "。！？!?\n"
	BackchannelSeparators = "、。！？!?\n"
)

// HistorySource supplies the shared conversation history as provider
// messages. Implemented by dialog.History.
type HistorySource interface {
	Messages() []llm.Message
}

// ChannelConfig configures one generation Channel.
type ChannelConfig struct {
	// Name labels the channel in logs and metrics ("backchannel", "answer").
	Name string

	// SystemPrompt is the instruction sent with every request.
	SystemPrompt string

	// Separators is the set of sentence-terminal runes at which streamed text
	// is cut into chunks. Empty selects DefaultSeparators.
	Separators string

	// Temperature and MaxTokens are passed through to the provider.
	Temperature float64
	MaxTokens   int
}

// Task is one in-flight generation. The channel cancels a task's context when
// a newer task produces its first chunk.
type Task struct {
	// ID identifies the task in logs.
	ID uuid.UUID

	// Input is the utterance text the task was started for.
	Input string

	// StartTime is when the task was created.
	StartTime time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Done returns a channel closed when the task's stream has ended.
func (t *Task) Done() <-chan struct{} { return t.done }

// Channel manages generation tasks for one purpose. Multiple tasks may be in
// flight at once; older tasks are cancelled only at the moment a newer task
// yields its first chunk, so the queue never goes silent while a replacement
// is still warming up. Output chunks are FIFO and always belong to the single
// task that most recently produced a first chunk.
type Channel struct {
	provider llm.Provider
	cfg      ChannelConfig
	history  HistorySource
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu        sync.Mutex
	tasks     []*Task // in-flight, oldest first
	current   *Task   // the task allowed to write to the queue
	queue     []string
	prevInput string

	// signal is nudged whenever the queue grows or a task finishes, waking
	// any Wait caller. Capacity 1: redundant nudges coalesce.
	signal chan struct{}
}

// NewChannel creates a Channel over the given provider and shared history.
// history may be nil for a channel that generates from the bare input.
func NewChannel(provider llm.Provider, cfg ChannelConfig, history HistorySource, logger *slog.Logger, metrics *observe.Metrics) *Channel {
	if cfg.Separators == "" {
		cfg.Separators = DefaultSeparators
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Channel{
		provider: provider,
		cfg:      cfg,
		history:  history,
		logger:   logger,
		metrics:  metrics,
		signal:   make(chan struct{}, 1),
	}
}

// ShouldGenerate reports whether input warrants a new task: it must be
// non-empty, differ from the input of the last generation that produced
// output, and differ from the input of every in-flight task.
func (c *Channel) ShouldGenerate(input string) bool {
	if input == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if input == c.prevInput {
		return false
	}
	for _, t := range c.tasks {
		if t.Input == input {
			return false
		}
	}
	return true
}

// Start creates a new generation task for input and begins streaming in the
// background. extra messages are appended after the user turn, letting the
// answer channel see the backchannel that was already committed to speech.
// Existing tasks keep running until the new one produces its first chunk.
func (c *Channel) Start(ctx context.Context, input string, extra ...llm.Message) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:        uuid.New(),
		Input:     input,
		StartTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	var messages []llm.Message
	if c.history != nil {
		messages = c.history.Messages()
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})
	messages = append(messages, extra...)

	c.mu.Lock()
	c.tasks = append(c.tasks, t)
	prompt := c.cfg.SystemPrompt
	c.mu.Unlock()
	c.metrics.ActiveGenerations.Add(ctx, 1)

	c.logger.Debug("generation task started",
		"subsystem", "generation", "channel", c.cfg.Name, "task", t.ID, "input", input)

	go c.run(taskCtx, t, messages, prompt)
	return t
}

// SetSystemPrompt replaces the instruction sent with subsequent requests.
// In-flight tasks keep the prompt they started with. Used by the config
// reload path.
func (c *Channel) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	c.cfg.SystemPrompt = prompt
	c.mu.Unlock()
}

// run streams one task's completion and feeds the queue.
func (c *Channel) run(ctx context.Context, t *Task, messages []llm.Message, prompt string) {
	defer c.finish(t)

	stream, err := c.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
		SystemPrompt: prompt,
	})
	if err != nil {
		c.logger.Warn("generation stream failed to start",
			"subsystem", "generation", "channel", c.cfg.Name, "task", t.ID, "error", err)
		c.metrics.RecordProviderRequest(ctx, c.cfg.Name, "llm", "error")
		c.metrics.RecordProviderError(ctx, c.cfg.Name, "llm")
		return
	}
	c.metrics.RecordProviderRequest(ctx, c.cfg.Name, "llm", "ok")

	var pending strings.Builder
	first := true
	for chunk := range stream {
		if chunk.FinishReason == "error" {
			c.logger.Warn("generation stream failed",
				"subsystem", "generation", "channel", c.cfg.Name, "task", t.ID)
			c.metrics.RecordProviderError(ctx, c.cfg.Name, "llm")
			break
		}
		if chunk.Text == "" {
			continue
		}
		if first {
			first = false
			c.promote(ctx, t)
			c.metrics.LLMFirstChunk.Record(ctx, time.Since(t.StartTime).Seconds(),
				metric.WithAttributes(observe.Attr("channel", c.cfg.Name)))
		}
		for _, r := range chunk.Text {
			pending.WriteRune(r)
			if strings.ContainsRune(c.cfg.Separators, r) {
				c.push(t, pending.String())
				pending.Reset()
			}
		}
	}
	if pending.Len() > 0 {
		c.push(t, pending.String())
	}
}

// promote makes t the current task: every older task is cancelled and counted
// as stale, the queue is cleared of their output, and t's input becomes the
// previous input for dedup.
func (c *Channel) promote(ctx context.Context, t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, old := range c.tasks {
		if old == t {
			continue
		}
		old.cancel()
		c.metrics.StaleGenerations.Add(ctx, 1)
		c.logger.Debug("generation task superseded",
			"subsystem", "generation", "channel", c.cfg.Name, "task", old.ID, "by", t.ID)
	}
	c.tasks = []*Task{t}
	c.current = t
	c.queue = nil
	c.prevInput = t.Input
}

// push appends a chunk to the queue if t is still the current task.
func (c *Channel) push(t *Task, chunk string) {
	if strings.TrimSpace(chunk) == "" {
		return
	}
	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, chunk)
	c.mu.Unlock()
	c.nudge()
}

// finish removes t from the in-flight list and releases its resources.
func (c *Channel) finish(t *Task) {
	t.cancel()
	c.mu.Lock()
	for i, x := range c.tasks {
		if x == t {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.metrics.ActiveGenerations.Add(context.Background(), -1)
	close(t.done)
	c.nudge()
}

func (c *Channel) nudge() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// PreviousInput returns the input of the last task that produced output.
// The dialogue loop commits this, not the live transcript, as the user turn.
func (c *Channel) PreviousInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevInput
}

// Pop returns the next queued chunk without blocking. The second return is
// false when the queue is empty.
func (c *Channel) Pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return "", false
	}
	chunk := c.queue[0]
	c.queue = c.queue[1:]
	return chunk, true
}

// Len returns the number of queued chunks.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Running reports whether any task is still streaming.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks) > 0
}

// WaitChunk blocks until the queue is non-empty, every task has finished, or
// ctx is cancelled. It returns true when a chunk is available.
func (c *Channel) WaitChunk(ctx context.Context) bool {
	for {
		c.mu.Lock()
		queued := len(c.queue) > 0
		running := len(c.tasks) > 0
		c.mu.Unlock()
		if queued {
			return true
		}
		if !running {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-c.signal:
		}
	}
}

// WaitChunkTimeout is WaitChunk with an upper bound on the wait. A timeout
// returns false; the caller decides whether that is an error.
func (c *Channel) WaitChunkTimeout(ctx context.Context, d time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return c.WaitChunk(waitCtx)
}

// Drain blocks until the most recent task has finished, then returns all
// queued chunks joined in order, for callers that want the whole response
// at once instead of consuming it chunk by chunk via Pop.
func (c *Channel) Drain(ctx context.Context) (string, error) {
	c.mu.Lock()
	var latest *Task
	if n := len(c.tasks); n > 0 {
		latest = c.tasks[n-1]
	}
	c.mu.Unlock()

	if latest != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-latest.done:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	text := strings.Join(c.queue, "")
	c.queue = nil
	return text, nil
}

// Reset cancels every in-flight task and clears the queue and the dedup
// state. Called at the end of a turn so the next utterance starts clean.
func (c *Channel) Reset() {
	c.mu.Lock()
	for _, t := range c.tasks {
		t.cancel()
	}
	c.current = nil
	c.queue = nil
	c.prevInput = ""
	c.mu.Unlock()
	c.nudge()
}
