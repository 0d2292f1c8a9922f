package dialog

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aizuchi-dev/aizuchi/internal/generation"
	"github.com/aizuchi-dev/aizuchi/internal/observe"
	"github.com/aizuchi-dev/aizuchi/internal/speak"
	"github.com/aizuchi-dev/aizuchi/pkg/provider/llm"
)

// Default system prompts. The backchannel model is asked for a short safe
// filler; the answer model continues after the filler and may decline with
// the NA sentinel.
const (
	DefaultBackchannelPrompt = "対話履歴を踏まえて適切な相槌を生成してください。" +
		"ユーザの発話は音声認識の途中である可能性があります。" +
		"相手が発話途中である可能性が高い場合はリスクを避け「うん」「うんうん」「あー」「えーっと」「うーん」など無難な相槌を出力してください。"

	DefaultAnswerPrompt = "以下の会話履歴を参考に、適切な回答を生成してください。" +
		"ただし、あなた（アシスタント）はすでに一言目（対話履歴の末尾に付与されている）を発話していますので" +
		"自然につながるように二言目以降を生成してください。" +
		"例えば一言目と全く同じことを生成することは基本的に避けてください。" +
		"対話の流れを踏まえ二言目以降を生成する必要がなければ`NA`とだけ出力してください。" +
		"また、これは音声対話であるため、回答はなるべく短く簡潔にしてください。"
)

// skipSentinel is the literal answer value meaning "nothing more to say".
const skipSentinel = "NA"

const (
	defaultAnswerWaitTimeout = 2 * time.Second
	defaultLoopPollInterval  = 10 * time.Millisecond
)

// Listener is the slice of the listening pipeline the orchestrator drives.
// Implemented by listen.Listener.
type Listener interface {
	Text() string
	SpeechStarted() bool
	SpeechEnded() bool
	PauseRecognition()
	StartNewSession()
}

// Speaker is the playback interface the orchestrator drives. Implemented by
// speak.Speaker.
type Speaker interface {
	Speak(ctx context.Context, text string, interrupt speak.Interrupt) (bool, error)
	IsPlaying() bool
}

// LoopConfig configures the turn orchestrator.
type LoopConfig struct {
	// AllowInterrupt controls whether a raised interrupt flag aborts answer
	// playback mid-turn.
	AllowInterrupt bool

	// AnswerWaitTimeout bounds the wait for the answer's first chunk after
	// the backchannel has been spoken. A timeout is not an error; the turn
	// proceeds with whatever is queued. Zero selects the default.
	AnswerWaitTimeout time.Duration

	// PollInterval is the cadence of the end-of-utterance poll. Zero selects
	// the default.
	PollInterval time.Duration
}

// Loop is the turn orchestrator. One call to UtterAfterListening runs a full
// turn: wait for the user to finish, speak a backchannel while the answer is
// generated, stream-speak the answer honouring barge-ins, commit history, and
// reset everything for the next turn.
type Loop struct {
	listener    Listener
	speaker     Speaker
	backchannel *generation.Channel
	answer      *generation.Channel
	history     *History
	flag        *InterruptFlag
	cfg         LoopConfig
	logger      *slog.Logger
	metrics     *observe.Metrics

	// processing serialises turns; concurrent callers queue up.
	processing sync.Mutex

	// cfgMu guards cfg so tuning can be swapped while a turn is running.
	cfgMu sync.Mutex
}

// NewLoop wires the orchestrator over its collaborators.
func NewLoop(listener Listener, speaker Speaker, backchannel, answer *generation.Channel, history *History, flag *InterruptFlag, cfg LoopConfig, logger *slog.Logger, metrics *observe.Metrics) *Loop {
	if cfg.AnswerWaitTimeout <= 0 {
		cfg.AnswerWaitTimeout = defaultAnswerWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultLoopPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Loop{
		listener:    listener,
		speaker:     speaker,
		backchannel: backchannel,
		answer:      answer,
		history:     history,
		flag:        flag,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
	}
}

// Flag returns the shared interrupt flag, for wiring the observer.
func (l *Loop) Flag() *InterruptFlag { return l.flag }

// SetConfig replaces the loop's tuning. The turn in progress finishes under
// the values it started with; the next turn picks up the new ones. Used by
// the config reload path.
func (l *Loop) SetConfig(cfg LoopConfig) {
	if cfg.AnswerWaitTimeout <= 0 {
		cfg.AnswerWaitTimeout = defaultAnswerWaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultLoopPollInterval
	}
	l.cfgMu.Lock()
	l.cfg = cfg
	l.cfgMu.Unlock()
}

// config returns a snapshot of the current tuning.
func (l *Loop) config() LoopConfig {
	l.cfgMu.Lock()
	defer l.cfgMu.Unlock()
	return l.cfg
}

// Run executes turns until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := l.UtterAfterListening(ctx, ""); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// UtterAfterListening runs one full dialogue turn and returns the history
// entries it committed. additional, when non-empty, is spoken after the
// answer under the same interrupt discipline. The only error condition is
// context cancellation; backend failures degrade to shorter (or silent)
// responses and the loop keeps going.
func (l *Loop) UtterAfterListening(ctx context.Context, additional string) ([]Turn, error) {
	l.processing.Lock()
	defer l.processing.Unlock()

	cfg := l.config()

	// 1. Listen until the utterance ends, feeding interim transcripts to the
	// backchannel channel as they grow.
	if err := l.waitSpeechEnded(ctx); err != nil {
		return nil, err
	}
	turnStart := time.Now()
	l.flag.Clear()

	// 2. Take the backchannel acknowledgement. This wait is unbounded: the
	// backchannel model is tuned for sub-second latency, and a turn without
	// its filler feels broken.
	var bcText string
	if l.backchannel.WaitChunk(ctx) {
		bcText, _ = l.backchannel.Pop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.logger.Info("backchannel ready",
		"subsystem", "dialog", "input", l.backchannel.PreviousInput(), "text", bcText)

	// 3. Pause recognition so the microphone does not transcribe our own
	// voice, start the answer for the full utterance (with the backchannel as
	// assistant context), and speak the filler meanwhile.
	l.listener.PauseRecognition()
	userInput := l.listener.Text()

	var extra []llm.Message
	if bcText != "" {
		extra = append(extra, llm.Message{Role: llm.RoleAssistant, Content: bcText})
	}
	if l.answer.ShouldGenerate(userInput) {
		l.answer.Start(ctx, userInput, extra...)
	}

	if _, err := l.speaker.Speak(ctx, bcText, l.flag); err != nil {
		l.logger.Warn("backchannel playback failed", "subsystem", "dialog", "error", err)
	}

	// 4. Bounded wait for the answer's first chunk. Timing out just means we
	// answer with the backchannel alone.
	answerReady := l.answer.WaitChunkTimeout(ctx, cfg.AnswerWaitTimeout)
	if !answerReady {
		l.logger.Debug("timed out waiting for answer", "subsystem", "dialog")
	}

	// 5. Stream-speak whatever the answer produced, checking the interrupt
	// flag before and after every chunk. Once the answer has started we
	// follow the stream to its end; after a timeout we take only what is
	// already queued.
	l.flag.Clear()
	interrupted := false
	var full strings.Builder
	for {
		if l.flag.IsSet() && cfg.AllowInterrupt {
			interrupted = true
			break
		}
		chunk, ok := l.answer.Pop()
		if !ok {
			if !answerReady || !l.answer.Running() {
				break
			}
			if !l.answer.WaitChunk(ctx) {
				break
			}
			continue
		}
		if strings.TrimSpace(chunk) == skipSentinel {
			l.logger.Info("answer declined", "subsystem", "dialog", "input", userInput)
			break
		}
		chunkInterrupted, err := l.speaker.Speak(ctx, chunk, l.flag)
		if err != nil {
			l.logger.Warn("answer playback failed", "subsystem", "dialog", "error", err)
			break
		}
		if chunkInterrupted || (l.flag.IsSet() && cfg.AllowInterrupt) {
			interrupted = true
			break
		}
		full.WriteString(chunk)
	}

	// 6. Optional caller-supplied coda, same interrupt discipline. It only
	// enters history if it was actually heard.
	utteredAdditional := ""
	if additional != "" {
		addInterrupted, err := l.speaker.Speak(ctx, additional, l.flag)
		if err != nil {
			l.logger.Warn("additional playback failed", "subsystem", "dialog", "error", err)
		} else if !addInterrupted && !(l.flag.IsSet() && cfg.AllowInterrupt) {
			utteredAdditional = additional
		} else {
			interrupted = true
		}
	}

	// 7. Commit the turn. The user entry is the input that produced the
	// backchannel, not the live transcript, so it matches what the filler
	// acknowledged; when the backchannel never produced anything, the paused
	// transcript stands in. Empty entries are never committed: a failed
	// backchannel must not leave blank turns for both channels to prompt
	// from.
	userEntry := l.backchannel.PreviousInput()
	if userEntry == "" {
		userEntry = userInput
	}
	var turns []Turn
	if userEntry != "" {
		turns = append(turns, Turn{Role: llm.RoleUser, Text: userEntry})
	}
	if bcText != "" {
		turns = append(turns, Turn{Role: llm.RoleAssistant, Text: bcText})
	}
	if full.Len() > 0 {
		turns = append(turns, Turn{Role: llm.RoleAssistant, Text: full.String()})
	}
	if utteredAdditional != "" {
		turns = append(turns, Turn{Role: llm.RoleAssistant, Text: utteredAdditional})
	}
	l.history.Append(turns...)

	// 8. Reset both channels, open a fresh recognition session, and drop the
	// interrupt flag for the next turn.
	l.backchannel.Reset()
	l.answer.Reset()
	l.listener.StartNewSession()
	l.flag.Clear()

	outcome := "completed"
	if interrupted {
		outcome = "interrupted"
	}
	l.metrics.RecordTurn(ctx, outcome)
	l.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	return turns, nil
}

// waitSpeechEnded polls the end-of-utterance predicate, starting backchannel
// generation whenever the transcript grows into something new.
func (l *Loop) waitSpeechEnded(ctx context.Context) error {
	ticker := time.NewTicker(l.config().PollInterval)
	defer ticker.Stop()
	for {
		if text := l.listener.Text(); l.backchannel.ShouldGenerate(text) {
			l.logger.Debug("backchannel generation start", "subsystem", "dialog", "input", text)
			l.backchannel.Start(ctx, text)
		}
		if l.listener.SpeechEnded() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
