package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-talk/pkg/core"
)

const (
	DefaultTokenAttempts = 3
	DefaultRetryDelay    = time.Second
	DefaultSampleRate    = 44100
)

// ErrClosed is returned by Toggle after Close.
var ErrClosed = errors.New("session: controller closed")

// Options configures a Controller. Tokens, Media and NewConversation are required.
type Options struct {
	Tokens          TokenFetcher
	Media           Media
	NewConversation ConversationFactory
	Logger          *slog.Logger

	// TokenAttempts is the total number of token fetch attempts.
	TokenAttempts int
	// RetryDelay is the fixed pause between token fetch attempts.
	RetryDelay time.Duration
	SampleRate int

	// OnRetry is called before each pause between token fetch attempts.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (o Options) withDefaults() Options {
	if o.TokenAttempts <= 0 {
		o.TokenAttempts = DefaultTokenAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Controller drives one talk button. It is safe for concurrent use.
type Controller struct {
	opts   Options
	logger *slog.Logger
	events *eventQueue

	mu     sync.Mutex
	state  State
	busy   bool
	closed bool
	view   View

	// generation identifies the current voice session; callbacks carrying an
	// older generation are dropped.
	generation uint64
	// pendingEnd holds an end-of-session error reported while connecting.
	pendingEnd error
	conv       Conversation
	stream     MediaStream
	audio      AudioContext
}

func New(opts Options) (*Controller, error) {
	if opts.Tokens == nil {
		return nil, errors.New("session: Tokens is required")
	}
	if opts.Media == nil {
		return nil, errors.New("session: Media is required")
	}
	if opts.NewConversation == nil {
		return nil, errors.New("session: NewConversation is required")
	}
	opts = opts.withDefaults()
	return &Controller{
		opts:   opts,
		logger: opts.Logger,
		events: newEventQueue(),
		state:  StateIdle,
		view:   NewView(),
	}, nil
}

// Events returns the controller's event stream. It is meant for a single
// consumer; every call returns the same channel, which is closed after Close.
func (c *Controller) Events() <-chan Event {
	return c.events.subscribe()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the view as of the last emitted event.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Toggle starts a conversation from idle or ends one from active. It is
// ignored while a transition is in flight. Failures are surfaced as
// ErrorEvents and also returned.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		c.logger.Debug("toggle ignored, transition in flight", "state", c.State())
		return nil
	}
	from := c.state
	c.busy = true
	if c.view.Error != "" {
		c.emitLocked(&ErrorClearedEvent{})
	}
	c.mu.Unlock()

	if from == StateActive {
		return c.stop(ctx)
	}
	return c.start(ctx)
}

// Close ends an active conversation and closes the event stream.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	shouldStop := c.state == StateActive && !c.busy
	if shouldStop {
		c.busy = true
	}
	c.mu.Unlock()

	var err error
	if shouldStop {
		err = c.stop(ctx)
	}

	c.mu.Lock()
	inFlight := c.busy
	c.mu.Unlock()
	if !inFlight {
		c.events.close()
	}
	return err
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	c.setStateLocked(StateConnecting)
	c.emitLocked(&ProcessingEvent{Processing: true})
	c.mu.Unlock()

	creds, err := c.fetchToken(ctx)
	if err != nil {
		return c.failStart(err)
	}
	c.logger.Info("session token received", "agent_id", creds.AgentID)

	stream, err := c.opts.Media.GetUserMedia(ctx)
	if err != nil {
		return c.failStart(core.NewMediaError("microphone unavailable", err))
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	audio, err := c.opts.Media.NewAudioContext(ctx)
	if err != nil {
		return c.failStart(core.NewMediaError("audio output unavailable", err))
	}
	c.mu.Lock()
	c.audio = audio
	c.mu.Unlock()

	if audio != nil {
		if err := audio.Resume(ctx); err != nil {
			return c.failStart(core.NewMediaError("audio output unavailable", err))
		}
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	conv := c.opts.NewConversation(creds.AgentID, creds.Token)
	err = conv.InitConversation(ctx, ConversationConfig{
		SampleRate: c.opts.SampleRate,
		Input:      stream,
		OnSpeechStart: func() {
			c.emitFor(gen, &SpeechStartedEvent{})
		},
		OnSpeechEnd: func() {
			c.emitFor(gen, &SpeechEndedEvent{})
		},
		OnMessage: func(msg Message) {
			c.handleMessage(gen, msg)
		},
		OnError: func(err error) {
			go c.endSession(gen, err)
		},
	})
	if err != nil {
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			err = core.NewSessionError("voice session failed to start", err)
		}
		return c.failStart(err)
	}

	c.mu.Lock()
	c.conv = conv
	c.setStateLocked(StateActive)
	ended := c.pendingEnd
	c.pendingEnd = nil
	closed := c.closed
	if ended == nil && !closed {
		c.busy = false
	}
	c.mu.Unlock()
	c.logger.Info("conversation started", "agent_id", creds.AgentID, "sample_rate", c.opts.SampleRate)

	switch {
	case ended != nil:
		c.logger.Error("conversation ended unexpectedly", "kind", errorKind(ended), "error", ended)
		return c.teardown(context.WithoutCancel(ctx), ended)
	case closed:
		err := c.stop(context.WithoutCancel(ctx))
		return errors.Join(ErrClosed, err)
	}
	return nil
}

func (c *Controller) fetchToken(ctx context.Context) (Credentials, error) {
	var (
		attempt int
		lastErr error
	)
	inner := retry.WithMaxRetries(uint64(c.opts.TokenAttempts-1), retry.NewConstant(c.opts.RetryDelay))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := inner.Next()
		if !stop {
			c.logger.Warn("token fetch failed, retrying",
				"attempt", attempt,
				"max_attempts", c.opts.TokenAttempts,
				"delay", delay,
				"error", lastErr,
			)
			if c.opts.OnRetry != nil {
				c.opts.OnRetry(attempt, delay, lastErr)
			}
		}
		return delay, stop
	})

	creds, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (Credentials, error) {
		attempt++
		creds, err := c.opts.Tokens.FetchToken(ctx)
		if err != nil {
			lastErr = err
			return Credentials{}, retry.RetryableError(err)
		}
		return creds, nil
	})
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		c.logger.Error("token fetch failed", "attempts", attempt, "error", err)
		return Credentials{}, err
	}
	return creds, nil
}

func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	stream, audio := c.stream, c.audio
	c.stream, c.audio, c.conv = nil, nil, nil
	c.pendingEnd = nil
	c.generation++
	c.mu.Unlock()

	c.release(stream, audio)
	c.logger.Error("start conversation failed", "kind", errorKind(err), "error", err)

	c.mu.Lock()
	c.emitLocked(&ProcessingEvent{Processing: false})
	c.setStateLocked(StateIdle)
	c.emitLocked(&ErrorEvent{Kind: errorKind(err), Message: UserMessage(err)})
	c.busy = false
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.events.close()
	}
	return err
}

func (c *Controller) stop(ctx context.Context) error {
	return c.teardown(ctx, nil)
}

// endSession tears down a conversation that ended on its own.
func (c *Controller) endSession(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting {
		c.pendingEnd = err
		c.mu.Unlock()
		return
	}
	if c.state != StateActive || c.busy {
		c.mu.Unlock()
		return
	}
	c.busy = true
	c.mu.Unlock()

	c.logger.Error("conversation ended unexpectedly", "kind", errorKind(err), "error", err)
	_ = c.teardown(context.Background(), err)
}

// teardown stops the conversation and releases its media. A non-nil endErr
// means the session already ended remotely; it is surfaced instead of any
// stop failure and returned.
func (c *Controller) teardown(ctx context.Context, endErr error) error {
	c.mu.Lock()
	conv, stream, audio := c.conv, c.stream, c.audio
	c.conv, c.stream, c.audio = nil, nil, nil
	c.pendingEnd = nil
	c.generation++
	c.mu.Unlock()

	var stopErr error
	if conv != nil {
		if err := conv.StopConversation(ctx); err != nil {
			stopErr = core.NewSessionError("voice session failed to stop", err)
			c.logger.Error("stop conversation failed", "error", err)
		}
	}
	c.release(stream, audio)

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	switch {
	case endErr != nil:
		c.emitLocked(&ErrorEvent{Kind: errorKind(endErr), Message: MsgSessionEnded})
	case stopErr != nil:
		c.emitLocked(&ErrorEvent{Kind: string(core.ErrSession), Message: MsgStopFailed})
	}
	c.busy = false
	closed := c.closed
	c.mu.Unlock()

	if stopErr == nil && endErr == nil {
		c.logger.Info("conversation ended")
	}
	if closed {
		c.events.close()
	}
	if endErr != nil {
		return endErr
	}
	return stopErr
}

// release stops every track and closes the audio context.
func (c *Controller) release(stream MediaStream, audio AudioContext) {
	if stream != nil {
		for _, track := range stream.Tracks() {
			track.Stop()
		}
	}
	if audio != nil {
		if err := audio.Close(); err != nil {
			c.logger.Warn("close audio context", "error", err)
		}
	}
}

func (c *Controller) handleMessage(gen uint64, msg Message) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.emitLocked(&MessageEvent{Text: msg.Text, AudioBytes: len(msg.Audio)})
	audio := c.audio
	c.mu.Unlock()

	if msg.Text != "" {
		c.logger.Debug("assistant message", "chars", len(msg.Text))
	}
	if len(msg.Audio) == 0 {
		return
	}
	if audio == nil {
		c.logger.Error("audio received without an audio context")
		c.emitFor(gen, &ErrorEvent{Kind: string(core.ErrMedia), Message: MsgNoAudioContext})
		return
	}

	buf, err := audio.Decode(msg.Audio)
	if err == nil {
		err = audio.Play(buf)
	}
	if err != nil {
		c.logger.Error("play assistant audio", "bytes", len(msg.Audio), "error", err)
		c.emitFor(gen, &ErrorEvent{Kind: string(core.ErrMedia), Message: MsgPlaybackFailed})
	}
}

// emitFor emits ev only if gen is still the current session.
func (c *Controller) emitFor(gen uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.emitLocked(ev)
}

func (c *Controller) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.emitLocked(&StateChangedEvent{From: from, To: to})
}

func (c *Controller) emitLocked(ev Event) {
	c.view = c.view.Apply(ev)
	c.events.push(ev)
}
