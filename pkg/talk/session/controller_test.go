package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-talk/pkg/core"
)

func newController(t *testing.T, h *harness) *Controller {
	t.Helper()
	c, err := New(h.opts)
	require.NoError(t, err)
	return c
}

func drain(t *testing.T, c *Controller) []Event {
	t.Helper()
	require.NoError(t, c.Close(context.Background()))
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	h := newHarness()

	opts := h.opts
	opts.Tokens = nil
	_, err := New(opts)
	assert.Error(t, err)

	opts = h.opts
	opts.Media = nil
	_, err = New(opts)
	assert.Error(t, err)

	opts = h.opts
	opts.NewConversation = nil
	_, err = New(opts)
	assert.Error(t, err)
}

func TestToggle_FullFlowReachesActive(t *testing.T) {
	h := newHarness()
	c := newController(t, h)

	require.NoError(t, c.Toggle(context.Background()))

	assert.Equal(t, StateActive, c.State())
	view := c.Snapshot()
	assert.Equal(t, StateActive, view.Status)
	assert.True(t, view.Processing, "processing stays set until the first message")
	assert.Equal(t, "End Call", view.ButtonLabel())
	assert.True(t, view.ShowMicIndicator())

	assert.Equal(t, "A1", h.conv.agentID)
	assert.Equal(t, "tok-abc", h.conv.token)
	cfg := h.conv.config()
	assert.Equal(t, DefaultSampleRate, cfg.SampleRate)
	assert.Same(t, h.stream, cfg.Input)
	assert.Equal(t, int32(1), h.tokens.calls.Load())
}

func TestToggle_RetriesTokenFetchWithFixedDelay(t *testing.T) {
	h := newHarness()
	h.opts.RetryDelay = 0 // default of one second
	h.tokens.fetch = func(ctx context.Context, call int) (Credentials, error) {
		if call < 3 {
			return Credentials{}, core.NewTransportError("fetch token", errBoom)
		}
		return Credentials{Token: "tok-abc", AgentID: "A1"}, nil
	}

	var (
		mu      sync.Mutex
		retries []time.Duration
	)
	h.opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		retries = append(retries, delay)
		assert.Equal(t, len(retries), attempt)
		assert.True(t, core.IsKind(err, core.ErrTransport))
	}
	c := newController(t, h)

	start := time.Now()
	require.NoError(t, c.Toggle(context.Background()))
	elapsed := time.Since(start)

	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, int32(3), h.tokens.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, retries)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
}

func TestToggle_TokenAlwaysFails(t *testing.T) {
	h := newHarness()
	h.tokens.fetch = func(ctx context.Context, call int) (Credentials, error) {
		return Credentials{}, core.NewTransportError("fetch token", errBoom)
	}
	retries := 0
	h.opts.OnRetry = func(int, time.Duration, error) { retries++ }
	c := newController(t, h)

	err := c.Toggle(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrTransport))

	assert.Equal(t, int32(3), h.tokens.calls.Load())
	assert.Equal(t, 2, retries)
	view := c.Snapshot()
	assert.Equal(t, StateIdle, view.Status)
	assert.False(t, view.Processing)
	assert.Equal(t, MsgNetwork, view.Error)
	assert.Equal(t, 0, h.conv.stops)
}

func TestToggle_ContextCancelledDuringRetry(t *testing.T) {
	h := newHarness()
	h.opts.RetryDelay = time.Hour
	h.tokens.fetch = func(ctx context.Context, call int) (Credentials, error) {
		return Credentials{}, core.NewTransportError("fetch token", errBoom)
	}
	c := newController(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Toggle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, int32(1), h.tokens.calls.Load())
}

func TestToggle_EachFailingStepReturnsToIdle(t *testing.T) {
	cases := []struct {
		name         string
		setup        func(h *harness)
		wantMessage  string
		wantReleased bool
	}{
		{
			name: "credentials",
			setup: func(h *harness) {
				h.tokens.fetch = func(context.Context, int) (Credentials, error) {
					return Credentials{}, core.NewConfigurationError("Server configuration error", "Missing required environment variables")
				}
			},
			wantMessage: MsgCredentials,
		},
		{
			name: "upstream",
			setup: func(h *harness) {
				h.tokens.fetch = func(context.Context, int) (Credentials, error) {
					return Credentials{}, core.NewUpstreamError("Failed to fetch token", 401, "bad key")
				}
			},
			wantMessage: "Failed to start conversation: Failed to fetch token",
		},
		{
			name:        "microphone",
			setup:       func(h *harness) { h.media.streamErr = errors.New("permission denied") },
			wantMessage: "Failed to start conversation: microphone unavailable: permission denied",
		},
		{
			name:         "audio context",
			setup:        func(h *harness) { h.media.audioErr = errBoom },
			wantMessage:  "Failed to start conversation: audio output unavailable: boom",
			wantReleased: true,
		},
		{
			name:         "audio resume",
			setup:        func(h *harness) { h.audio.resumeErr = errBoom },
			wantMessage:  "Failed to start conversation: audio output unavailable: boom",
			wantReleased: true,
		},
		{
			name:         "voice session",
			setup:        func(h *harness) { h.conv.initErr = errBoom },
			wantMessage:  "Failed to start conversation: voice session failed to start: boom",
			wantReleased: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.setup(h)
			c := newController(t, h)

			require.Error(t, c.Toggle(context.Background()))

			view := c.Snapshot()
			assert.Equal(t, StateIdle, view.Status)
			assert.False(t, view.Processing)
			assert.Equal(t, tc.wantMessage, view.Error)
			assert.Equal(t, "Talk with Assistant", view.ButtonLabel())
			if tc.wantReleased {
				assert.True(t, h.stream.allStopped(), "tracks must be stopped")
			}
			if h.media.audioErr == nil && h.media.streamErr == nil && tc.wantReleased {
				assert.Equal(t, 1, h.audio.closedCount())
			}
		})
	}
}

func TestToggle_FromActiveStopsAndReleasesEverything(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	h.conv.config().OnMessage(Message{Text: "hello"})
	h.conv.config().OnSpeechStart()
	require.Equal(t, "hello", c.Snapshot().Message)

	require.NoError(t, c.Toggle(context.Background()))

	view := c.Snapshot()
	assert.Equal(t, StateIdle, view.Status)
	assert.Empty(t, view.Message)
	assert.False(t, view.Speaking)
	assert.False(t, view.Processing)
	assert.Empty(t, view.Error)
	assert.True(t, h.stream.allStopped())
	assert.Equal(t, 1, h.audio.closedCount())
	assert.Equal(t, 1, h.conv.stops)
}

func TestToggle_StopFailureStillReleasesTracks(t *testing.T) {
	h := newHarness()
	h.conv.stopErr = errBoom
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	err := c.Toggle(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.ErrSession))

	view := c.Snapshot()
	assert.Equal(t, StateIdle, view.Status)
	assert.Equal(t, MsgStopFailed, view.Error)
	assert.True(t, h.stream.allStopped())
	assert.Equal(t, 1, h.audio.closedCount())
}

func TestToggle_IgnoredWhileConnecting(t *testing.T) {
	h := newHarness()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.tokens.fetch = func(ctx context.Context, call int) (Credentials, error) {
		close(entered)
		<-release
		return Credentials{Token: "tok-abc", AgentID: "A1"}, nil
	}
	c := newController(t, h)

	done := make(chan error, 1)
	go func() { done <- c.Toggle(context.Background()) }()
	<-entered

	view := c.Snapshot()
	assert.Equal(t, StateConnecting, view.Status)
	assert.True(t, view.ButtonDisabled())
	assert.Equal(t, "Connecting...", view.ButtonLabel())

	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, StateConnecting, c.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateActive, c.State())
	assert.Equal(t, int32(1), h.tokens.calls.Load())
}

func TestToggle_ClearsPreviousError(t *testing.T) {
	h := newHarness()
	h.media.streamErr = errBoom
	c := newController(t, h)
	require.Error(t, c.Toggle(context.Background()))
	require.NotEmpty(t, c.Snapshot().Error)

	h.media.streamErr = nil
	require.NoError(t, c.Toggle(context.Background()))
	assert.Empty(t, c.Snapshot().Error)

	events := drain(t, c)
	var cleared bool
	for _, ev := range events {
		if _, ok := ev.(*ErrorClearedEvent); ok {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected an ErrorClearedEvent")
}

func TestMessage_PlaysAudioAndClearsProcessing(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	h.conv.config().OnMessage(Message{Text: "hi there", Audio: []byte{1, 2, 3, 4}})

	view := c.Snapshot()
	assert.Equal(t, "hi there", view.Message)
	assert.False(t, view.Processing)
	assert.Equal(t, 1, h.audio.playedCount())
	assert.Empty(t, view.Error)
}

func TestMessage_PlaybackFailureIsNonFatal(t *testing.T) {
	h := newHarness()
	h.audio.decodeErr = errBoom
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	h.conv.config().OnMessage(Message{Audio: []byte{1, 2}})

	view := c.Snapshot()
	assert.Equal(t, StateActive, view.Status)
	assert.Equal(t, MsgPlaybackFailed, view.Error)
}

func TestMessage_NoAudioContext(t *testing.T) {
	h := newHarness()
	h.media.audio = nil
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	h.conv.config().OnMessage(Message{Text: "hi", Audio: []byte{1, 2}})

	view := c.Snapshot()
	assert.Equal(t, StateActive, view.Status)
	assert.Equal(t, "hi", view.Message)
	assert.Equal(t, MsgNoAudioContext, view.Error)
}

func TestCallbacksFromEndedSessionAreDropped(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))
	stale := h.conv.config()
	require.NoError(t, c.Toggle(context.Background()))

	stale.OnSpeechStart()
	stale.OnMessage(Message{Text: "late", Audio: []byte{1}})

	view := c.Snapshot()
	assert.False(t, view.Speaking)
	assert.Empty(t, view.Message)
	assert.Equal(t, 0, h.audio.playedCount())
}

func TestSessionEndedRemotelyReturnsToIdle(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))
	h.conv.config().OnMessage(Message{Text: "hello"})

	h.conv.config().OnError(core.NewSessionError("agent went away", nil))

	require.Eventually(t, func() bool { return c.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	view := c.Snapshot()
	assert.Equal(t, MsgSessionEnded, view.Error)
	assert.Empty(t, view.Message)
	assert.Equal(t, "Talk with Assistant", view.ButtonLabel())
	assert.True(t, h.stream.allStopped())
	assert.Equal(t, 1, h.audio.closedCount())
	assert.Equal(t, 1, h.conv.stopCount())

	// The button works again and clears the error.
	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, StateActive, c.State())
	assert.Empty(t, c.Snapshot().Error)
}

func TestSessionEndedRemotelyHidesStopFailure(t *testing.T) {
	h := newHarness()
	h.conv.stopErr = errBoom
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))

	h.conv.config().OnError(core.NewTransportError("voice session connection lost", errBoom))

	require.Eventually(t, func() bool { return c.State() == StateIdle }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, MsgSessionEnded, c.Snapshot().Error)
	assert.True(t, h.stream.allStopped())
}

func TestSessionEndedWhileConnecting(t *testing.T) {
	h := newHarness()
	h.conv.onInit = func(cfg ConversationConfig) {
		cfg.OnError(core.NewSessionError("agent went away", nil))
		time.Sleep(20 * time.Millisecond)
	}
	c := newController(t, h)

	_ = c.Toggle(context.Background())

	require.Eventually(t, func() bool {
		return c.State() == StateIdle && c.Snapshot().Error == MsgSessionEnded
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.stream.allStopped())
	assert.Equal(t, 1, h.audio.closedCount())
}

func TestSessionEndedAfterStopIsDropped(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))
	stale := h.conv.config()
	require.NoError(t, c.Toggle(context.Background()))

	stale.OnError(core.NewSessionError("late", nil))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Snapshot().Error)
	assert.Equal(t, 1, h.conv.stopCount())
}

func TestEvents_DeliveredInOrderAndClosedOnClose(t *testing.T) {
	h := newHarness()
	c := newController(t, h)
	require.NoError(t, c.Toggle(context.Background()))
	cfg := h.conv.config()
	cfg.OnSpeechStart()
	cfg.OnSpeechEnd()
	cfg.OnMessage(Message{Text: "hello"})

	events := drain(t, c)

	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType())
	}
	assert.Equal(t, []string{
		"state.changed",
		"processing",
		"state.changed",
		"speech.started",
		"speech.ended",
		"message",
		"state.changed",
	}, types)

	view := NewView()
	for _, ev := range events {
		view = view.Apply(ev)
	}
	assert.Equal(t, StateIdle, view.Status)
	assert.Empty(t, view.Message)

	assert.True(t, h.stream.allStopped(), "Close stops an active session")
	assert.ErrorIs(t, c.Toggle(context.Background()), ErrClosed)
}

func TestEvents_SameChannelOnEveryCall(t *testing.T) {
	c := newController(t, newHarness())
	assert.Equal(t, c.Events(), c.Events())
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{core.NewConfigurationError("Token or Agent ID not received from server", ""), MsgCredentials},
		{core.NewTransportError("fetch token", errBoom), MsgNetwork},
		{core.NewMediaError("microphone unavailable", errBoom), "Failed to start conversation: microphone unavailable: boom"},
		{errors.New("weird"), "Failed to start conversation: weird"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, UserMessage(tc.err))
	}
	assert.Empty(t, UserMessage(nil))
	assert.True(t, strings.HasPrefix(UserMessage(core.NewSessionError("x", nil)), "Failed to start conversation: "))
}
