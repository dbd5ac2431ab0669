package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type fakeTokens struct {
	calls atomic.Int32
	fetch func(ctx context.Context, call int) (Credentials, error)
}

func (f *fakeTokens) FetchToken(ctx context.Context) (Credentials, error) {
	n := int(f.calls.Add(1))
	if f.fetch == nil {
		return Credentials{Token: "tok-abc", AgentID: "A1"}, nil
	}
	return f.fetch(ctx, n)
}

type fakeTrack struct {
	stops atomic.Int32
}

func (t *fakeTrack) Stop() { t.stops.Add(1) }

type fakeStream struct {
	tracks []*fakeTrack
}

func newFakeStream(n int) *fakeStream {
	s := &fakeStream{}
	for i := 0; i < n; i++ {
		s.tracks = append(s.tracks, &fakeTrack{})
	}
	return s
}

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if t.stops.Load() == 0 {
			return false
		}
	}
	return true
}

type fakeBuffer struct{ n int }

func (b fakeBuffer) Duration() time.Duration { return time.Duration(b.n) * time.Millisecond }

type fakeAudio struct {
	mu        sync.Mutex
	resumeErr error
	decodeErr error
	playErr   error
	played    int
	closed    int
}

func (a *fakeAudio) Resume(ctx context.Context) error { return a.resumeErr }

func (a *fakeAudio) Decode(data []byte) (AudioBuffer, error) {
	if a.decodeErr != nil {
		return nil, a.decodeErr
	}
	return fakeBuffer{n: len(data)}, nil
}

func (a *fakeAudio) Play(buf AudioBuffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.playErr != nil {
		return a.playErr
	}
	a.played++
	return nil
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *fakeAudio) closedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *fakeAudio) playedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.played
}

type fakeMedia struct {
	stream    *fakeStream
	streamErr error
	audio     AudioContext
	audioErr  error
}

func (m *fakeMedia) GetUserMedia(ctx context.Context) (MediaStream, error) {
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	return m.stream, nil
}

func (m *fakeMedia) NewAudioContext(ctx context.Context) (AudioContext, error) {
	if m.audioErr != nil {
		return nil, m.audioErr
	}
	return m.audio, nil
}

type fakeConversation struct {
	agentID string
	token   string
	initErr error
	stopErr error
	onInit  func(cfg ConversationConfig)

	mu    sync.Mutex
	cfg   ConversationConfig
	stops int
}

func (f *fakeConversation) InitConversation(ctx context.Context, cfg ConversationConfig) error {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	if f.onInit != nil {
		f.onInit(cfg)
	}
	return f.initErr
}

func (f *fakeConversation) StopConversation(ctx context.Context) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakeConversation) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeConversation) config() ConversationConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

type harness struct {
	tokens *fakeTokens
	media  *fakeMedia
	stream *fakeStream
	audio  *fakeAudio
	conv   *fakeConversation
	opts   Options
}

func newHarness() *harness {
	h := &harness{
		tokens: &fakeTokens{},
		stream: newFakeStream(2),
		audio:  &fakeAudio{},
		conv:   &fakeConversation{},
	}
	h.media = &fakeMedia{stream: h.stream, audio: h.audio}
	h.opts = Options{
		Tokens: h.tokens,
		Media:  h.media,
		NewConversation: func(agentID, token string) Conversation {
			h.conv.agentID = agentID
			h.conv.token = token
			return h.conv
		},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryDelay: 10 * time.Millisecond,
	}
	return h
}

var errBoom = errors.New("boom")
