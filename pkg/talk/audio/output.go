package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/vai-talk/pkg/talk/session"
)

var ErrContextClosed = errors.New("audio: context closed")

type player interface {
	Play()
	IsPlaying() bool
	Close() error
}

// oto allows a single context per process, so every session shares one and
// its format is fixed by the first session that opens it.
var shared struct {
	once   sync.Once
	ctx    *oto.Context
	ready  chan struct{}
	format Format
	err    error
}

func sharedOutput(format Format) (*oto.Context, <-chan struct{}, Format, error) {
	shared.once.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   0,
		})
		if err != nil {
			shared.err = fmt.Errorf("init speaker: %w", err)
			return
		}
		shared.ctx = otoCtx
		shared.ready = ready
		shared.format = format
	})
	return shared.ctx, shared.ready, shared.format, shared.err
}

// Context is one session's audio output. Closing it stops only the players
// it started.
type Context struct {
	format    Format
	ready     <-chan struct{}
	newPlayer func(io.Reader) player

	mu      sync.Mutex
	players []player
	closed  bool
}

var _ session.AudioContext = (*Context)(nil)

func newContext(format Format, ready <-chan struct{}, newPlayer func(io.Reader) player) *Context {
	return &Context{format: format, ready: ready, newPlayer: newPlayer}
}

func (c *Context) Format() Format { return c.format }

// Resume waits for the output device to become ready.
func (c *Context) Resume(ctx context.Context) error {
	if c.ready == nil {
		return nil
	}
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) Decode(data []byte) (session.AudioBuffer, error) {
	return Decode(data, c.format)
}

// Play starts buf immediately, mixed with anything already playing.
func (c *Context) Play(buf session.AudioBuffer) error {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		return fmt.Errorf("audio: unsupported buffer %T", buf)
	}
	if b.Format != c.format {
		return fmt.Errorf("audio: buffer format %+v does not match context %+v", b.Format, c.format)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}

	active := c.players[:0]
	for _, p := range c.players {
		if p.IsPlaying() {
			active = append(active, p)
			continue
		}
		_ = p.Close()
	}
	c.players = active

	p := c.newPlayer(bytes.NewReader(b.PCM))
	p.Play()
	c.players = append(c.players, p)
	return nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	players := c.players
	c.players = nil
	c.mu.Unlock()

	var errs []error
	for _, p := range players {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
