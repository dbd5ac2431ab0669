// Package bland is a websocket voice session client for a hosted agent.
package bland

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-talk/pkg/core"
	"github.com/vango-go/vai-talk/pkg/talk/audio"
	"github.com/vango-go/vai-talk/pkg/talk/session"
)

// DefaultURL is the voice session endpoint.
const DefaultURL = "wss://web.bland.ai/ws/agent"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultStopTimeout    = 2 * time.Second
	frameDuration         = 20 * time.Millisecond
)

type Options struct {
	URL            string
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	// StopTimeout bounds how long StopConversation waits for the server to
	// close and for the microphone pump to exit.
	StopTimeout time.Duration
	Logger      *slog.Logger
	// NewDetector builds the speech detector for a session. Defaults to
	// audio.NewSpeechDetector.
	NewDetector func(sampleRate int) *audio.SpeechDetector
}

// NewFactory returns a session.ConversationFactory producing websocket
// conversations configured with opts.
func NewFactory(opts Options) session.ConversationFactory {
	return func(agentID, token string) session.Conversation {
		return New(agentID, token, opts)
	}
}

// Conversation is one voice session. It is started once and stopped once.
type Conversation struct {
	agentID string
	token   string
	opts    Options
	logger  *slog.Logger

	conn     *websocket.Conn
	cfg      session.ConversationConfig
	started  atomic.Bool
	stopping chan struct{}
	readDone chan struct{}
	pumpDone chan struct{}

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

var _ session.Conversation = (*Conversation)(nil)

func New(agentID, token string, opts Options) *Conversation {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.NewDetector == nil {
		opts.NewDetector = audio.NewSpeechDetector
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		agentID:  agentID,
		token:    token,
		opts:     opts,
		logger:   logger.With("agent_id", agentID),
		stopping: make(chan struct{}),
		readDone: make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

func (c *Conversation) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse voice url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("agent", c.agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// InitConversation dials the voice endpoint, announces the audio format and
// waits for the server to accept the session. cfg.Input must be an io.Reader
// producing mono pcm_s16le at cfg.SampleRate.
func (c *Conversation) InitConversation(ctx context.Context, cfg session.ConversationConfig) error {
	if !c.started.CompareAndSwap(false, true) {
		return core.NewSessionError("voice session already started", nil)
	}
	input, ok := cfg.Input.(io.Reader)
	if !ok {
		return core.NewSessionError(fmt.Sprintf("microphone stream %T is not readable", cfg.Input), nil)
	}
	if cfg.SampleRate <= 0 {
		return core.NewSessionError("sample rate must be positive", nil)
	}
	c.cfg = cfg

	wsURL, err := c.endpoint()
	if err != nil {
		return core.NewSessionError("invalid voice endpoint", err)
	}

	headers := make(http.Header)
	headers.Set("Authorization", c.token)

	dialer := c.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return core.NewSessionError(fmt.Sprintf("voice session rejected (status %d)", resp.StatusCode), err)
		}
		return core.NewTransportError("connect voice session", err)
	}

	if err := conn.WriteJSON(startFrame{
		Type:       frameStart,
		AgentID:    c.agentID,
		SampleRate: cfg.SampleRate,
		Encoding:   encodingPCM16,
		Channels:   1,
	}); err != nil {
		_ = conn.Close()
		return core.NewTransportError("send start frame", err)
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if d, ok := dialCtx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return core.NewTransportError("read ready frame", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = conn.Close()
		return core.NewSessionError(fmt.Sprintf("unexpected first frame type %d", messageType), nil)
	}

	var first serverFrame
	if err := json.Unmarshal(payload, &first); err != nil {
		_ = conn.Close()
		return core.NewSessionError("decode ready frame", err)
	}
	switch first.Type {
	case frameReady:
	case frameError:
		_ = conn.Close()
		return core.NewSessionError(strings.TrimSpace(first.Message), nil)
	default:
		_ = conn.Close()
		return core.NewSessionError(fmt.Sprintf("unexpected first frame %q", first.Type), nil)
	}

	c.conn = conn
	c.logger.Info("voice session ready", "sample_rate", cfg.SampleRate)

	go c.readLoop()
	go c.pumpLoop(input)
	return nil
}

// StopConversation asks the server to end the session, closes the socket
// and waits for the session goroutines.
func (c *Conversation) StopConversation(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	c.stopOnce.Do(func() {
		close(c.stopping)

		select {
		case <-c.readDone:
			// The server already ended the session.
		default:
			if err := c.writeJSON(stopFrame{Type: frameStop}); err != nil {
				c.stopErr = core.NewSessionError("send stop frame", err)
			}
		}
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.StopTimeout))
		c.writeMu.Unlock()

		if !waitDone(ctx, c.readDone, c.opts.StopTimeout) {
			c.logger.Warn("voice session did not close in time")
		}
		_ = c.conn.Close()
		<-c.readDone

		if !waitDone(ctx, c.pumpDone, c.opts.StopTimeout) {
			c.logger.Warn("microphone pump still blocked after stop")
		}
		c.logger.Info("voice session stopped")
	})
	return c.stopErr
}

func waitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Conversation) isStopping() bool {
	select {
	case <-c.stopping:
		return true
	default:
		return false
	}
}

func (c *Conversation) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Conversation) writeAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// readLoop delivers server frames until the socket closes. When the session
// ends without a local stop, cfg.OnError is told why after readDone closes.
func (c *Conversation) readLoop() {
	var endErr error
	defer func() {
		close(c.readDone)
		if endErr != nil && !c.isStopping() && c.cfg.OnError != nil {
			c.cfg.OnError(endErr)
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isStopping() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("voice session closed by server")
				endErr = core.NewSessionError("voice session closed by server", nil)
				return
			}
			c.logger.Error("voice session read failed", "error", err)
			endErr = core.NewTransportError("voice session connection lost", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var frame serverFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Warn("ignoring malformed frame", "error", err)
				continue
			}
			switch frame.Type {
			case frameMessage:
				c.deliver(session.Message{Text: frame.Text, Audio: frame.Audio})
			case frameError:
				c.logger.Error("voice session error", "code", frame.Code, "message", frame.Message)
				endErr = core.NewSessionError(strings.TrimSpace(frame.Message), nil)
				return
			default:
				c.logger.Debug("ignoring frame", "type", frame.Type)
			}
		case websocket.BinaryMessage:
			c.deliver(session.Message{Audio: append([]byte(nil), data...)})
		}
	}
}

func (c *Conversation) deliver(msg session.Message) {
	if c.isStopping() || c.cfg.OnMessage == nil {
		return
	}
	if msg.Text == "" && len(msg.Audio) == 0 {
		return
	}
	c.cfg.OnMessage(msg)
}

// pumpLoop streams microphone audio to the server in fixed-size frames and
// runs local speech detection over it.
func (c *Conversation) pumpLoop(input io.Reader) {
	defer close(c.pumpDone)

	detector := c.opts.NewDetector(c.cfg.SampleRate)
	frameBytes := int(int64(c.cfg.SampleRate)*int64(frameDuration)/int64(time.Second)) * 2
	if frameBytes <= 0 {
		frameBytes = 640
	}
	buf := make([]byte, frameBytes)

	for {
		n, err := io.ReadFull(input, buf)
		if n > 0 && !c.isStopping() {
			chunk := buf[:n-n%2]
			c.detect(detector, chunk)
			if werr := c.writeAudio(chunk); werr != nil {
				if !c.isStopping() {
					c.logger.Warn("send microphone audio", "error", werr)
				}
				return
			}
		}
		if err != nil || c.isStopping() {
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Warn("read microphone", "error", err)
			}
			if detector.Speaking() && c.cfg.OnSpeechEnd != nil && !c.isStopping() {
				c.cfg.OnSpeechEnd()
			}
			return
		}
	}
}

func (c *Conversation) detect(detector *audio.SpeechDetector, chunk []byte) {
	started, ended := detector.Process(chunk)
	if started && c.cfg.OnSpeechStart != nil {
		c.cfg.OnSpeechStart()
	}
	if ended && c.cfg.OnSpeechEnd != nil {
		c.cfg.OnSpeechEnd()
	}
}
