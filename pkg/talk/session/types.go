package session

import (
	"context"
	"time"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
)

// Credentials is what the token broker hands out for one voice session.
type Credentials struct {
	Token   string
	AgentID string
}

// TokenFetcher obtains fresh session credentials.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (Credentials, error)
}

// Track is one captured media track.
type Track interface {
	Stop()
}

// MediaStream is an acquired microphone stream.
type MediaStream interface {
	Tracks() []Track
}

// AudioBuffer is decoded audio ready to be played on the AudioContext that
// produced it.
type AudioBuffer interface {
	Duration() time.Duration
}

// AudioContext decodes and plays assistant audio for one session.
type AudioContext interface {
	Resume(ctx context.Context) error
	Decode(data []byte) (AudioBuffer, error)
	Play(buf AudioBuffer) error
	Close() error
}

// Media acquires the microphone and the audio output.
type Media interface {
	GetUserMedia(ctx context.Context) (MediaStream, error)
	NewAudioContext(ctx context.Context) (AudioContext, error)
}

// Message is one assistant message. Either field may be empty.
type Message struct {
	Text  string
	Audio []byte
}

// ConversationConfig configures a voice session. Callbacks may be invoked from
// any goroutine.
type ConversationConfig struct {
	SampleRate    int
	Input         MediaStream
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnMessage     func(Message)
	// OnError reports that the session ended without StopConversation being
	// called. It fires at most once; StopConversation must still be called.
	OnError func(error)
}

// Conversation is a voice session with the assistant.
type Conversation interface {
	InitConversation(ctx context.Context, cfg ConversationConfig) error
	StopConversation(ctx context.Context) error
}

// ConversationFactory builds a Conversation for the given credentials.
type ConversationFactory func(agentID, token string) Conversation
