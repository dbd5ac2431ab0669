package session

import (
	"errors"

	"github.com/vango-go/vai-talk/pkg/core"
)

// User-facing messages.
const (
	MsgCredentials    = "Failed to get necessary credentials from server. Please check server logs and configuration."
	MsgNetwork        = "Network error. Please check your internet connection and try again."
	MsgStopFailed     = "Failed to stop conversation. Please try again."
	MsgNoAudioContext = "Audio playback failed. Please try restarting the conversation."
	MsgPlaybackFailed = "Failed to play audio response. Please try again."
	MsgSessionEnded   = "The conversation ended unexpectedly. Please try again."
	startFailedPrefix = "Failed to start conversation: "
)

// UserMessage maps a start failure to the message shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr == nil {
		return startFailedPrefix + err.Error()
	}
	switch coreErr.Kind {
	case core.ErrConfiguration:
		return MsgCredentials
	case core.ErrTransport:
		return MsgNetwork
	}
	msg := coreErr.Message
	if coreErr.Err != nil {
		msg += ": " + coreErr.Err.Error()
	}
	return startFailedPrefix + msg
}

func errorKind(err error) string {
	if kind, ok := core.KindOf(err); ok {
		return string(kind)
	}
	return "unknown"
}
