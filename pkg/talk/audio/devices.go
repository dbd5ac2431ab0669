package audio

import (
	"context"
	"io"
	"log/slog"

	"github.com/vango-go/vai-talk/pkg/talk/session"
)

// Devices opens the default microphone and speaker.
type Devices struct {
	SampleRate int
	Logger     *slog.Logger
}

var _ session.Media = (*Devices)(nil)

func NewDevices(sampleRate int, logger *slog.Logger) *Devices {
	if logger == nil {
		logger = slog.Default()
	}
	return &Devices{SampleRate: sampleRate, Logger: logger}
}

func (d *Devices) sampleRate() int {
	if d.SampleRate > 0 {
		return d.SampleRate
	}
	return session.DefaultSampleRate
}

func (d *Devices) GetUserMedia(ctx context.Context) (session.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mic, err := openMicrophone(d.sampleRate())
	if err != nil {
		return nil, err
	}
	d.Logger.Info("microphone opened", "sample_rate", mic.Format().SampleRate, "channels", mic.Format().Channels)
	return mic, nil
}

func (d *Devices) NewAudioContext(ctx context.Context) (session.AudioContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	otoCtx, ready, format, err := sharedOutput(Format{SampleRate: d.sampleRate(), Channels: 1})
	if err != nil {
		return nil, err
	}
	if format.SampleRate != d.sampleRate() {
		d.Logger.Warn("speaker already open at a different sample rate", "speaker_rate", format.SampleRate, "requested", d.sampleRate())
	}
	return newContext(format, ready, func(r io.Reader) player {
		return otoCtx.NewPlayer(r)
	}), nil
}
