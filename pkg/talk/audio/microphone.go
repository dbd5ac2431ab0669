package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-talk/pkg/talk/session"
)

// pcmQueue hands captured audio from the device callback to a blocking reader.
// When more than max bytes are pending the oldest audio is dropped.
type pcmQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	max    int
	closed bool
}

func newPCMQueue(max int) *pcmQueue {
	q := &pcmQueue{max: max}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pcmQueue) write(p []byte) {
	q.mu.Lock()
	if !q.closed {
		q.buf = append(q.buf, p...)
		if q.max > 0 && len(q.buf) > q.max {
			drop := len(q.buf) - q.max
			drop += drop % 2
			q.buf = append(q.buf[:0], q.buf[drop:]...)
		}
	}
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *pcmQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Microphone is a captured mono PCM16 stream with a single track. Reads block
// until audio is available and return io.EOF once the track is stopped.
type Microphone struct {
	format Format
	queue  *pcmQueue

	stopOnce sync.Once
	release  func()
}

var (
	_ session.MediaStream = (*Microphone)(nil)
	_ session.Track       = (*Microphone)(nil)
	_ io.Reader           = (*Microphone)(nil)
)

func newMicrophone(format Format, release func()) *Microphone {
	return &Microphone{
		format:  format,
		queue:   newPCMQueue(format.bytesPerSecond() * 2),
		release: release,
	}
}

func (m *Microphone) Format() Format { return m.format }

func (m *Microphone) Tracks() []session.Track {
	return []session.Track{m}
}

func (m *Microphone) Read(p []byte) (int, error) {
	return m.queue.Read(p)
}

// Stop releases the capture device. It is safe to call more than once.
func (m *Microphone) Stop() {
	m.stopOnce.Do(func() {
		if m.release != nil {
			m.release()
		}
		m.queue.close()
	})
}

// openMicrophone starts a malgo capture device.
func openMicrophone(sampleRate int) (*Microphone, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	var (
		mic    *Microphone
		device *malgo.Device
	)
	format := Format{SampleRate: sampleRate, Channels: 1}
	mic = newMicrophone(format, func() {
		if device != nil {
			_ = device.Stop()
			device.Uninit()
		}
		_ = mctx.Uninit()
		mctx.Free()
	})

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			mic.queue.write(pInputSamples)
		},
	}

	device, err = malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mic.Stop()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		mic.Stop()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	return mic, nil
}
