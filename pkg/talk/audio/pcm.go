package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Buffer is decoded PCM in a Context's output format.
type Buffer struct {
	PCM    []byte
	Format Format
}

func (b *Buffer) Duration() time.Duration {
	bps := b.Format.bytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(b.PCM)) * time.Second / time.Duration(bps)
}

var ErrEmptyAudio = errors.New("audio: empty payload")

// Decode converts a WAV, MP3 or raw mono PCM16 payload to target. Raw PCM is
// assumed to already be at target's sample rate.
func Decode(data []byte, target Format) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	var (
		pcm []byte
		src Format
		err error
	)
	switch {
	case isWAV(data):
		pcm, src, err = decodeWAV(data)
	case hasID3(data):
		pcm, src, err = decodeMP3(data)
	case isMP3Frame(data):
		pcm, src, err = decodeMP3(data)
		// A raw PCM chunk can start with bytes that look like a frame header.
		if err != nil && len(data)%2 == 0 {
			pcm, src, err = data, Format{SampleRate: target.SampleRate, Channels: 1}, nil
		}
	default:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("audio: raw pcm payload has odd length %d", len(data))
		}
		pcm, src = data, Format{SampleRate: target.SampleRate, Channels: 1}
	}
	if err != nil {
		return nil, err
	}

	pcm = convertChannels(pcm, src.Channels, target.Channels)
	pcm = resample(pcm, target.Channels, src.SampleRate, target.SampleRate)
	return &Buffer{PCM: pcm, Format: target}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func hasID3(data []byte) bool {
	return len(data) >= 3 && string(data[0:3]) == "ID3"
}

// isMP3Frame reports whether data starts with a Layer III frame header whose
// version, bitrate and sample rate fields are all usable.
func isMP3Frame(data []byte) bool {
	if len(data) < 4 || data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return false
	}
	version := (data[1] >> 3) & 0x03
	layer := (data[1] >> 1) & 0x03
	bitrate := data[2] >> 4
	sampleRate := (data[2] >> 2) & 0x03
	return version != 0x01 && layer == 0x01 && bitrate != 0x00 && bitrate != 0x0F && sampleRate != 0x03
}

// decodeWAV reads a PCM16 RIFF/WAVE payload.
func decodeWAV(data []byte) ([]byte, Format, error) {
	var (
		format    Format
		haveFmt   bool
		offset    = 12
		byteOrder = binary.LittleEndian
	)
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(byteOrder.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, errors.New("audio: wav fmt chunk too short")
			}
			audioFormat := byteOrder.Uint16(data[body : body+2])
			bits := byteOrder.Uint16(data[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", audioFormat, bits)
			}
			format.Channels = int(byteOrder.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(byteOrder.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: wav data before fmt chunk")
			}
			if format.Channels <= 0 || format.SampleRate <= 0 {
				return nil, Format{}, errors.New("audio: invalid wav format")
			}
			pcm := data[body:end]
			return pcm[:len(pcm)-len(pcm)%(2*format.Channels)], format, nil
		}

		offset = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: wav payload has no data chunk")
}

func decodeMP3(data []byte) ([]byte, Format, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always produces 16-bit stereo.
	return pcm, Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

// convertChannels downmixes by averaging or upmixes by duplicating mono.
func convertChannels(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	frames := len(pcm) / (2 * from)
	out := make([]byte, frames*to*2)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < from; c++ {
			sum += int(sampleAt(pcm, f*from+c))
		}
		mono := int16(sum / from)
		for c := 0; c < to; c++ {
			if from == 1 || to == 1 || c >= from {
				putSample(out, f*to+c, mono)
			} else {
				putSample(out, f*to+c, sampleAt(pcm, f*from+c))
			}
		}
	}
	return out
}

// resample converts sample rate with linear interpolation.
func resample(pcm []byte, channels, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 || channels <= 0 {
		return pcm
	}
	inFrames := len(pcm) / (2 * channels)
	if inFrames == 0 {
		return pcm
	}
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]byte, outFrames*channels*2)
	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := pos - float64(i)
		next := i + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(sampleAt(pcm, i*channels+c))
			b := float64(sampleAt(pcm, next*channels+c))
			putSample(out, f*channels+c, int16(a+(b-a)*frac))
		}
	}
	return out
}
