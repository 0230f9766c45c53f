package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// BytesPerSample is the width of one signed 16-bit little-endian PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether the format can describe real 16-bit PCM audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// String renders the format as "16000Hz/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Normalizer converts incoming frames to a fixed target format. Microphones
// deliver whatever the device negotiated; the capture pipeline always buffers
// in one format so chunk sizes and the WAV header stay consistent.
//
// A Normalizer is owned by a single goroutine.
type Normalizer struct {
	Target Format

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// Normalize returns frame converted to n.Target. Frames whose byte count is
// not a whole number of samples are returned with nil Data and must be
// dropped by the caller.
func (n *Normalizer) Normalize(frame Frame) Frame {
	if len(frame.Data)%(BytesPerSample*max(frame.Channels, 1)) != 0 {
		n.warnOdd.Do(func() {
			slog.Warn("audio: misaligned PCM frame dropped",
				"bytes", len(frame.Data),
				"format", Format{frame.SampleRate, frame.Channels},
			)
		})
		return Frame{SampleRate: n.Target.SampleRate, Channels: n.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == n.Target.SampleRate && frame.Channels == n.Target.Channels {
		return frame
	}

	n.warnMismatch.Do(func() {
		slog.Info("audio: converting capture format",
			"from", Format{frame.SampleRate, frame.Channels},
			"to", n.Target,
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	// Downmix before resampling so the resampler touches fewer samples.
	if channels > 1 && n.Target.Channels == 1 {
		pcm = Downmix(pcm, channels)
		channels = 1
	}
	if frame.SampleRate != n.Target.SampleRate {
		pcm = Resample(pcm, channels, frame.SampleRate, n.Target.SampleRate)
	}
	if channels == 1 && n.Target.Channels > 1 {
		pcm = Upmix(pcm, n.Target.Channels)
		channels = n.Target.Channels
	}

	return Frame{
		Data:       pcm,
		SampleRate: n.Target.SampleRate,
		Channels:   channels,
		Timestamp:  frame.Timestamp,
	}
}

func sampleAt(pcm []byte, i int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
}

func putSample(pcm []byte, i int, v int32) {
	v = min(max(v, -32768), 32767)
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(int16(v)))
}

// Downmix averages interleaved channels into mono. Trailing bytes that do not
// form a whole frame are ignored.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (BytesPerSample * channels)
	out := make([]byte, frames*BytesPerSample)
	for f := range frames {
		var sum int32
		for c := range channels {
			sum += sampleAt(pcm, f*channels+c)
		}
		putSample(out, f, sum/int32(channels))
	}
	return out
}

// Upmix copies each mono sample into every output channel.
func Upmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*channels*BytesPerSample)
	for i := range n {
		v := sampleAt(pcm, i)
		for c := range channels {
			putSample(out, i*channels+c, v)
		}
	}
	return out
}

// Resample converts interleaved PCM from srcRate to dstRate by linear
// interpolation on each channel. Invalid rates return the input unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (BytesPerSample * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+c))
			s1 := float64(sampleAt(pcm, next*channels+c))
			putSample(out, i*channels+c, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// Float32Mono decodes 16-bit mono PCM into samples in [-1, 1).
func Float32Mono(pcm []byte, dst []float64) []float64 {
	n := len(pcm) / BytesPerSample
	for i := range n {
		dst = append(dst, float64(sampleAt(pcm, i))/32768)
	}
	return dst
}
