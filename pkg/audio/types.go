package audio

import "time"

// Frame is one block of signed 16-bit little-endian PCM read from a
// [Stream]. Frames are the unit of transport between a microphone and the
// chunk [Encoder].
type Frame struct {
	// Data holds interleaved PCM samples.
	Data []byte

	// SampleRate in Hz (e.g. 48000 from a desktop device, 16000 after normalisation).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample format.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	bps := f.Format().BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(f.Data)) * time.Second / time.Duration(bps)
}

// Chunk is a binary block emitted by the [Encoder] roughly once per chunk
// interval. Chunks are appended to a [Segment] in emission order.
type Chunk struct {
	// Seq numbers chunks from 0 within one encoder run.
	Seq int

	// Data is the encoded payload. For the PCM encoder this is raw PCM in
	// the encoder's target format.
	Data []byte

	// Format is the sample format of Data.
	Format Format

	// Duration is the audio length represented by Data.
	Duration time.Duration
}
