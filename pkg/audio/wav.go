package audio

import (
	"encoding/binary"
	"errors"
)

// MIMEWAV is the content type of WAV containers produced by [EncodeWAV].
const MIMEWAV = "audio/wav"

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * BytesPerSample
	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 8*BytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// ErrNotWAV is returned by [DecodeWAV] for input that is not a canonical
// 16-bit PCM WAV file.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM wav")

// DecodeWAV splits a canonical 44-byte-header WAV file into its PCM payload
// and format.
func DecodeWAV(b []byte) ([]byte, Format, error) {
	if len(b) < wavHeaderSize || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(b[20:22]) != 1 || binary.LittleEndian.Uint16(b[34:36]) != 16 {
		return nil, Format{}, ErrNotWAV
	}
	f := Format{
		SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
	}
	n := int(binary.LittleEndian.Uint32(b[40:44]))
	if n > len(b)-wavHeaderSize {
		n = len(b) - wavHeaderSize
	}
	return b[wavHeaderSize : wavHeaderSize+n], f, nil
}

// WAV packages the segment's PCM as a WAV upload.
func (s *Segment) WAV() []byte {
	return EncodeWAV(s.Bytes(), s.Format())
}
