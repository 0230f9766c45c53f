package audio

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Segment is the ordered list of chunks collected since the last flush. It
// tracks the total byte size and a content signature used to recognise a
// resubmission of identical audio.
//
// A Segment is not safe for concurrent use; its owner serialises access.
type Segment struct {
	chunks   []Chunk
	size     int
	duration time.Duration
	digest   *xxhash.Digest
}

// Append adds c to the end of the segment. Empty chunks are ignored.
func (s *Segment) Append(c Chunk) {
	if len(c.Data) == 0 {
		return
	}
	if s.digest == nil {
		s.digest = xxhash.New()
	}
	_, _ = s.digest.Write(c.Data)
	s.chunks = append(s.chunks, c)
	s.size += len(c.Data)
	s.duration += c.Duration
}

// Len returns the number of chunks.
func (s *Segment) Len() int { return len(s.chunks) }

// Size returns the total payload size in bytes.
func (s *Segment) Size() int { return s.size }

// Duration returns the total audio length of all chunks.
func (s *Segment) Duration() time.Duration { return s.duration }

// Empty reports whether the segment holds no chunks.
func (s *Segment) Empty() bool { return len(s.chunks) == 0 }

// Format returns the sample format of the first chunk, or the zero Format
// for an empty segment.
func (s *Segment) Format() Format {
	if len(s.chunks) == 0 {
		return Format{}
	}
	return s.chunks[0].Format
}

// Signature returns a hex digest of the chunk payloads in order. Two segments
// with the same bytes in the same order have the same signature. An empty
// segment has an empty signature.
func (s *Segment) Signature() string {
	if s.digest == nil {
		return ""
	}
	return strconv.FormatUint(s.digest.Sum64(), 16)
}

// Bytes concatenates the chunk payloads.
func (s *Segment) Bytes() []byte {
	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c.Data...)
	}
	return out
}

// Chunks returns a copy of the chunk list.
func (s *Segment) Chunks() []Chunk {
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Take moves the contents into a new Segment and leaves s empty.
func (s *Segment) Take() Segment {
	out := *s
	*s = Segment{}
	return out
}

// Reset discards all chunks.
func (s *Segment) Reset() {
	*s = Segment{}
}
