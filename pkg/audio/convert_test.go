package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/voxmemo/voxmemo/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian PCM to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo average", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"stereo clamps", []int16{32767, 32767}, 2, []int16{32767}},
		{"mono passthrough", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
		{"three channels", []int16{30, 60, 90}, 3, []int16{60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			equalSamples(t, bytesToSamples(audio.Downmix(samplesToBytes(tt.in), tt.channels)), tt.want)
		})
	}
}

func TestUpmix(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.Upmix(samplesToBytes([]int16{100, 200, 300}), 2))
	equalSamples(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	out := bytesToSamples(audio.Resample(samplesToBytes([]int16{1000, 2000}), 1, 16000, 48000))
	if len(out) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(out))
	}
	if out[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", out[0])
	}
	if last := out[len(out)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	out := audio.Resample(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 1, 48000, 16000)
	if got := len(out) / 2; got != 2 {
		t.Fatalf("expected 2 samples, got %d", got)
	}
}

func TestResample_Stereo(t *testing.T) {
	t.Parallel()
	out := audio.Resample(samplesToBytes([]int16{100, 200, 300, 400}), 2, 16000, 48000)
	if got := len(out) / 2; got != 12 {
		t.Fatalf("expected 12 samples, got %d", got)
	}
}

func TestResample_InvalidRates(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
		if out := audio.Resample(pcm, 1, rates[0], rates[1]); len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestNormalizer_Passthrough(t *testing.T) {
	t.Parallel()
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	f := audio.Frame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 16000, Channels: 1}
	got := n.Normalize(f)
	if &got.Data[0] != &f.Data[0] {
		t.Error("expected the same slice for a matching format")
	}
}

func TestNormalizer_StereoToMono16k(t *testing.T) {
	t.Parallel()
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	// 6 stereo frames at 48 kHz → 2 mono samples at 16 kHz.
	f := audio.Frame{
		Data:       samplesToBytes([]int16{100, 300, 100, 300, 100, 300, 500, 700, 500, 700, 500, 700}),
		SampleRate: 48000,
		Channels:   2,
	}
	got := n.Normalize(f)
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("format = %s, want 16000Hz/1ch", got.Format())
	}
	equalSamples(t, bytesToSamples(got.Data), []int16{200, 600})
}

func TestNormalizer_MisalignedDropped(t *testing.T) {
	t.Parallel()
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	got := n.Normalize(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(got.Data) != 0 {
		t.Errorf("expected empty data for odd byte count, got %d bytes", len(got.Data))
	}
	if got.SampleRate != 16000 {
		t.Errorf("dropped frame should carry target rate, got %d", got.SampleRate)
	}
}
