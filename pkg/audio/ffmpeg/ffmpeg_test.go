package ffmpeg_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxmemo/voxmemo/pkg/audio"
	"github.com/voxmemo/voxmemo/pkg/audio/ffmpeg"
)

func writeScript(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestOpen_ReadsFramesAndCloses(t *testing.T) {
	t.Parallel()
	// 640 bytes = two 10 ms frames of 16 kHz mono.
	script := writeScript(t, "capture.sh", "#!/bin/sh\nhead -c 640 /dev/zero\nsleep 5\n")
	mic := ffmpeg.New(ffmpeg.WithCommand(script), ffmpeg.WithFrameSize(10*time.Millisecond))

	s, err := mic.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Format() != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("Format = %s", s.Format())
	}

	for i := range 2 {
		select {
		case f := <-s.Frames():
			if len(f.Data) != 320 {
				t.Errorf("frame %d: %d bytes, want 320", i, len(f.Data))
			}
			if want := time.Duration(i) * 10 * time.Millisecond; f.Timestamp != want {
				t.Errorf("frame %d: timestamp %s, want %s", i, f.Timestamp, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", s.Err())
	}
}

func TestOpen_EarlyExitPermission(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "deny.sh", "#!/bin/sh\necho 'default: Permission denied' 1>&2\nexit 1\n")
	mic := ffmpeg.New(ffmpeg.WithCommand(script))

	_, err := mic.Open(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	t.Parallel()
	mic := ffmpeg.New(ffmpeg.WithCommand(filepath.Join(t.TempDir(), "no-such-ffmpeg")))
	_, err := mic.Open(context.Background())
	if !errors.Is(err, audio.ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestStream_DeviceLossSetsErr(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "short.sh", "#!/bin/sh\nsleep 0.4\nhead -c 320 /dev/zero\n")
	mic := ffmpeg.New(ffmpeg.WithCommand(script), ffmpeg.WithFrameSize(10*time.Millisecond))

	s, err := mic.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-s.Frames():
			if !ok {
				if s.Err() == nil {
					t.Fatal("stream ended without an error")
				}
				return
			}
		case <-deadline:
			t.Fatal("stream did not end")
		}
	}
}
