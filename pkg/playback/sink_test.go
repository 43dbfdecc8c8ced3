package playback

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestWriterSinkWritesAllAudio(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	pcm := make([]byte, 3200) // 100ms at 16kHz mono
	for i := range pcm {
		pcm[i] = byte(i)
	}
	item := Item{ChunkID: 1, PCM: pcm, SampleRate: 16000, Channels: 1}

	start := time.Now()
	if err := sink.Play(context.Background(), item); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	elapsed := time.Since(start)

	if !bytes.Equal(buf.Bytes(), pcm) {
		t.Error("written audio does not match item PCM")
	}

	// Pacing should stretch the write close to the item duration.
	if elapsed < 50*time.Millisecond {
		t.Errorf("expected paced write near 100ms, finished in %v", elapsed)
	}
}

func TestWriterSinkCancel(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	item := Item{
		ChunkID:    1,
		PCM:        make([]byte, 32000), // 1s at 16kHz mono
		SampleRate: 16000,
		Channels:   1,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sink.Play(ctx, item)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
	if buf.Len() >= len(item.PCM) {
		t.Error("expected a partial write after cancellation")
	}
}

func TestWriterSinkEmptyItem(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	if err := sink.Play(context.Background(), Item{SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("Play of empty item failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no bytes written, got %d", buf.Len())
	}
}

func TestWriterSinkInvalidFormat(t *testing.T) {
	sink := NewWriterSink(&bytes.Buffer{})

	err := sink.Play(context.Background(), Item{PCM: make([]byte, 64)})
	if err == nil {
		t.Fatal("expected error for item without format")
	}
}

func TestExecSinkConvert(t *testing.T) {
	s := &ExecSink{sampleRate: 16000, channels: 1}

	t.Run("passthrough when formats match", func(t *testing.T) {
		item := Item{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}
		out := s.convert(item)
		if len(out.PCM) != len(item.PCM) {
			t.Errorf("expected unchanged PCM, got %d bytes", len(out.PCM))
		}
	})

	t.Run("downsamples to sink rate", func(t *testing.T) {
		item := Item{PCM: make([]byte, 1920), SampleRate: 48000, Channels: 1} // 20ms
		out := s.convert(item)
		if out.SampleRate != 16000 {
			t.Errorf("expected 16000, got %d", out.SampleRate)
		}
		if len(out.PCM) != 640 { // 20ms at 16kHz mono
			t.Errorf("expected 640 bytes, got %d", len(out.PCM))
		}
	})

	t.Run("downmixes stereo", func(t *testing.T) {
		item := Item{PCM: make([]byte, 1280), SampleRate: 16000, Channels: 2}
		out := s.convert(item)
		if out.Channels != 1 {
			t.Errorf("expected mono, got %d channels", out.Channels)
		}
		if len(out.PCM) != 640 {
			t.Errorf("expected 640 bytes, got %d", len(out.PCM))
		}
	})
}
