package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestFramerSplitsChunksIntoFixedFrames(t *testing.T) {
	framer := NewFramer(GetDefaultEncodingInfo(), 4)

	frames := framer.Push(make([]byte, 6))
	if len(frames) != 0 {
		t.Fatalf("expected no complete frame yet, got %d", len(frames))
	}

	frames = framer.Push(make([]byte, 12))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Seq != 0 || frames[1].Seq != 1 {
		t.Fatalf("expected sequential frame numbers, got %d and %d", frames[0].Seq, frames[1].Seq)
	}
	if len(frames[0].PCM) != 8 {
		t.Fatalf("expected 8 byte frames, got %d", len(frames[0].PCM))
	}

	wantOffset := 4 * time.Second / DefaultSampleRate
	if frames[1].Offset != wantOffset {
		t.Fatalf("expected second frame at %v, got %v", wantOffset, frames[1].Offset)
	}
	if frames[0].End() != frames[1].Offset {
		t.Fatalf("expected contiguous frames, got end %v and offset %v", frames[0].End(), frames[1].Offset)
	}
}

func TestFramerResetRestartsSequence(t *testing.T) {
	framer := NewFramer(GetDefaultEncodingInfo(), 2)
	framer.Push(make([]byte, 10))
	framer.Reset()

	frames := framer.Push(make([]byte, 4))
	if len(frames) != 1 || frames[0].Seq != 0 || frames[0].Offset != 0 {
		t.Fatalf("expected a fresh first frame after reset, got %+v", frames)
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	got := BytesToSamples(SamplesToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestEncodeWAVWritesHeader(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, 2, 3, 4})
	wav, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if !bytes.Equal(wav[:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("unexpected container magic %q", wav[:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("expected data size %d, got %d", len(pcm), size)
	}
}

func TestEncodeWAVRejectsInvalidInput(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Fatalf("expected error for empty audio")
	}
	if _, err := EncodeWAV([]byte{1, 2, 3}, 16000); err == nil {
		t.Fatalf("expected error for odd byte count")
	}
	if _, err := EncodeWAV([]byte{1, 2}, 0); err == nil {
		t.Fatalf("expected error for zero sample rate")
	}
}

func TestLevelAnalyzerNeedsFullWindow(t *testing.T) {
	analyzer := NewLevelAnalyzer(DefaultSampleRate)
	levels := analyzer.Analyze(make([]byte, 200))
	if len(levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(levels))
	}
	for i, l := range levels {
		if l != 0 {
			t.Fatalf("expected zero level %d before a full window, got %v", i, l)
		}
	}
}

func TestLevelAnalyzerFindsDominantBand(t *testing.T) {
	analyzer := NewLevelAnalyzer(DefaultSampleRate)

	samples := make([]int16, 1024)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*2000*float64(i)/DefaultSampleRate))
	}
	levels := analyzer.Analyze(SamplesToBytes(samples))

	if levels[3] != 1 {
		t.Fatalf("expected the 1-3kHz band to be the loudest, got %v", levels)
	}
	for i, l := range levels {
		if l < 0 || l > 1 {
			t.Fatalf("level %d out of range: %v", i, l)
		}
		if i != 3 && l >= levels[3] {
			t.Fatalf("expected band %d quieter than the tone band, got %v", i, levels)
		}
	}
}

func TestLevelAnalyzerResetClearsHistory(t *testing.T) {
	analyzer := NewLevelAnalyzer(DefaultSampleRate)

	samples := make([]int16, 1024)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/DefaultSampleRate))
	}
	first := analyzer.Analyze(SamplesToBytes(samples))
	second := analyzer.Analyze(SamplesToBytes(samples[:256]))
	if first[1] != 1 || second[1] != 1 {
		t.Fatalf("expected the 150-400Hz band to lead across calls, got %v then %v", first, second)
	}

	analyzer.Reset()
	for i, l := range analyzer.Analyze(SamplesToBytes(samples[:256])) {
		if l != 0 {
			t.Fatalf("expected zero level %d after reset, got %v", i, l)
		}
	}
}

func TestEncodingInfoDuration(t *testing.T) {
	info := GetDefaultEncodingInfo()
	if got := info.Duration(32000); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := (EncodingInfo{}).Duration(100); got != 0 {
		t.Fatalf("expected zero duration for unknown encoding, got %v", got)
	}
}
