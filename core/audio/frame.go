package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-size slice of captured linear16 audio.
type Frame struct {
	// Seq increases by one for every frame produced by a Framer.
	Seq uint64
	// Offset is the capture time of the first sample, relative to the start
	// of the stream.
	Offset   time.Duration
	Duration time.Duration
	PCM      []byte
}

func (f Frame) End() time.Duration { return f.Offset + f.Duration }

// Samples decodes the little-endian PCM payload.
func (f Frame) Samples() []int16 {
	return BytesToSamples(f.PCM)
}

func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Framer cuts an arbitrary chunked linear16 stream into frames of equal size.
// It is not safe for concurrent use.
type Framer struct {
	frameBytes int
	encoding   EncodingInfo

	leftover []byte
	seq      uint64
	samples  int64
}

func NewFramer(encoding EncodingInfo, frameSamples int) *Framer {
	if encoding.IsZero() {
		encoding = GetDefaultEncodingInfo()
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}

	return &Framer{
		frameBytes: frameSamples * max(encoding.Format.ByteSize(), 1),
		encoding:   encoding,
	}
}

// Push appends a captured chunk and returns every frame that became
// complete. Incomplete tails are kept for the next call.
func (f *Framer) Push(chunk []byte) []Frame {
	f.leftover = append(f.leftover, chunk...)

	var frames []Frame
	for len(f.leftover) >= f.frameBytes {
		pcm := make([]byte, f.frameBytes)
		copy(pcm, f.leftover[:f.frameBytes])
		f.leftover = f.leftover[f.frameBytes:]

		frames = append(frames, Frame{
			Seq:      f.seq,
			Offset:   f.offset(),
			Duration: f.encoding.Duration(f.frameBytes),
			PCM:      pcm,
		})
		f.seq++
		f.samples += int64(f.frameBytes / max(f.encoding.Format.ByteSize(), 1))
	}

	if len(f.leftover) == 0 {
		f.leftover = nil
	}
	return frames
}

// Reset drops buffered audio and restarts the sequence and clock.
func (f *Framer) Reset() {
	f.leftover = nil
	f.seq = 0
	f.samples = 0
}

func (f *Framer) offset() time.Duration {
	return time.Duration(f.samples * int64(time.Second) / int64(f.encoding.SampleRate))
}
