package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"

	// DefaultFrameSamples is the analysis window the voice activity
	// classifier expects at 16kHz (32ms).
	DefaultFrameSamples = 512
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerSecond is the size of one second of mono audio in this encoding.
func (e EncodingInfo) BytesPerSecond() int {
	if e.IsZero() || e.Format.ByteSize() <= 0 {
		return 0
	}
	return e.SampleRate * e.Format.ByteSize()
}

// Duration reports how much audio n bytes hold.
func (e EncodingInfo) Duration(n int) time.Duration {
	bps := e.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}

	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
