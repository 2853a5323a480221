package deepgram

import (
	"errors"
	"fmt"
	"slices"

	"github.com/koscakluka/ema-dictation/core/audio"
)

var ErrUnsupportedEncoding = errors.New("unsupported encoding")

var linearSampleRates = []int{8000, 16000, 24000, 32000, 48000}

// checkEncoding rejects audio the listen API cannot decode. Companded
// formats are telephony only and must be 8kHz.
func checkEncoding(encoding audio.EncodingInfo) error {
	switch encoding.Format {
	case audio.EncodingLinear16:
		if !slices.Contains(linearSampleRates, encoding.SampleRate) {
			return fmt.Errorf("%w: linear16 at %d Hz", ErrUnsupportedEncoding, encoding.SampleRate)
		}
	case audio.EncodingALaw, audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return fmt.Errorf("%w: %s at %d Hz", ErrUnsupportedEncoding, encoding.Format.Name(), encoding.SampleRate)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding.Format.Name())
	}
	return nil
}
