package vad

import (
	"context"
	"math"

	"github.com/koscakluka/ema-dictation/core/audio"
)

// Classifier scores a frame with the probability that it contains speech.
type Classifier interface {
	Classify(ctx context.Context, frame audio.Frame) (float32, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, frame audio.Frame) (float32, error)

func (f ClassifierFunc) Classify(ctx context.Context, frame audio.Frame) (float32, error) {
	return f(ctx, frame)
}

// EnergyClassifier is a model-free fallback that maps frame RMS energy to a
// probability. Reference is the RMS treated as certain speech.
type EnergyClassifier struct {
	Reference float64
}

const defaultEnergyReference = 1500

func (c EnergyClassifier) Classify(_ context.Context, frame audio.Frame) (float32, error) {
	samples := frame.Samples()
	if len(samples) == 0 {
		return 0, nil
	}

	reference := c.Reference
	if reference <= 0 {
		reference = defaultEnergyReference
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	return float32(math.Min(1, rms/reference)), nil
}
