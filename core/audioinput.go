package orchestration

import (
	"context"
	"sync/atomic"

	"github.com/koscakluka/ema-dictation/core/audio"
)

const defaultAudioQueueSoftLimit = 256

type audioInput struct {
	// base stores the configured source used for capturing audio.
	base AudioSource
	// faults is set when the source can report failures after starting.
	faults AudioSourceWithFaults

	// connected reports whether a concrete source is currently configured.
	connected atomic.Bool
	// isCapturing reports whether the source is currently capturing audio.
	isCapturing atomic.Bool

	// chunks buffers captured audio for the dispatch loop.
	chunks    *queue[[]byte]
	softLimit int
}

func newAudioInput(client AudioSource) *audioInput {
	audioInput := audioInput{softLimit: defaultAudioQueueSoftLimit}
	audioInput.Set(client)
	return &audioInput
}

func (a *audioInput) Set(client AudioSource) {
	if a == nil {
		return
	}

	a.base = client
	a.faults = nil
	a.connected.Store(false)
	a.isCapturing.Store(false)

	if client == nil {
		return
	}

	a.connected.Store(true)
	if faults, ok := client.(AudioSourceWithFaults); ok {
		a.faults = faults
	}
}

// init creates the chunk queue once options are applied.
func (a *audioInput) init(onOverrun func(size int)) {
	a.chunks = newQueue[[]byte](a.softLimit, onOverrun)
}

func (a *audioInput) IsConfigured() bool { return a != nil && a.connected.Load() }
func (a *audioInput) IsCapturing() bool  { return a != nil && a.isCapturing.Load() }

func (a *audioInput) OnFault(handler func(error)) {
	if a != nil && a.faults != nil {
		a.faults.OnFault(handler)
	}
}

func (a *audioInput) Capture(ctx context.Context) error {
	if !a.IsConfigured() {
		return nil
	}

	if !a.isCapturing.CompareAndSwap(false, true) {
		return nil
	}

	if err := a.base.StartCapture(ctx, a.onAudio); err != nil {
		a.isCapturing.Store(false)
		return err
	}
	return nil
}

func (a *audioInput) StopCapture() error {
	if !a.IsConfigured() {
		return nil
	}

	if !a.isCapturing.CompareAndSwap(true, false) {
		return nil
	}
	return a.base.StopCapture()
}

func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if a == nil || a.base == nil || a.base.EncodingInfo().IsZero() {
		return audio.GetDefaultEncodingInfo()
	}

	return a.base.EncodingInfo()
}

func (a *audioInput) onAudio(audio []byte) {
	if !a.IsCapturing() || len(audio) == 0 {
		return
	}
	a.chunks.Push(audio)
}

func (a *audioInput) Ready() <-chan struct{} { return a.chunks.Ready() }
func (a *audioInput) Drain() [][]byte        { return a.chunks.Drain() }
