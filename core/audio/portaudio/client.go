package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-dictation/core/audio"
)

// Client captures from the default input device through a blocking
// PortAudio stream.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	in         []int16

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	onFault func(error)
}

func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = audio.DefaultFrameSamples
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, audio.DefaultSampleRate, bufferSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Client{bufferSize: bufferSize, stream: stream, in: in}, nil
}

func (c *Client) OnFault(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFault = handler
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.read(ctx, onAudio, c.done)
	return nil
}

func (c *Client) read(ctx context.Context, onAudio func(audio []byte), done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == portaudio.InputOverflowed {
				slog.Warn("portaudio input overflowed")
				continue
			}

			c.mu.Lock()
			onFault := c.onFault
			c.mu.Unlock()
			if onFault != nil {
				onFault(fmt.Errorf("failed to read from PortAudio stream: %w", err))
			}
			return
		}

		onAudio(audio.SamplesToBytes(c.in))
	}
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	<-done
	return nil
}

// Devices lists the devices with at least one input channel.
func (c *Client) Devices() ([]audio.Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	defaultInput, _ := portaudio.DefaultInputDevice()

	devices := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		isDefault := defaultInput != nil && info.Name == defaultInput.Name && info.HostApi == defaultInput.HostApi
		devices = append(devices, audio.Device{Name: info.Name, IsDefault: isDefault})
	}
	return devices, nil
}

func (c *Client) Close() {
	_ = c.StopCapture()
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
