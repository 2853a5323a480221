// Package textinput delivers dictated text to the foreground application.
package textinput

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/atotto/clipboard"
)

// Injector delivers text to wherever the user is typing.
type Injector interface {
	Inject(text string) error
}

type InjectorFunc func(text string) error

func (f InjectorFunc) Inject(text string) error { return f(text) }

// Clipboard places text on the system clipboard for the user to paste.
type Clipboard struct{}

func (Clipboard) Inject(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard is not supported on this system")
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

const asyncQueueSize = 16

// Async delivers text on a background goroutine so callers never wait on the
// target application. Text is dropped when the queue is full.
type Async struct {
	injector Injector
	logger   *slog.Logger

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewAsync(injector Injector, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Async{
		injector: injector,
		logger:   logger.With("component", "textinput"),
		queue:    make(chan string, asyncQueueSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for text := range a.queue {
		if err := a.injector.Inject(text); err != nil {
			a.logger.Warn("text injection failed", "error", err)
		}
	}
}

// Inject queues text and returns immediately.
func (a *Async) Inject(text string) error {
	select {
	case a.queue <- text:
	default:
		a.logger.Warn("text injection queue full, dropping text", "length", len(text))
	}
	return nil
}

// Close flushes queued text and stops the worker.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
	})
}
