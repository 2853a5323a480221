// Command ema-tui is a terminal consumer of the dictation result channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/ema-dictation/core/connection"
	"github.com/koscakluka/ema-dictation/internal/logging"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8765/ws/audio", "result channel URL")
	language := flag.String("language", "", "recognition language hint")
	correct := flag.Bool("correct", true, "request correction of finals")
	target := flag.String("translate", "", "translate finals to this language")
	maxAttempts := flag.Int("max-attempts", 0, "give up reconnecting after this many attempts, 0 retries forever")
	logFile := flag.String("log", "", "write logs to this file")
	flag.Parse()

	if err := run(*url, *maxAttempts, *logFile, sessionOptions{
		Language:       *language,
		Correct:        *correct,
		TargetLanguage: *target,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(url string, maxAttempts int, logFile string, session sessionOptions) error {
	// The terminal belongs to the UI, logs go to a file or nowhere.
	logOutput, err := openLog(logFile)
	if err != nil {
		return err
	}
	defer logOutput.Close()
	logger := logging.New(logOutput, logging.Options{Level: "debug"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := make(chan connection.State, 16)
	config := connection.DefaultConfig(url)
	config.MaxAttempts = maxAttempts
	manager := connection.NewManager(config,
		connection.WithLogger(logger),
		connection.WithStatusCallback(func(state connection.State) {
			select {
			case states <- state:
			default:
			}
		}),
	)
	manager.Connect(ctx)
	defer manager.Disconnect()

	program := tea.NewProgram(newModel(manager, states, session), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

const revealInterval = 30 * time.Millisecond
