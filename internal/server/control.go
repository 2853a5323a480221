package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	orchestration "github.com/koscakluka/ema-dictation/core"
	"github.com/koscakluka/ema-dictation/core/llms/openai"
	"github.com/koscakluka/ema-dictation/core/refinement"
	"github.com/koscakluka/ema-dictation/core/resultchannel"
	"github.com/koscakluka/ema-dictation/internal/config"
)

var ErrMissingAPIKey = errors.New("language model provider needs an API key")

// RefinerFactory builds a refiner from an update_llm_config request.
type RefinerFactory func(update resultchannel.LLMConfigMessage) (orchestration.Refiner, error)

func (s *Server) handleControl(control resultchannel.Control) {
	if control.Action == resultchannel.ActionUpdateLLMConfig {
		s.updateLLM(control.LLM)
		return
	}

	if err := s.orchestrator.Handle(control.Command()); err != nil {
		s.logger.Warn("control message rejected", "action", control.Action, "error", err)
	}
}

func (s *Server) updateLLM(update resultchannel.LLMConfigMessage) {
	if s.newRefiner == nil {
		s.logger.Warn("language model reconfiguration is not supported")
		return
	}

	refiner, err := s.newRefiner(update)
	if err != nil {
		s.logger.Warn("failed to reconfigure language model", "error", err)
		return
	}
	s.orchestrator.SetRefiner(refiner)
	if s.metrics != nil {
		s.metrics.ObserveLLMConfigUpdate(update.Provider)
	}
	s.logger.Info("language model reconfigured", "provider", update.Provider, "model", update.Model)
}

// LLMRefinerFactory applies updates on top of base and remembers the result,
// so consecutive updates accumulate.
func LLMRefinerFactory(base config.LLMConfig) RefinerFactory {
	var mu sync.Mutex
	current := base

	return func(update resultchannel.LLMConfigMessage) (orchestration.Refiner, error) {
		mu.Lock()
		defer mu.Unlock()

		next := mergeLLMConfig(current, update)
		refiner, err := NewRefiner(next)
		if err != nil {
			return nil, err
		}
		current = next
		return refiner, nil
	}
}

func mergeLLMConfig(c config.LLMConfig, update resultchannel.LLMConfigMessage) config.LLMConfig {
	if update.Provider != "" && update.Provider != c.Provider {
		c.Provider = update.Provider
		// The previous base URL belongs to the previous provider.
		c.APIBase = ""
	}
	if update.APIBase != "" {
		c.APIBase = update.APIBase
	}
	if update.APIKey != "" {
		c.APIKey = update.APIKey
	}
	if update.Model != "" {
		c.Model = update.Model
	}
	if update.Timeout > 0 {
		c.Timeout = time.Duration(update.Timeout * float64(time.Second))
	}
	if update.Temperature != nil {
		c.Temperature = *update.Temperature
	}
	return c
}

// NewRefiner builds the OpenAI compatible refiner for c.
func NewRefiner(c config.LLMConfig) (*refinement.Refiner, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, c.Provider)
	}

	client := openai.NewClient(openai.Config{
		Provider:    openai.Provider(c.Provider),
		APIBase:     c.APIBase,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Timeout:     c.Timeout,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	return refinement.New(client, refinement.WithTimeout(client.Timeout())), nil
}
