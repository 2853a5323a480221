package llms

type CompletionOptions struct {
	// Temperature overrides the completer's default when set.
	Temperature *float64
	// MaxTokens overrides the completer's default when positive.
	MaxTokens int
}

type CompletionOption func(*CompletionOptions)

func NewCompletionOptions(opts ...CompletionOption) CompletionOptions {
	options := CompletionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithTemperature(temperature float64) CompletionOption {
	return func(o *CompletionOptions) {
		o.Temperature = &temperature
	}
}

func WithMaxTokens(maxTokens int) CompletionOption {
	return func(o *CompletionOptions) {
		o.MaxTokens = maxTokens
	}
}
