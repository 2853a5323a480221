package openai

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-dictation/core/llms/openai"

var tracer = otel.Tracer(scopeName)
