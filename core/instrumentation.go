package orchestration

import (
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-dictation/core"

var tracer = otel.Tracer(scopeName)
