package orchestration

import events "github.com/koscakluka/ema-dictation/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts OrchestrateOptions) eventEmitter {
	return func(event events.Event) {
		if opts.onEvent != nil {
			opts.onEvent(event)
		}

		switch typedEvent := event.(type) {
		case events.SessionStatus:
			if opts.onStatus != nil {
				opts.onStatus(typedEvent.Status)
			}
		case events.TranscriptPartial:
			if opts.onPartial != nil {
				opts.onPartial(typedEvent.Text)
			}
		case events.TranscriptFinal:
			if opts.onTranscription != nil {
				opts.onTranscription(typedEvent.Text)
			}
		}
	}
}
