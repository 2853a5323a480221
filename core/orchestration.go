package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/events"
	"github.com/koscakluka/ema-dictation/core/refinement"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"github.com/koscakluka/ema-dictation/core/textinput"
	"github.com/koscakluka/ema-dictation/core/vad"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	inboxSize          = 256
	levelQueueCapacity = 8
	defaultDrainGrace  = 2 * time.Second
)

type session struct {
	id         string
	generation uint64
	config     SessionConfig
	ctx        context.Context
	cancel     context.CancelFunc
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	State     State
	Status    events.Status
	SessionID string
	// Config is the active session config, or the defaults for the next
	// session when idle.
	Config        SessionConfig
	PendingFinals int

	DroppedLevels      uint64
	AudioQueueOverruns uint64
}

// Orchestrator runs the dictation pipeline. Every state change happens on a
// single dispatch goroutine; capture, recognition and refinement report
// back to it through the inbox.
type Orchestrator struct {
	audioInput      *audioInput
	classifier      vad.Classifier
	segmenterConfig vad.Config
	segmenter       *vad.Segmenter
	framer          *audio.Framer
	levelQueue      *ring[levelChunk]
	transcription   *transcriptionStage
	refinement      *refinementStage
	window          *contextWindow
	injector        textinput.Injector
	asyncInjector   *textinput.Async
	defaults        SessionConfig
	drainGrace      time.Duration
	logger          *slog.Logger

	inbox              chan func()
	emitEvent          eventEmitter
	orchestrateOptions OrchestrateOptions
	baseContext        context.Context

	// Owned by the dispatch loop.
	phase      phase
	session    *session
	generation uint64
	lastStatus events.Status
	position   time.Duration
	drainTimer *time.Timer

	snapshotMu sync.RWMutex
	snapshot   Snapshot

	started       atomic.Bool
	closeOnce     sync.Once
	cancel        context.CancelFunc
	done          chan struct{}
	workers       sync.WaitGroup
	queueOverruns atomic.Uint64
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		audioInput:      newAudioInput(nil),
		segmenterConfig: vad.DefaultConfig(),
		transcription:   newTranscriptionStage(),
		refinement:      newRefinementStage(),
		window:          newContextWindow(),
		levelQueue:      newRing[levelChunk](levelQueueCapacity),
		defaults:        DefaultSessionConfig(),
		drainGrace:      defaultDrainGrace,
		logger:          slog.Default(),
		inbox:           make(chan func(), inboxSize),
		emitEvent:       noopEventEmitter,
		baseContext:     context.Background(),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With("component", "orchestrator")
	o.audioInput.init(func(size int) {
		o.queueOverruns.Add(1)
		o.logger.Warn("audio processing is falling behind capture", "queued_chunks", size)
	})
	o.refinement.init()

	encoding := o.audioInput.EncodingInfo()
	o.transcription.encoding = encoding
	o.segmenter = vad.NewSegmenter(o.classifier, o.segmenterConfig)
	o.framer = audio.NewFramer(encoding, audio.DefaultFrameSamples)
	if o.injector != nil {
		o.asyncInjector = textinput.NewAsync(o.injector, o.logger)
	}
	o.snapshot = Snapshot{State: StateIdle, Config: o.defaults.clone()}

	return o
}

// Orchestrate starts the dispatch loop and the workers. ctx bounds the
// lifetime of the orchestrator; cancelling it closes the orchestrator.
//
// Contract: call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	if !o.started.CompareAndSwap(false, true) {
		o.logger.Warn("orchestrator already running, skipping Orchestrate")
		return
	}

	o.orchestrateOptions = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}
	o.emitEvent = newCallbackEventEmitter(o.orchestrateOptions)

	ctx, o.cancel = context.WithCancel(ctx)
	o.baseContext = ctx

	o.audioInput.OnFault(func(err error) {
		go o.post(func() { o.handleCaptureFault(err) })
	})

	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		o.transcription.runFinals(ctx, func(result finalResult) {
			o.post(func() { o.handleFinal(result) })
		})
	}()

	if onLevels := o.orchestrateOptions.onLevels; onLevels != nil {
		analyzer := audio.NewLevelAnalyzer(o.transcription.encoding.SampleRate)
		o.workers.Add(1)
		go func() {
			defer o.workers.Done()
			o.pumpLevels(ctx, analyzer, onLevels)
		}()
	}

	go func() {
		<-ctx.Done()
		o.Close()
	}()

	go o.loop(ctx)
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.started.Load() {
			o.cancel()
			<-o.done
		}

		if err := o.audioInput.StopCapture(); err != nil {
			recordedErr := fmt.Errorf("failed to stop audio capture: %w", err)
			span := trace.SpanFromContext(o.baseContext)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
		}

		o.workers.Wait()
		if o.asyncInjector != nil {
			o.asyncInjector.Close()
		}
	})
}

// Start begins a session with update applied to the default config. It is
// a no-op while a session is active.
func (o *Orchestrator) Start(update ConfigUpdate) {
	o.post(func() { o.handleStart(update) })
}

// Stop closes the open segment, lets outstanding transcription and
// refinement finish within a bounded time and returns to idle.
func (o *Orchestrator) Stop() {
	o.post(o.handleStop)
}

// UpdateConfig changes the active session config, or the defaults for the
// next session when idle.
func (o *Orchestrator) UpdateConfig(update ConfigUpdate) {
	o.post(func() { o.handleUpdateConfig(update) })
}

// SetRefiner swaps the refiner used for finals emitted from now on.
func (o *Orchestrator) SetRefiner(refiner Refiner) {
	o.post(func() { o.refinement.refiner = refiner })
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.snapshotMu.RLock()
	defer o.snapshotMu.RUnlock()

	snapshot := o.snapshot
	snapshot.DroppedLevels = o.levelQueue.Dropped()
	snapshot.AudioQueueOverruns = o.queueOverruns.Load()
	return snapshot
}

func (o *Orchestrator) post(task func()) bool {
	select {
	case o.inbox <- task:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-o.inbox:
			task()
		case <-o.audioInput.Ready():
			o.processAudio(o.audioInput.Drain())
		}
	}
}

func (o *Orchestrator) shutdown() {
	if o.drainTimer != nil {
		o.drainTimer.Stop()
	}
	if o.session != nil {
		o.session.cancel()
	}
}

func (o *Orchestrator) isCurrent(generation uint64) bool {
	return o.session != nil && o.session.generation == generation
}

func (o *Orchestrator) transition(to phase) bool {
	if !canTransition(o.phase, to) {
		o.logger.Error("invalid state transition", "from", o.phase.String(), "to", to.String())
		return false
	}
	o.phase = to
	return true
}

func (o *Orchestrator) handleStart(update ConfigUpdate) {
	if o.phase != phaseIdle && o.phase != phaseError {
		o.logger.Info("start ignored, a session is already running", "session", o.sessionID(), "phase", o.phase.String())
		return
	}

	o.generation++
	ctx, cancel := context.WithCancel(o.baseContext)
	o.session = &session{
		id:         uuid.NewString(),
		generation: o.generation,
		config:     update.Apply(o.defaults),
		ctx:        ctx,
		cancel:     cancel,
	}

	o.segmenter.Reset()
	o.framer.Reset()
	o.audioInput.Drain()
	o.transcription.reset()
	o.refinement.reset()
	o.position = 0

	o.transition(phaseStarting)
	o.logger.Info("session starting", "session", o.session.id)
	o.publishStatus()

	generation := o.generation
	go func() {
		err := o.prepare(ctx, generation)
		o.post(func() { o.handlePrepared(generation, err) })
	}()
}

func (o *Orchestrator) prepare(ctx context.Context, generation uint64) error {
	preparer, ok := o.transcription.recognizer.(speechtotext.Preparer)
	if !ok {
		return nil
	}

	return preparer.Prepare(ctx, func(stage speechtotext.PrepareStage) {
		if stage != speechtotext.PrepareDownloading {
			return
		}
		o.post(func() {
			if o.isCurrent(generation) && o.phase == phaseStarting {
				o.publish(events.StatusDownloading)
			}
		})
	})
}

func (o *Orchestrator) handlePrepared(generation uint64, err error) {
	if !o.isCurrent(generation) || o.phase != phaseStarting {
		return
	}
	if err != nil {
		o.fail(fmt.Errorf("failed to prepare speech recognition: %w", err))
		return
	}
	if !o.audioInput.IsConfigured() {
		o.fail(fmt.Errorf("no audio source configured"))
		return
	}
	if err := o.audioInput.Capture(o.session.ctx); err != nil {
		o.fail(fmt.Errorf("failed to start audio capture: %w", err))
		return
	}

	o.transition(phaseActive)
	o.publishStatus()
}

func (o *Orchestrator) handleStop() {
	switch o.phase {
	case phaseIdle, phaseError:
		o.logger.Debug("stop ignored, no session running")
		return
	case phaseDraining:
		return
	}

	if err := o.audioInput.StopCapture(); err != nil {
		o.logger.Warn("failed to stop audio capture", "error", err)
	}
	// Audio captured before the stop still belongs to the session.
	if o.phase == phaseActive {
		o.processAudio(o.audioInput.Drain())
	}

	o.transition(phaseDraining)
	for _, event := range o.segmenter.Stop(o.position) {
		o.handleSegmentEvent(event)
	}

	o.startDrainTimer()
	o.publishStatus()
	o.maybeFinishDrain()
}

func (o *Orchestrator) startDrainTimer() {
	deadline := o.transcription.config.FinalTimeout*time.Duration(max(o.transcription.pendingFinals, 1)) + o.drainGrace
	if o.refinement.refiner != nil {
		deadline += 2 * o.refinement.refiner.Timeout()
	}

	generation := o.session.generation
	o.drainTimer = time.AfterFunc(deadline, func() {
		o.post(func() {
			if !o.isCurrent(generation) || o.phase != phaseDraining {
				return
			}
			o.logger.Warn("stop drain timed out, abandoning outstanding work", "session", o.session.id, "pending_finals", o.transcription.pendingFinals)
			o.transcription.reset()
			o.refinement.reset()
			o.finishDrain()
		})
	})
}

func (o *Orchestrator) maybeFinishDrain() {
	if o.phase != phaseDraining {
		return
	}
	if o.transcription.open != nil || o.transcription.pendingFinals > 0 || !o.refinement.idle() {
		return
	}
	o.finishDrain()
}

func (o *Orchestrator) finishDrain() {
	if o.drainTimer != nil {
		o.drainTimer.Stop()
		o.drainTimer = nil
	}

	id := o.session.id
	o.session.cancel()
	o.transition(phaseIdle)
	o.publishStatus()
	o.session = nil
	o.publishSnapshot()
	o.logger.Info("session stopped", "session", id)
}

func (o *Orchestrator) handleUpdateConfig(update ConfigUpdate) {
	if o.session != nil {
		o.session.config = update.Apply(o.session.config)
	} else {
		o.defaults = update.Apply(o.defaults)
	}
	o.publishSnapshot()
}

func (o *Orchestrator) handleCaptureFault(err error) {
	if o.session == nil || (o.phase != phaseActive && o.phase != phaseStarting) {
		o.logger.Debug("capture fault outside of a session", "error", err)
		return
	}
	o.fail(fmt.Errorf("audio capture failed: %w", err))
}

// fail ends the session on a fatal fault.
func (o *Orchestrator) fail(err error) {
	o.logger.Error("session failed", "session", o.sessionID(), "error", err)

	if stopErr := o.audioInput.StopCapture(); stopErr != nil {
		o.logger.Warn("failed to stop audio capture", "error", stopErr)
	}
	if o.drainTimer != nil {
		o.drainTimer.Stop()
		o.drainTimer = nil
	}
	o.transcription.reset()
	o.refinement.reset()

	id := o.session.id
	o.session.cancel()
	o.transition(phaseError)
	o.publishStatus()
	o.emitEvent(events.NewSessionError(id, err.Error()))
	o.session = nil
	o.publishSnapshot()
}

func (o *Orchestrator) processAudio(chunks [][]byte) {
	if o.phase != phaseActive || o.session == nil {
		return
	}

	for _, chunk := range chunks {
		if o.orchestrateOptions.onLevels != nil {
			o.levelQueue.Push(levelChunk{generation: o.session.generation, pcm: chunk})
		}

		for _, frame := range o.framer.Push(chunk) {
			o.position = frame.End()
			for _, event := range o.segmenter.Submit(o.session.ctx, frame) {
				o.handleSegmentEvent(event)
			}
		}
	}
}

func (o *Orchestrator) handleSegmentEvent(event vad.Event) {
	switch event.Type {
	case vad.SegmentOpened:
		o.transcription.onSegmentOpened(event.SegmentID)
		o.publishStatus()
	case vad.SegmentAppended:
		if o.transcription.onAudioAppended(event.SegmentID, event.Frame) {
			o.runPartial()
		}
	case vad.SegmentClosed:
		if o.transcription.onSegmentClosed(o.session.ctx, o.session.generation, event.SegmentID, o.session.config.Language) {
			o.logger.Debug("segment closed", "session", o.session.id, "segment", event.SegmentID, "reason", event.Reason)
		}
		o.publishStatus()
	}
}

func (o *Orchestrator) runPartial() {
	ctx, pcm := o.transcription.startPartial(o.session.ctx)
	generation := o.session.generation
	segmentID := o.transcription.open.id
	language := o.session.config.Language

	go func() {
		text, err := o.transcription.transcribePartial(ctx, pcm, language, func(hypothesis string) {
			o.post(func() { o.handlePartial(generation, segmentID, hypothesis, false) })
		})
		if err != nil && ctx.Err() == nil {
			o.logger.Debug("partial transcription failed", "segment", segmentID, "error", err)
		}
		o.post(func() { o.handlePartial(generation, segmentID, text, true) })
	}()
}

func (o *Orchestrator) handlePartial(generation uint64, segmentID uint64, text string, done bool) {
	if !o.isCurrent(generation) {
		return
	}

	revision, ok := o.transcription.acceptPartial(segmentID, strings.TrimSpace(text), done)
	if !ok {
		return
	}
	o.emitEvent(events.NewTranscriptPartial(o.session.id, segmentID, revision, o.transcription.open.lastPartial))
}

func (o *Orchestrator) handleFinal(result finalResult) {
	if !o.isCurrent(result.generation) {
		o.logger.Debug("dropping final from a previous session", "segment", result.segmentID)
		return
	}

	o.transcription.pendingFinals--
	text := strings.TrimSpace(result.text)
	if result.warning != "" {
		o.logger.Warn("segment transcription degraded", "session", o.session.id, "segment", result.segmentID, "warning", result.warning)
	}
	o.emitEvent(events.NewTranscriptFinal(o.session.id, result.segmentID, text, result.duration, result.warning))

	config := o.session.config
	request := refinement.Request{
		SegmentID: result.segmentID,
		Text:      text,
		Language:  config.Language,
		Context:   o.window.Last(config.ContextCount),
		Correct:   config.CorrectionEnabled,
	}
	if config.translate() {
		request.TargetLanguage = config.TargetLanguage
	}
	o.window.Append(text)

	entry := o.refinement.enqueue(result.segmentID, text, request.TargetLanguage)
	if o.refinement.refiner != nil && request.Enabled() {
		o.runRefinement(entry, request)
	} else {
		o.refinement.settle(entry.order, nil)
	}

	o.releaseSettled()
	o.publishStatus()
	o.maybeFinishDrain()
}

func (o *Orchestrator) runRefinement(entry *settlement, request refinement.Request) {
	entry.stage = refinement.StageTranslating
	if request.Correct {
		entry.stage = refinement.StageCorrecting
	}

	refiner := o.refinement.refiner
	sem := o.refinement.sem
	ctx := o.session.ctx
	generation := o.session.generation
	order := entry.order

	go func() {
		if err := sem.Acquire(ctx, 1); err != nil {
			result := refinement.Result{SegmentID: request.SegmentID, Errors: []error{err}}
			o.post(func() { o.handleRefined(generation, order, result) })
			return
		}
		defer sem.Release(1)

		result := refiner.Refine(ctx, request, func(stage refinement.Stage) {
			o.post(func() { o.handleRefinementProgress(generation, order, stage) })
		})
		o.post(func() { o.handleRefined(generation, order, result) })
	}()
}

func (o *Orchestrator) handleRefinementProgress(generation uint64, order uint64, stage refinement.Stage) {
	if !o.isCurrent(generation) {
		return
	}
	o.refinement.progress(order, stage)
	o.publishStatus()
}

func (o *Orchestrator) handleRefined(generation uint64, order uint64, result refinement.Result) {
	if !o.isCurrent(generation) {
		o.logger.Debug("dropping refinement from a previous session", "segment", result.SegmentID)
		return
	}

	o.refinement.settle(order, &result)
	o.releaseSettled()
	o.publishStatus()
	o.maybeFinishDrain()
}

func (o *Orchestrator) releaseSettled() {
	for _, s := range o.refinement.releasable() {
		if s.result != nil {
			if c := s.result.Corrected; c != nil {
				o.emitEvent(events.NewCorrection(o.session.id, s.segmentID, c.Text, c.Original))
			}
			if t := s.result.Translated; t != nil {
				o.emitEvent(events.NewTranslation(o.session.id, s.segmentID, t.Text, t.Original, s.targetLanguage))
			}
		}
		o.inject(s)
	}
}

// inject delivers the most refined text of a settled segment.
func (o *Orchestrator) inject(s *settlement) {
	if o.asyncInjector == nil || !o.session.config.AutoInput {
		return
	}

	text := s.final
	if s.result != nil {
		if s.result.Translated != nil {
			text = s.result.Translated.Text
		} else if s.result.Corrected != nil {
			text = s.result.Corrected.Text
		}
	}
	if text != "" {
		o.asyncInjector.Inject(text)
	}
}

func (o *Orchestrator) activity() activity {
	correcting, translating := o.refinement.inFlight()
	a := activity{
		phase:         o.phase,
		segmentOpen:   o.transcription.open != nil,
		pendingFinals: o.transcription.pendingFinals,
		correcting:    correcting,
		translating:   translating,
	}
	if o.session != nil {
		a.reportSpeaking = o.session.config.ReportSpeaking
	}
	return a
}

// publishStatus broadcasts the derived status when it changed.
func (o *Orchestrator) publishStatus() {
	if status, ok := o.activity().status(); ok {
		o.publish(status)
	}
	o.publishSnapshot()
}

func (o *Orchestrator) publish(status events.Status) {
	if status == o.lastStatus {
		return
	}
	o.lastStatus = status
	o.emitEvent(events.NewSessionStatus(o.sessionID(), status))
}

func (o *Orchestrator) publishSnapshot() {
	snapshot := Snapshot{
		State:         o.activity().state(),
		Status:        o.lastStatus,
		SessionID:     o.sessionID(),
		Config:        o.defaults.clone(),
		PendingFinals: o.transcription.pendingFinals,
	}
	if o.session != nil {
		snapshot.Config = o.session.config.clone()
	}

	o.snapshotMu.Lock()
	o.snapshot = snapshot
	o.snapshotMu.Unlock()
}

func (o *Orchestrator) sessionID() string {
	if o.session == nil {
		return ""
	}
	return o.session.id
}

// levelChunk is captured audio waiting for waveform analysis.
type levelChunk struct {
	generation uint64
	pcm        []byte
}

// pumpLevels owns the analyzer. Analysis happens here, off the dispatch loop,
// and the analyzer history is cleared whenever a new session's audio arrives.
func (o *Orchestrator) pumpLevels(ctx context.Context, analyzer *audio.LevelAnalyzer, onLevels func([]float32)) {
	var generation uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.levelQueue.Ready():
			for _, chunk := range o.levelQueue.Drain() {
				if chunk.generation != generation {
					analyzer.Reset()
					generation = chunk.generation
				}
				onLevels(analyzer.Analyze(chunk.pcm))
			}
		}
	}
}
