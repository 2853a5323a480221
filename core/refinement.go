package orchestration

import (
	"github.com/koscakluka/ema-dictation/core/refinement"
	"golang.org/x/sync/semaphore"
)

const defaultRefinementConcurrency = 2

// settlement tracks one final transcript until its refinement, if any, is
// done. Settlements are released strictly in the order finals were emitted.
type settlement struct {
	order          uint64
	segmentID      uint64
	final          string
	targetLanguage string

	stage   refinement.Stage
	settled bool
	result  *refinement.Result
}

// refinementStage sequences refinement results. It is owned by the dispatch
// loop; only the refiner calls run elsewhere.
type refinementStage struct {
	refiner     Refiner
	concurrency int64
	sem         *semaphore.Weighted

	nextOrder uint64
	nextEmit  uint64
	pending   map[uint64]*settlement
}

func newRefinementStage() *refinementStage {
	return &refinementStage{concurrency: defaultRefinementConcurrency, pending: map[uint64]*settlement{}}
}

func (r *refinementStage) init() {
	r.sem = semaphore.NewWeighted(r.concurrency)
}

// enqueue reserves the next slot in emission order.
func (r *refinementStage) enqueue(segmentID uint64, final string, targetLanguage string) *settlement {
	s := &settlement{order: r.nextOrder, segmentID: segmentID, final: final, targetLanguage: targetLanguage}
	r.nextOrder++
	r.pending[s.order] = s
	return s
}

func (r *refinementStage) progress(order uint64, stage refinement.Stage) {
	if s, ok := r.pending[order]; ok && !s.settled {
		s.stage = stage
	}
}

func (r *refinementStage) settle(order uint64, result *refinement.Result) {
	if s, ok := r.pending[order]; ok {
		s.settled = true
		s.stage = ""
		s.result = result
	}
}

// releasable pops settled entries from the head of the order.
func (r *refinementStage) releasable() []*settlement {
	var released []*settlement
	for {
		s, ok := r.pending[r.nextEmit]
		if !ok || !s.settled {
			return released
		}
		delete(r.pending, r.nextEmit)
		r.nextEmit++
		released = append(released, s)
	}
}

func (r *refinementStage) inFlight() (correcting, translating int) {
	for _, s := range r.pending {
		switch {
		case s.settled:
		case s.stage == refinement.StageTranslating:
			translating++
		default:
			correcting++
		}
	}
	return correcting, translating
}

func (r *refinementStage) idle() bool {
	return len(r.pending) == 0
}

// reset abandons every pending settlement. Order numbers keep increasing so
// late results can never match a new entry. Abandoned refiner calls keep
// their slots in the old semaphore, so a new one is created.
func (r *refinementStage) reset() {
	r.pending = map[uint64]*settlement{}
	r.nextEmit = r.nextOrder
	r.init()
}
