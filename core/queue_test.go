package orchestration

import (
	"slices"
	"testing"
)

func TestQueueDrainsInOrderAndNeverDrops(t *testing.T) {
	var overruns []int
	q := newQueue[int](3, func(size int) { overruns = append(overruns, size) })

	for i := range 10 {
		q.Push(i)
	}
	select {
	case <-q.Ready():
	default:
		t.Fatalf("expected queue to signal readiness")
	}

	if got := q.Drain(); !slices.Equal(got, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("unexpected drained items %v", got)
	}
	if !slices.Equal(overruns, []int{4}) {
		t.Fatalf("expected one overrun report at size 4, got %v", overruns)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain")
	}

	for range 4 {
		q.Push(0)
	}
	if len(overruns) != 2 {
		t.Fatalf("expected the overrun to be reported again after a drain, got %v", overruns)
	}
}

func TestRingDropsOldest(t *testing.T) {
	r := newRing[int](3)
	for i := range 5 {
		r.Push(i)
	}

	if got := r.Drain(); !slices.Equal(got, []int{2, 3, 4}) {
		t.Fatalf("expected newest items, got %v", got)
	}
	if got := r.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped items, got %d", got)
	}
	if got := r.Drain(); len(got) != 0 {
		t.Fatalf("expected empty ring, got %v", got)
	}
}

func TestContextWindowKeepsNewestNonEmptyFinals(t *testing.T) {
	w := newContextWindow()
	if got := w.Last(3); got != nil {
		t.Fatalf("expected no context, got %v", got)
	}

	w.Append("one")
	w.Append("")
	w.Append("two")
	w.Append("three")
	w.Append("four")

	got := w.Last(3)
	if !slices.Equal(got, []string{"two", "three", "four"}) {
		t.Fatalf("unexpected context %v", got)
	}
	got[0] = "changed"
	if w.Last(3)[0] != "two" {
		t.Fatalf("expected Last to return a copy")
	}
	if got := w.Last(0); got != nil {
		t.Fatalf("expected no context for k=0, got %v", got)
	}
	if got := w.Last(10); len(got) != 4 {
		t.Fatalf("expected every entry when k exceeds the window, got %v", got)
	}

	for range maxContextCount + 5 {
		w.Append("x")
	}
	if got := len(w.entries); got != maxContextCount {
		t.Fatalf("expected window capped at %d, got %d", maxContextCount, got)
	}
}
