package orchestration

// contextWindow keeps the most recent non-empty final transcripts. It is
// owned by the dispatch loop and only ever appended to.
type contextWindow struct {
	entries  []string
	capacity int
}

const maxContextCount = 32

func newContextWindow() *contextWindow {
	return &contextWindow{capacity: maxContextCount}
}

func (w *contextWindow) Append(text string) {
	if text == "" {
		return
	}
	w.entries = append(w.entries, text)
	if over := len(w.entries) - w.capacity; over > 0 {
		w.entries = append(w.entries[:0], w.entries[over:]...)
	}
}

// Last returns a copy of the newest k entries, oldest first.
func (w *contextWindow) Last(k int) []string {
	if k <= 0 || len(w.entries) == 0 {
		return nil
	}
	k = min(k, len(w.entries))
	return append([]string(nil), w.entries[len(w.entries)-k:]...)
}
