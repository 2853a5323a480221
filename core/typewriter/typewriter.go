// Package typewriter reveals text progressively for display.
package typewriter

// Next advances current towards target by at most budget runes.
//
// When target extends current, the next runes of target are revealed. When
// target diverges, as happens when a partial hypothesis is revised, the text
// falls back to the longest common prefix first and the budget is spent
// revealing from there. The result is always a prefix of target.
func Next(current, target string, budget int) string {
	targetRunes := []rune(target)
	shared := commonPrefix([]rune(current), targetRunes)
	if budget < 0 {
		budget = 0
	}

	end := min(shared+budget, len(targetRunes))
	return string(targetRunes[:end])
}

// Done reports whether current already shows all of target.
func Done(current, target string) bool {
	return current == target
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
