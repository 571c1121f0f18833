package ui

import "strings"

// sparkLevels maps normalized sample heights onto block characters.
var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps a fixed window of throughput samples and renders
// them as a row of block characters, newest on the right.
type Sparkline struct {
	window []float64
	next   int
	seen   int
}

// NewSparkline creates a sparkline holding capacity samples. A
// non-positive capacity defaults to 60, one minute at one sample per
// second.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = 60
	}
	return &Sparkline{window: make([]float64, capacity)}
}

// Push records a sample, evicting the oldest once the window is full.
func (s *Sparkline) Push(v float64) {
	s.window[s.next] = v
	s.next = (s.next + 1) % len(s.window)
	s.seen++
}

// Reset discards all recorded samples.
func (s *Sparkline) Reset() {
	for i := range s.window {
		s.window[i] = 0
	}
	s.next = 0
	s.seen = 0
}

// Len reports how many samples the window currently holds.
func (s *Sparkline) Len() int {
	if s.seen < len(s.window) {
		return s.seen
	}
	return len(s.window)
}

// Render draws the most recent width samples, padded on the left with
// spaces while the window is still filling. Samples scale against the
// window maximum so the tallest bar is always full height.
func (s *Sparkline) Render(width int) string {
	if width <= 0 || width > len(s.window) {
		width = len(s.window)
	}
	held := s.Len()
	if held == 0 {
		return strings.Repeat(" ", width)
	}

	ordered := s.chronological()
	if len(ordered) > width {
		ordered = ordered[len(ordered)-width:]
	}

	max := 0.0
	for _, v := range ordered {
		if v > max {
			max = v
		}
	}

	var b strings.Builder
	b.Grow(width * 3)
	for pad := width - len(ordered); pad > 0; pad-- {
		b.WriteRune(' ')
	}
	for _, v := range ordered {
		b.WriteRune(sparkLevels[levelFor(v, max)])
	}
	return b.String()
}

// chronological returns held samples oldest first.
func (s *Sparkline) chronological() []float64 {
	held := s.Len()
	out := make([]float64, 0, held)
	start := 0
	if s.seen >= len(s.window) {
		start = s.next
	}
	for i := 0; i < held; i++ {
		out = append(out, s.window[(start+i)%len(s.window)])
	}
	return out
}

func levelFor(v, max float64) int {
	if max <= 0 || v <= 0 {
		return 0
	}
	idx := int(v / max * float64(len(sparkLevels)-1))
	if idx >= len(sparkLevels) {
		idx = len(sparkLevels) - 1
	}
	return idx
}
