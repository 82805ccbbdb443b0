package nav

import "gonum.org/v1/gonum/stat"

// heightHistory is a bounded window of recent raw height samples. Once full,
// every push evicts the oldest sample.
type heightHistory struct {
	samples  []float64
	capacity int
}

func newHeightHistory(capacity int) *heightHistory {
	return &heightHistory{
		samples:  make([]float64, 0, capacity),
		capacity: capacity,
	}
}

func (h *heightHistory) push(v float64) {
	if len(h.samples) == h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, v)
}

// mean returns the arithmetic mean of the window; ok is false when empty.
func (h *heightHistory) mean() (float64, bool) {
	if len(h.samples) == 0 {
		return 0, false
	}
	return stat.Mean(h.samples, nil), true
}

func (h *heightHistory) clear() {
	h.samples = h.samples[:0]
}

func (h *heightHistory) len() int {
	return len(h.samples)
}
