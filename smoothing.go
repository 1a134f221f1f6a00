package dashlog

import "time"

type sample struct {
	at    Stamp
	value float64
}

// Smoother is a bounded-window moving average. The window holds at most
// Samples values and nothing older than Span before the newest one, so a
// stale value never outlives a pause in the data.
type Smoother struct {
	Samples int
	Span    time.Duration

	window []sample
}

func NewSmoother(samples int, span time.Duration) *Smoother {
	if samples < 1 {
		samples = 1
	}
	return &Smoother{Samples: samples, Span: span, window: make([]sample, 0, samples)}
}

// Add puts v into the window and returns the smoothed value.
func (s *Smoother) Add(at Stamp, v float64) float64 {
	if len(s.window) == s.Samples {
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, sample{at: at, value: v})

	if s.Span > 0 {
		cut := 0
		for cut < len(s.window)-1 && at.Sub(s.window[cut].at) > s.Span {
			cut++
		}
		if cut > 0 {
			s.window = append(s.window[:0], s.window[cut:]...)
		}
	}
	return s.Value()
}

func (s *Smoother) Value() float64 {
	if len(s.window) == 0 {
		return 0
	}
	sum := 0.0
	for _, smp := range s.window {
		sum += smp.value
	}
	return sum / float64(len(s.window))
}

func (s *Smoother) Len() int {
	return len(s.window)
}

func (s *Smoother) Reset() {
	s.window = s.window[:0]
}

// vectorSmoother smooths each axis of a three axis sample independently.
type vectorSmoother [3]*Smoother

func newVectorSmoother(samples int, span time.Duration) vectorSmoother {
	return vectorSmoother{
		NewSmoother(samples, span),
		NewSmoother(samples, span),
		NewSmoother(samples, span),
	}
}

func (v vectorSmoother) Add(at Stamp, axes [3]int16) [3]float64 {
	var out [3]float64
	for i := range axes {
		out[i] = v[i].Add(at, float64(axes[i]))
	}
	return out
}
