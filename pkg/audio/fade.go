package audio

// FadeSamples returns how many samples a fade ramp covers for a chunk of
// total samples: the nominal window, capped to one eighth of the chunk so
// short chunks keep most of their level.
func FadeSamples(total int, window int) int {
	if total <= 0 || window <= 0 {
		return 0
	}
	limit := total / 8
	if window < limit {
		return window
	}
	return limit
}

// FadeIn applies a linear ramp from zero over the first n samples in place.
func FadeIn(samples []float32, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}
}

// FadeOut applies a linear ramp to zero over the last n samples in place.
func FadeOut(samples []float32, n int) {
	if n > len(samples) {
		n = len(samples)
	}
	total := len(samples)
	for i := 0; i < n; i++ {
		samples[total-1-i] *= float32(i) / float32(n)
	}
}
