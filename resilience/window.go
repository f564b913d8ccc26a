package resilience

import "time"

// outcome is a single recorded request result.
type outcome struct {
	at      time.Time
	success bool
}

// outcomeWindow is a bounded ring buffer of outcomes ordered by timestamp.
// Samples older than the monitoring window are pruned before every
// accounting decision, and the buffer never grows past its capacity, so
// memory stays bounded regardless of traffic.
type outcomeWindow struct {
	span time.Duration
	buf  []outcome
	head int // index of oldest sample
	n    int // number of live samples
}

func newOutcomeWindow(span time.Duration, capacity int) *outcomeWindow {
	if capacity <= 0 {
		capacity = 512
	}
	return &outcomeWindow{
		span: span,
		buf:  make([]outcome, capacity),
	}
}

// add appends a sample, evicting the oldest when full.
func (w *outcomeWindow) add(at time.Time, success bool) {
	if w.n == len(w.buf) {
		w.head = (w.head + 1) % len(w.buf)
		w.n--
	}
	w.buf[(w.head+w.n)%len(w.buf)] = outcome{at: at, success: success}
	w.n++
}

// prune drops samples older than the monitoring window relative to now.
func (w *outcomeWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.n > 0 && w.buf[w.head].at.Before(cutoff) {
		w.head = (w.head + 1) % len(w.buf)
		w.n--
	}
}

// counts returns the total and failed samples currently in the window.
// Callers must prune first.
func (w *outcomeWindow) counts() (total, failures int) {
	for i := 0; i < w.n; i++ {
		if !w.buf[(w.head+i)%len(w.buf)].success {
			failures++
		}
	}
	return w.n, failures
}

// failureRate returns failures/total, or 0 when the window is empty.
func (w *outcomeWindow) failureRate() float64 {
	total, failures := w.counts()
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// clear drops all samples.
func (w *outcomeWindow) clear() {
	w.head = 0
	w.n = 0
}
