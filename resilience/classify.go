package resilience

import "time"

// Classification is the verdict of an external error classifier.
type Classification struct {
	// Type names the error class and selects any per-type retry override.
	Type string

	// Retryable reports whether another attempt can help at all.
	Retryable bool

	// RetryAfter, when positive, replaces the computed backoff delay
	// before the next attempt.
	RetryAfter time.Duration
}

// Classifier determines how a failure should influence the retry schedule.
// It is an opaque oracle supplied by the caller; the retry policy only
// consumes its verdicts.
type Classifier interface {
	Classify(err error) Classification
}

// ClassifierFunc adapts an ordinary function to the Classifier interface.
type ClassifierFunc func(err error) Classification

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) Classification {
	return f(err)
}
