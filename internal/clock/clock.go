package clock

import "time"

// Clock abstracts time so persistence and scheduling can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func New() Clock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
