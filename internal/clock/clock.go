package clock

import "time"

// Clock abstracts wall-clock reads so schedulers and windows are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
