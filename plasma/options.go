package plasma

import (
	"time"

	"go.uber.org/zap"
)

// An Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger used by the sender.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sender) {
		s.log = log
	}
}

// WithClock sets the clock used to measure and sleep between plasma polls.
func WithClock(c Clock) Option {
	return func(s *Sender) {
		s.clock = c
	}
}

// WithWait sets how long SendWithPlasma waits for generated plasma and how
// often it polls while waiting.
func WithWait(timeout, interval time.Duration) Option {
	return func(s *Sender) {
		s.timeout = timeout
		s.interval = interval
	}
}
