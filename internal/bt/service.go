package bt

import "time"

// ServiceBehavior is the side effect a Service performs when it fires.
type ServiceBehavior interface {
	OnServiceUpdate(ctx *TickContext)
}

// ServiceFunc adapts a function to a ServiceBehavior.
type ServiceFunc func(ctx *TickContext)

func (f ServiceFunc) OnServiceUpdate(ctx *TickContext) { f(ctx) }

// Service runs Behavior periodically while its owning node is being
// evaluated. It never changes the owner's result.
//
// Elapsed time accumulates from the tick deltas. When it reaches Interval
// the service fires once and keeps the remainder. An Interval of zero or
// less fires every tick.
type Service struct {
	Name     string
	Interval time.Duration
	Behavior ServiceBehavior

	elapsed time.Duration
	fired   uint64
}

// NewService returns a service firing b every interval.
func NewService(name string, interval time.Duration, b ServiceBehavior) *Service {
	return &Service{Name: name, Interval: interval, Behavior: b}
}

// Elapsed returns the time accumulated since the service last fired.
func (s *Service) Elapsed() time.Duration {
	return s.elapsed
}

// Fired returns how many times the service has fired.
func (s *Service) Fired() uint64 {
	return s.fired
}

func (s *Service) reset() {
	s.elapsed = 0
}

func (s *Service) tick(ctx *TickContext) bool {
	if s.Behavior == nil {
		return false
	}
	if s.Interval > 0 {
		s.elapsed += ctx.Delta
		if s.elapsed < s.Interval {
			return false
		}
		s.elapsed %= s.Interval
	}
	s.fired++
	s.Behavior.OnServiceUpdate(ctx)
	return true
}
