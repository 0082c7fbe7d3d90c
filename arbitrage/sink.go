package arbitrage

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Sink consumes detected opportunities. Emit must not block for long; it is
// called from detector goroutines.
type Sink interface {
	Emit(opp Opportunity)
}

type SinkFunc func(Opportunity)

func (f SinkFunc) Emit(opp Opportunity) { f(opp) }

// MultiSink fans each opportunity out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(opp Opportunity) {
	for _, s := range m {
		s.Emit(opp)
	}
}

// LogSink writes one info line per opportunity.
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Emit(opp Opportunity) {
	s.Log.WithFields(logrus.Fields{
		"id":     opp.ID,
		"spread": opp.Spread,
	}).Infof("ARBITRAGE: %s", opp)
}

// ChannelSink hands opportunities to a reader. A full channel drops the
// opportunity rather than stalling detection.
type ChannelSink struct {
	ch      chan Opportunity
	dropped atomic.Int64
}

func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Opportunity, size)}
}

func (s *ChannelSink) Emit(opp Opportunity) {
	select {
	case s.ch <- opp:
	default:
		s.dropped.Add(1)
	}
}

func (s *ChannelSink) C() <-chan Opportunity { return s.ch }

func (s *ChannelSink) Dropped() int64 { return s.dropped.Load() }
