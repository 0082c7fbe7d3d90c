package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spread-arbitrage-scanner/arbitrage"
	"spread-arbitrage-scanner/exchanges"
	"spread-arbitrage-scanner/market"
)

const DefaultChannelBuffer = 1024

var (
	ErrAlreadyStarted = errors.New("scanner already started")
	ErrNoAdapters     = errors.New("no exchange adapters configured")
)

// QuoteMirror receives every stored quote, e.g. market.RedisMirror. Offer
// must not block.
type QuoteMirror interface {
	Offer(q market.Quote) bool
}

type Options struct {
	Adapters  []exchanges.Adapter
	Detectors []arbitrage.Detector
	Sinks     []arbitrage.Sink
	// Store defaults to a fresh market.Store.
	Store  *market.Store
	Mirror QuoteMirror

	ChannelBuffer int
	// OnUpdate also runs the symbol's detectors right after each store write.
	OnUpdate      bool
	Connection    exchanges.ManagerOptions
	MetricsPeriod time.Duration
	Log           *logrus.Entry
}

// Scanner wires the pipeline: one Manager per venue publishing into a
// bounded channel, one consumer normalizing into the store, and one
// goroutine per detector.
type Scanner struct {
	opts       Options
	log        *logrus.Entry
	store      *market.Store
	frames     chan exchanges.RawMessage
	managers   []*exchanges.Manager
	normalizer *exchanges.Normalizer
	sink       arbitrage.Sink
	metrics    *Metrics
	bySymbol   map[market.Symbol][]arbitrage.Detector

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(opts Options) (*Scanner, error) {
	if len(opts.Adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if opts.ChannelBuffer <= 0 {
		opts.ChannelBuffer = DefaultChannelBuffer
	}
	if opts.Store == nil {
		opts.Store = market.NewStore()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Scanner{
		opts:       opts,
		log:        opts.Log,
		store:      opts.Store,
		frames:     make(chan exchanges.RawMessage, opts.ChannelBuffer),
		normalizer: exchanges.NewNormalizer(),
		bySymbol:   make(map[market.Symbol][]arbitrage.Detector),
		done:       make(chan struct{}),
	}

	venues := make([]market.Exchange, 0, len(opts.Adapters))
	for _, a := range opts.Adapters {
		venues = append(venues, a.Exchange())
		s.managers = append(s.managers,
			exchanges.NewManager(a, exchanges.ChannelSink(s.frames), opts.Log, opts.Connection))
	}
	s.metrics = newMetrics(venues)

	counter := arbitrage.SinkFunc(func(arbitrage.Opportunity) { s.metrics.opportunities.Add(1) })
	s.sink = append(arbitrage.MultiSink{counter}, opts.Sinks...)

	for _, d := range opts.Detectors {
		s.bySymbol[d.Symbol] = append(s.bySymbol[d.Symbol], d)
	}
	return s, nil
}

func (s *Scanner) Store() *market.Store            { return s.store }
func (s *Scanner) Metrics() *Metrics               { return s.metrics }
func (s *Scanner) Managers() []*exchanges.Manager  { return s.managers }
func (s *Scanner) Detectors() []arbitrage.Detector { return s.opts.Detectors }

// Run blocks until ctx is cancelled or Stop is called, then shuts the
// pipeline down in order: connections close, the fan-in channel is closed
// and drained into the store, detectors stop.
func (s *Scanner) Run(ctx context.Context) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return s.run(ctx, cancel)
}

// Start runs the scanner in the background.
func (s *Scanner) Start(ctx context.Context) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		err := s.run(ctx, cancel)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// begin marks the scanner started and stores its cancel func in one step,
// so a concurrent Stop always has something to cancel.
func (s *Scanner) begin(parent context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, nil, ErrAlreadyStarted
	}
	s.started = true
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, cancel, nil
}

// Stop cancels a running scanner, whether started with Start or Run, and
// waits for it to finish.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the scanner has fully shut down.
func (s *Scanner) Done() <-chan struct{} { return s.done }

func (s *Scanner) run(ctx context.Context, cancel context.CancelFunc) error {
	defer close(s.done)
	defer cancel()

	var producers sync.WaitGroup
	for _, m := range s.managers {
		producers.Add(1)
		go func(m *exchanges.Manager) {
			defer producers.Done()
			m.Run(ctx)
		}(m)
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for msg := range s.frames {
			s.ingest(msg)
		}
	}()

	var workers sync.WaitGroup
	for _, d := range s.opts.Detectors {
		workers.Add(1)
		go func(d arbitrage.Detector) {
			defer workers.Done()
			d.Run(ctx, s.store, s.sink)
		}(d)
	}
	if s.opts.MetricsPeriod > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			s.metrics.report(ctx, s.opts.MetricsPeriod, s.store, s.log.WithField("component", "metrics"))
		}()
	}

	s.log.WithFields(logrus.Fields{
		"exchanges": len(s.managers),
		"detectors": len(s.opts.Detectors),
		"buffer":    cap(s.frames),
		"on_update": s.opts.OnUpdate,
	}).Info("scanner started")

	<-ctx.Done()
	producers.Wait()
	close(s.frames)
	<-consumed
	workers.Wait()

	s.log.WithField("quotes", s.metrics.quotes.Load()).Info("scanner stopped")
	return nil
}

// ingest normalizes one frame and stores the quote as a single step.
func (s *Scanner) ingest(msg exchanges.RawMessage) {
	s.metrics.received.Add(1)

	q, ok, err := s.normalizer.Normalize(msg)
	var venueErr *exchanges.VenueError
	switch {
	case errors.As(err, &venueErr):
		s.metrics.venueErrors.Add(1)
		s.log.WithError(err).WithField("exchange", msg.Exchange).Warn("venue error")
		return
	case err != nil:
		s.metrics.parseFailures.Add(1)
		s.log.WithError(err).WithField("exchange", msg.Exchange).Debug("parse failure")
		return
	case !ok:
		s.metrics.notQuote.Add(1)
		return
	}

	s.store.Put(q)
	s.metrics.quote(q.Exchange)
	if s.opts.Mirror != nil {
		s.opts.Mirror.Offer(q)
	}
	if s.opts.OnUpdate {
		now := time.Now()
		for _, d := range s.bySymbol[q.Symbol] {
			for _, opp := range d.Evaluate(s.store, now) {
				s.sink.Emit(opp)
			}
		}
	}
}
