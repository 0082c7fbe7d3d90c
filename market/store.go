package market

import (
	"sort"
	"sync"
)

// Store keeps the latest Quote per (symbol, exchange). All access goes
// through one RWMutex; readers get copies and never hold the lock while
// using them.
type Store struct {
	mu     sync.RWMutex
	quotes map[Symbol]map[Exchange]Quote
}

func NewStore() *Store {
	return &Store{
		quotes: make(map[Symbol]map[Exchange]Quote),
	}
}

// Put overwrites the entry keyed by the quote's symbol and exchange.
func (s *Store) Put(q Quote) {
	s.mu.Lock()
	if s.quotes[q.Symbol] == nil {
		s.quotes[q.Symbol] = make(map[Exchange]Quote)
	}
	s.quotes[q.Symbol][q.Exchange] = q
	s.mu.Unlock()
}

func (s *Store) Get(sym Symbol, ex Exchange) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[sym][ex]
	return q, ok
}

// Snapshot returns a point-in-time copy of exchange -> quote for sym.
// The result is never nil.
func (s *Store) Snapshot(sym Symbol) map[Exchange]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Exchange]Quote, len(s.quotes[sym]))
	for ex, q := range s.quotes[sym] {
		out[ex] = q
	}
	return out
}

// All copies the whole store.
func (s *Store) All() map[Symbol]map[Exchange]Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Symbol]map[Exchange]Quote, len(s.quotes))
	for sym, byExchange := range s.quotes {
		cp := make(map[Exchange]Quote, len(byExchange))
		for ex, q := range byExchange {
			cp[ex] = q
		}
		out[sym] = cp
	}
	return out
}

func (s *Store) Symbols() []Symbol {
	s.mu.RLock()
	out := make([]Symbol, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len counts stored (symbol, exchange) entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byExchange := range s.quotes {
		n += len(byExchange)
	}
	return n
}
