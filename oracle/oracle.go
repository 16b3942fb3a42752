// Package oracle supplies borrower credit scores to the lending engine. The
// engine never derives scores itself; it only reads what the oracle reports
// at loan request time.
package oracle

import "sync"

// Static is a map-backed credit score oracle. Scores are registered out of
// band (operator tooling, an upstream scoring pipeline) and read by the
// engine.
type Static struct {
	mu     sync.RWMutex
	scores map[string]uint64
}

// NewStatic returns an oracle with no recorded scores.
func NewStatic() *Static {
	return &Static{scores: make(map[string]uint64)}
}

// SetScore records or replaces the score for a borrower address.
func (s *Static) SetScore(borrower string, score uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[borrower] = score
}

// CreditScoreOf returns the borrower's score, or false when the oracle has no
// record for the address.
func (s *Static) CreditScoreOf(borrower string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[borrower]
	return score, ok
}
