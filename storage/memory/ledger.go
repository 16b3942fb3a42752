// Package memory provides the in-process ledger store backing the lending
// engine. Rows are deep-copied on the way in and out so callers can never
// alias stored state, and PutAll applies multi-row commits under a single
// critical section to give the engine its all-or-nothing semantics.
package memory

import (
	"sync"

	"uloan/native/lending"
)

// Ledger is a mutex-guarded, map-backed implementation of the engine's state
// interface. Ids are assigned from monotonic counters starting at 1 and are
// never reused; records are never deleted.
type Ledger struct {
	mu sync.RWMutex

	providers      map[uint64]*lending.CapitalProvider
	loans          map[uint64]*lending.Loan
	lenderIndex    map[string][]uint64
	nextProviderID uint64
	nextLoanID     uint64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		providers:   make(map[uint64]*lending.CapitalProvider),
		loans:       make(map[uint64]*lending.Loan),
		lenderIndex: make(map[string][]uint64),
	}
}

// GetCapitalProvider returns a copy of the stored provider, or (nil, nil) when
// the id is unknown.
func (l *Ledger) GetCapitalProvider(id uint64) (*lending.CapitalProvider, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers[id].Clone(), nil
}

// PutCapitalProvider stores a copy of the provider and maintains the
// per-lender index.
func (l *Ledger) PutCapitalProvider(provider *lending.CapitalProvider) error {
	if provider == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.putProviderLocked(provider)
	return nil
}

func (l *Ledger) putProviderLocked(provider *lending.CapitalProvider) {
	if _, exists := l.providers[provider.ID]; !exists {
		l.lenderIndex[provider.Lender] = append(l.lenderIndex[provider.Lender], provider.ID)
	}
	l.providers[provider.ID] = provider.Clone()
}

// NextCapitalProviderID reserves and returns the next provider id.
func (l *Ledger) NextCapitalProviderID() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextProviderID++
	return l.nextProviderID, nil
}

// ProvidersByLender returns the lender's provider ids in creation order.
func (l *Ledger) ProvidersByLender(lender string) ([]uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.lenderIndex[lender]...), nil
}

// GetLoan returns a copy of the stored loan, or (nil, nil) when the id is
// unknown.
func (l *Ledger) GetLoan(id uint64) (*lending.Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loans[id].Clone(), nil
}

// PutLoan stores a copy of the loan.
func (l *Ledger) PutLoan(loan *lending.Loan) error {
	if loan == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loans[loan.ID] = loan.Clone()
	return nil
}

// NextLoanID reserves and returns the next loan id.
func (l *Ledger) NextLoanID() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextLoanID++
	return l.nextLoanID, nil
}

// PutAll stores every given provider and loan under one critical section so a
// cross-entity commit is observed either entirely or not at all.
func (l *Ledger) PutAll(providers []*lending.CapitalProvider, loans []*lending.Loan) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		l.putProviderLocked(provider)
	}
	for _, loan := range loans {
		if loan == nil {
			continue
		}
		l.loans[loan.ID] = loan.Clone()
	}
	return nil
}
