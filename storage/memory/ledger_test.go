package memory

import (
	"math/big"
	"sync"
	"testing"

	"uloan/native/lending"
)

func TestLedgerAssignsMonotonicIDs(t *testing.T) {
	ledger := NewLedger()
	for want := uint64(1); want <= 5; want++ {
		id, err := ledger.NextCapitalProviderID()
		if err != nil {
			t.Fatalf("next provider id: %v", err)
		}
		if id != want {
			t.Fatalf("provider id = %d, want %d", id, want)
		}
	}
	id, err := ledger.NextLoanID()
	if err != nil {
		t.Fatalf("next loan id: %v", err)
	}
	if id != 1 {
		t.Fatalf("loan id = %d, want 1", id)
	}
}

func TestLedgerReturnsNilForUnknownIDs(t *testing.T) {
	ledger := NewLedger()
	provider, err := ledger.GetCapitalProvider(7)
	if err != nil || provider != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", provider, err)
	}
	loan, err := ledger.GetLoan(7)
	if err != nil || loan != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", loan, err)
	}
}

func TestLedgerCopiesOnReadAndWrite(t *testing.T) {
	ledger := NewLedger()
	provider := &lending.CapitalProvider{
		ID:              1,
		Lender:          "lender-1",
		AmountProvided:  big.NewInt(1000),
		AmountAvailable: big.NewInt(1000),
	}
	if err := ledger.PutCapitalProvider(provider); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Mutating the original after the put must not leak in.
	provider.AmountAvailable.SetInt64(0)
	stored, err := ledger.GetCapitalProvider(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AmountAvailable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("stored balance mutated through caller reference: %s", stored.AmountAvailable)
	}

	// Mutating a read result must not leak back.
	stored.AmountAvailable.SetInt64(42)
	again, err := ledger.GetCapitalProvider(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.AmountAvailable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("stored balance mutated through read result: %s", again.AmountAvailable)
	}
}

func TestLedgerLenderIndexKeepsCreationOrder(t *testing.T) {
	ledger := NewLedger()
	for i := uint64(1); i <= 3; i++ {
		if err := ledger.PutCapitalProvider(&lending.CapitalProvider{
			ID:              i,
			Lender:          "lender-1",
			AmountProvided:  big.NewInt(100),
			AmountAvailable: big.NewInt(100),
		}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	// Updating an existing provider must not duplicate the index entry.
	if err := ledger.PutCapitalProvider(&lending.CapitalProvider{
		ID:              2,
		Lender:          "lender-1",
		AmountProvided:  big.NewInt(100),
		AmountAvailable: big.NewInt(0),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	ids, err := ledger.ProvidersByLender("lender-1")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("index = %v, want [1 2 3]", ids)
	}
}

func TestLedgerPutAllStoresEveryRow(t *testing.T) {
	ledger := NewLedger()
	providers := []*lending.CapitalProvider{
		{ID: 1, Lender: "lender-1", AmountProvided: big.NewInt(100), AmountAvailable: big.NewInt(0)},
		{ID: 2, Lender: "lender-2", AmountProvided: big.NewInt(200), AmountAvailable: big.NewInt(0)},
	}
	loans := []*lending.Loan{{
		ID:              1,
		Borrower:        "borrower-1",
		AmountRequested: big.NewInt(300),
		AmountToRepay:   big.NewInt(330),
	}}
	if err := ledger.PutAll(providers, loans); err != nil {
		t.Fatalf("put all: %v", err)
	}
	for _, id := range []uint64{1, 2} {
		provider, err := ledger.GetCapitalProvider(id)
		if err != nil || provider == nil {
			t.Fatalf("provider %d missing after PutAll", id)
		}
	}
	loan, err := ledger.GetLoan(1)
	if err != nil || loan == nil {
		t.Fatalf("loan missing after PutAll")
	}
}

func TestLedgerConcurrentIDAllocation(t *testing.T) {
	ledger := NewLedger()
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	seen := make(chan uint64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := ledger.NextLoanID()
				if err != nil {
					t.Errorf("next loan id: %v", err)
					return
				}
				seen <- id
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]struct{}, workers*perWorker)
	for id := range seen {
		if _, dup := unique[id]; dup {
			t.Fatalf("id %d allocated twice", id)
		}
		unique[id] = struct{}{}
	}
	if len(unique) != workers*perWorker {
		t.Fatalf("allocated %d unique ids, want %d", len(unique), workers*perWorker)
	}
}
