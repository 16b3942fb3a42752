package lending

import (
	"errors"
	"math/big"
	"testing"

	"uloan/core/events"
	"uloan/core/types"
)

type mockState struct {
	providers    map[uint64]*CapitalProvider
	loans        map[uint64]*Loan
	byLender     map[string][]uint64
	nextProvider uint64
	nextLoan     uint64
}

func newMockState() *mockState {
	return &mockState{
		providers: make(map[uint64]*CapitalProvider),
		loans:     make(map[uint64]*Loan),
		byLender:  make(map[string][]uint64),
	}
}

func (m *mockState) GetCapitalProvider(id uint64) (*CapitalProvider, error) {
	return m.providers[id].Clone(), nil
}

func (m *mockState) PutCapitalProvider(provider *CapitalProvider) error {
	if _, exists := m.providers[provider.ID]; !exists {
		m.byLender[provider.Lender] = append(m.byLender[provider.Lender], provider.ID)
	}
	m.providers[provider.ID] = provider.Clone()
	return nil
}

func (m *mockState) NextCapitalProviderID() (uint64, error) {
	m.nextProvider++
	return m.nextProvider, nil
}

func (m *mockState) ProvidersByLender(lender string) ([]uint64, error) {
	return append([]uint64(nil), m.byLender[lender]...), nil
}

func (m *mockState) GetLoan(id uint64) (*Loan, error) {
	return m.loans[id].Clone(), nil
}

func (m *mockState) PutLoan(loan *Loan) error {
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockState) NextLoanID() (uint64, error) {
	m.nextLoan++
	return m.nextLoan, nil
}

func (m *mockState) PutAll(providers []*CapitalProvider, loans []*Loan) error {
	for _, provider := range providers {
		if provider != nil {
			if err := m.PutCapitalProvider(provider); err != nil {
				return err
			}
		}
	}
	for _, loan := range loans {
		if loan != nil {
			m.loans[loan.ID] = loan.Clone()
		}
	}
	return nil
}

type transferRecord struct {
	from   string
	to     string
	amount *big.Int
}

type mockTransferor struct {
	ins     []transferRecord
	outs    []transferRecord
	failIn  bool
	failOut bool
}

func (m *mockTransferor) TransferIn(from, to string, amount *big.Int) bool {
	if m.failIn {
		return false
	}
	m.ins = append(m.ins, transferRecord{from: from, to: to, amount: new(big.Int).Set(amount)})
	return true
}

func (m *mockTransferor) TransferOut(to string, amount *big.Int) bool {
	if m.failOut {
		return false
	}
	m.outs = append(m.outs, transferRecord{to: to, amount: new(big.Int).Set(amount)})
	return true
}

func (m *mockTransferor) outTotal(to string) *big.Int {
	total := big.NewInt(0)
	for _, record := range m.outs {
		if record.to == to {
			total.Add(total, record.amount)
		}
	}
	return total
}

type mockOracle struct {
	scores map[string]uint64
}

func (m *mockOracle) CreditScoreOf(borrower string) (uint64, bool) {
	score, ok := m.scores[borrower]
	return score, ok
}

const (
	testTreasury = "treasury"
	testOwner    = "owner"
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockTransferor, *mockOracle, *events.Recorder) {
	t.Helper()
	state := newMockState()
	transferor := &mockTransferor{}
	oracle := &mockOracle{scores: map[string]uint64{}}
	recorder := &events.Recorder{}

	engine := NewEngine(DefaultParams(), testTreasury, testOwner)
	engine.SetState(state)
	engine.SetTransferor(transferor)
	engine.SetOracle(oracle)
	engine.SetEmitter(recorder)
	engine.SetClock(func() int64 { return 1_700_000_000 })
	return engine, state, transferor, oracle, recorder
}

func recordedEvent(t *testing.T, recorder *events.Recorder, index int) *types.Event {
	t.Helper()
	all := recorder.Events()
	if index >= len(all) {
		t.Fatalf("expected at least %d events, got %d", index+1, len(all))
	}
	carrier, ok := all[index].(interface{ Event() *types.Event })
	if !ok {
		t.Fatalf("event %d does not expose a payload", index)
	}
	return carrier.Event()
}

func TestDepositCapitalCreatesProvider(t *testing.T) {
	engine, state, transferor, _, recorder := newTestEngine(t)

	provider, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if provider.ID != 1 {
		t.Fatalf("expected first id 1, got %d", provider.ID)
	}
	if provider.AmountAvailable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected full amount available, got %s", provider.AmountAvailable)
	}
	if len(transferor.ins) != 1 || transferor.ins[0].from != "lender-1" || transferor.ins[0].to != testTreasury {
		t.Fatalf("unexpected transfer record: %+v", transferor.ins)
	}

	stored := state.providers[1]
	if stored == nil || stored.AmountProvided.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("provider not persisted: %+v", stored)
	}

	evt := recordedEvent(t, recorder, 0)
	if evt.Type != EventTypeCapitalProvided {
		t.Fatalf("expected %s event, got %s", EventTypeCapitalProvided, evt.Type)
	}
	if evt.Attributes["amount"] != "1000" {
		t.Fatalf("event amount = %q", evt.Attributes["amount"])
	}
}

func TestDepositCapitalTransferFailureLeavesNoState(t *testing.T) {
	engine, state, transferor, _, recorder := newTestEngine(t)
	transferor.failIn = true

	if _, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if len(state.providers) != 0 {
		t.Fatalf("expected no provider created")
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("expected no events emitted")
	}
}

func TestDepositCapitalValidationRejectsBeforeTransfer(t *testing.T) {
	engine, _, transferor, _, _ := newTestEngine(t)

	if _, err := engine.DepositCapital("lender-1", big.NewInt(50), 10, 60, 28); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}
	if len(transferor.ins) != 0 {
		t.Fatalf("expected no transfer attempt, got %+v", transferor.ins)
	}
}

func TestRecoupAllCapital(t *testing.T) {
	engine, state, transferor, _, recorder := newTestEngine(t)

	if _, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := engine.DepositCapital("lender-1", big.NewInt(500), 0, 100, 7); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := engine.DepositCapital("lender-2", big.NewInt(750), 0, 100, 7); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	total, err := engine.RecoupAllCapital("lender-1")
	if err != nil {
		t.Fatalf("recoup failed: %v", err)
	}
	if total.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("total = %s, want 1500", total)
	}
	if transferor.outTotal("lender-1").Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("payout = %s, want 1500", transferor.outTotal("lender-1"))
	}
	for _, id := range []uint64{1, 2} {
		if state.providers[id].AmountAvailable.Sign() != 0 {
			t.Fatalf("provider %d not zeroed", id)
		}
	}
	// The other lender is untouched.
	if state.providers[3].AmountAvailable.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unrelated provider mutated: %s", state.providers[3].AmountAvailable)
	}

	evt := recordedEvent(t, recorder, 3)
	if evt.Type != EventTypeLenderCapitalRecouped {
		t.Fatalf("expected %s event, got %s", EventTypeLenderCapitalRecouped, evt.Type)
	}
	if evt.Attributes["ids"] != "1,2" {
		t.Fatalf("event ids = %q, want 1,2", evt.Attributes["ids"])
	}
}

func TestRecoupAllCapitalNoProviders(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	if _, err := engine.RecoupAllCapital("nobody"); !errors.Is(err, ErrNoCapitalFound) {
		t.Fatalf("expected ErrNoCapitalFound, got %v", err)
	}
}

func TestRecoupAllCapitalIncludesZeroedProviders(t *testing.T) {
	engine, _, _, _, recorder := newTestEngine(t)

	if _, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := engine.RecoupCapitalProvider(1, "lender-1"); err != nil {
		t.Fatalf("single recoup failed: %v", err)
	}

	total, err := engine.RecoupAllCapital("lender-1")
	if err != nil {
		t.Fatalf("recoup-all after single recoup failed: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("expected zero total, got %s", total)
	}
	evt := recordedEvent(t, recorder, 2)
	if evt.Attributes["ids"] != "1" {
		t.Fatalf("expected zeroed provider listed, got %q", evt.Attributes["ids"])
	}
}

func TestRecoupCapitalProviderChecks(t *testing.T) {
	engine, state, transferor, _, _ := newTestEngine(t)

	if _, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := engine.DepositCapital("lender-1", big.NewInt(400), 10, 60, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if _, err := engine.RecoupCapitalProvider(99, "lender-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.RecoupCapitalProvider(1, "intruder"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	transferor.failOut = true
	if _, err := engine.RecoupCapitalProvider(1, "lender-1"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if state.providers[1].AmountAvailable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("failed transfer must not mutate the provider")
	}

	transferor.failOut = false
	amount, err := engine.RecoupCapitalProvider(1, "lender-1")
	if err != nil {
		t.Fatalf("recoup failed: %v", err)
	}
	if amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("amount = %s, want 1000", amount)
	}
	if state.providers[1].AmountAvailable.Sign() != 0 {
		t.Fatalf("provider 1 not zeroed")
	}
	// The sibling provider keeps its balance.
	if state.providers[2].AmountAvailable.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("sibling provider mutated: %s", state.providers[2].AmountAvailable)
	}
}

func TestRequestLoanComputesSchedule(t *testing.T) {
	engine, _, _, oracle, recorder := newTestEngine(t)
	oracle.scores["borrower-1"] = 50

	loan, err := engine.RequestLoan("borrower-1", big.NewInt(2000), 28)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if loan.ID != 1 || loan.State != LoanRequested {
		t.Fatalf("unexpected loan header: id=%d state=%s", loan.ID, loan.State)
	}
	if loan.TotalEpochsToPay != 4 {
		t.Fatalf("epochs = %d, want 4", loan.TotalEpochsToPay)
	}
	// rate(score=50, epochs=4) is 808bp: 2000 + floor(2000*808/10000) = 2161.
	if loan.AmountToRepay.Cmp(big.NewInt(2161)) != 0 {
		t.Fatalf("amountToRepay = %s, want 2161", loan.AmountToRepay)
	}
	if loan.AmountToRepayEveryEpoch.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("perEpoch = %s, want 500", loan.AmountToRepayEveryEpoch)
	}
	if loan.MatchMakerFee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("matchMakerFee = %s, want 10", loan.MatchMakerFee)
	}
	if loan.ProtocolOwnerFee.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("protocolOwnerFee = %s, want 5", loan.ProtocolOwnerFee)
	}
	if len(loan.Lenders) != 0 || loan.MatchMaker != "" {
		t.Fatalf("fresh loan must have no lenders and no match maker")
	}

	evt := recordedEvent(t, recorder, 0)
	if evt.Type != EventTypeLoanRequested {
		t.Fatalf("expected %s event, got %s", EventTypeLoanRequested, evt.Type)
	}
}

func TestRequestLoanWithoutCreditScore(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)
	if _, err := engine.RequestLoan("stranger", big.NewInt(2000), 28); !errors.Is(err, ErrNoCreditScore) {
		t.Fatalf("expected ErrNoCreditScore, got %v", err)
	}
}

func TestOutOfScaleOracleScoreIsATypedError(t *testing.T) {
	engine, state, _, oracle, recorder := newTestEngine(t)
	oracle.scores["borrower-1"] = 150

	if _, err := engine.RequestLoan("borrower-1", big.NewInt(2000), 28); !errors.Is(err, ErrInvalidCreditScore) {
		t.Fatalf("expected ErrInvalidCreditScore, got %v", err)
	}
	if len(state.loans) != 0 {
		t.Fatalf("no loan may be created from an out-of-scale score")
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("no events may be emitted for a rejected request")
	}
	if _, err := engine.EstimateLoanRate("borrower-1", big.NewInt(2000), 28); !errors.Is(err, ErrInvalidCreditScore) {
		t.Fatalf("expected ErrInvalidCreditScore from estimate, got %v", err)
	}
}

func TestEstimateLoanRateMatchesRequest(t *testing.T) {
	engine, _, _, oracle, _ := newTestEngine(t)
	oracle.scores["borrower-1"] = 80

	rate, err := engine.EstimateLoanRate("borrower-1", big.NewInt(2000), 28)
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if rate != 508 {
		t.Fatalf("rate = %d, want 508", rate)
	}
}

func TestWithdrawLoanFunds(t *testing.T) {
	engine, state, transferor, oracle, recorder := newTestEngine(t)
	oracle.scores["borrower-1"] = 50

	if _, err := engine.DepositCapital("lender-1", big.NewInt(2000), 0, 100, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	loan, err := engine.RequestLoan("borrower-1", big.NewInt(2000), 28)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if err := engine.WithdrawLoanFunds(loan.ID, "borrower-1"); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded before matching, got %v", err)
	}

	proposals := []CapitalProposal{{CapitalProviderID: 1, Amount: big.NewInt(2000)}}
	if err := engine.MatchLoanWithCapital(proposals, loan.ID, "matcher"); err != nil {
		t.Fatalf("match failed: %v", err)
	}

	if err := engine.WithdrawLoanFunds(loan.ID, "intruder"); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected ErrNotBorrower, got %v", err)
	}
	if err := engine.WithdrawLoanFunds(99, "borrower-1"); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}

	transferor.failOut = true
	if err := engine.WithdrawLoanFunds(loan.ID, "borrower-1"); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if state.loans[loan.ID].State != LoanFunded {
		t.Fatalf("failed withdrawal must not change state")
	}

	transferor.failOut = false
	if err := engine.WithdrawLoanFunds(loan.ID, "borrower-1"); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if state.loans[loan.ID].State != LoanWithdrawn {
		t.Fatalf("state = %s, want Withdrawn", state.loans[loan.ID].State)
	}
	if transferor.outTotal("borrower-1").Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("borrower payout = %s, want 2000", transferor.outTotal("borrower-1"))
	}

	last := recordedEvent(t, recorder, len(recorder.Events())-1)
	if last.Type != EventTypeLoanWithdrawn {
		t.Fatalf("expected %s event, got %s", EventTypeLoanWithdrawn, last.Type)
	}

	// A second withdrawal is rejected.
	if err := engine.WithdrawLoanFunds(loan.ID, "borrower-1"); !errors.Is(err, ErrNotFunded) {
		t.Fatalf("expected ErrNotFunded on re-withdrawal, got %v", err)
	}
}

func TestQueriesReturnCopies(t *testing.T) {
	engine, state, _, _, _ := newTestEngine(t)

	if _, err := engine.DepositCapital("lender-1", big.NewInt(1000), 10, 60, 28); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	provider, err := engine.CapitalProvider(1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	provider.AmountAvailable.SetInt64(0)
	if state.providers[1].AmountAvailable.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("query result aliases stored state")
	}

	if _, err := engine.CapitalProvider(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := engine.Loan(42); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}
