package lending

import (
	"math/big"
	"strconv"
	"time"

	"uloan/core/events"
	"uloan/core/types"
)

// Transferor is the external value-transfer collaborator. A false return means
// the transfer did not happen and the engine must not mutate state; the engine
// never retries internally.
type Transferor interface {
	// TransferIn pulls amount from the payer into the engine treasury.
	TransferIn(from, to string, amount *big.Int) bool
	// TransferOut pays amount from the engine treasury to the recipient.
	TransferOut(to string, amount *big.Int) bool
}

// CreditOracle supplies borrower credit scores. The second return value is
// false when the oracle has no record for the address.
type CreditOracle interface {
	CreditScoreOf(borrower string) (uint64, bool)
}

// engineState is the persistence boundary for the two ledgers. Get methods
// return (nil, nil) for unknown ids; PutAll applies every row atomically.
type engineState interface {
	GetCapitalProvider(id uint64) (*CapitalProvider, error)
	PutCapitalProvider(provider *CapitalProvider) error
	NextCapitalProviderID() (uint64, error)
	ProvidersByLender(lender string) ([]uint64, error)
	GetLoan(id uint64) (*Loan, error)
	PutLoan(loan *Loan) error
	NextLoanID() (uint64, error)
	PutAll(providers []*CapitalProvider, loans []*Loan) error
}

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the underlying payload to subscribers.
func (e lendingEvent) Event() *types.Event { return e.evt }

// Engine owns the capital and loan ledgers and orchestrates every state
// transition of the matching and accounting core.
type Engine struct {
	state         engineState
	transferor    Transferor
	oracle        CreditOracle
	emitter       events.Emitter
	params        Params
	treasury      string
	protocolOwner string
	locks         *entityLocks
	now           func() int64
}

// NewEngine constructs an engine with the given protocol parameters, treasury
// address and protocol owner address. State, transferor and oracle must be
// wired before use.
func NewEngine(params Params, treasury, protocolOwner string) *Engine {
	return &Engine{
		params:        params,
		treasury:      treasury,
		protocolOwner: protocolOwner,
		emitter:       events.NoopEmitter{},
		locks:         newEntityLocks(),
		now:           func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to its persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferor wires the external value-transfer collaborator.
func (e *Engine) SetTransferor(t Transferor) { e.transferor = t }

// SetOracle wires the external credit-score oracle.
func (e *Engine) SetOracle(o CreditOracle) { e.oracle = o }

// SetEmitter configures the fact emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetClock overrides the timestamp source, primarily for tests.
func (e *Engine) SetClock(now func() int64) {
	if now != nil {
		e.now = now
	}
}

// Params returns the protocol constants the engine was initialised with.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: evt})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.transferor == nil {
		return errNilTransferor
	}
	return nil
}

func providerKey(id uint64) string { return "cp/" + strconv.FormatUint(id, 10) }
func loanKey(id uint64) string     { return "loan/" + strconv.FormatUint(id, 10) }
func lenderKey(addr string) string { return "lender/" + addr }

// EstimateLenderReturn runs the shared capital validation and returns the
// lender's return band in basis points.
func (e *Engine) EstimateLenderReturn(amount *big.Int, minRisk, maxRisk, lockupDays uint64) (uint64, uint64, error) {
	return LenderReturnEstimateBps(e.params, amount, minRisk, maxRisk, lockupDays)
}

// EstimateLoanRate validates the loan bounds and prices the borrower's
// interest rate using the oracle's current score, letting borrowers dry-run a
// request before committing to it.
func (e *Engine) EstimateLoanRate(borrower string, amount *big.Int, durationInDays uint64) (uint64, error) {
	if e == nil || e.oracle == nil {
		return 0, errNilOracle
	}
	score, ok := e.oracle.CreditScoreOf(borrower)
	if !ok {
		return 0, ErrNoCreditScore
	}
	if score > riskScaleMax {
		return 0, ErrInvalidCreditScore
	}
	return BorrowerRateForTerms(e.params, score, amount, durationInDays)
}

// DepositCapital validates the lender's terms, pulls the funds through the
// transfer collaborator and creates a new capital provider. The created
// provider is returned.
func (e *Engine) DepositCapital(lender string, amount *big.Int, minRisk, maxRisk, lockupDays uint64) (*CapitalProvider, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validateCapitalTerms(e.params, amount, minRisk, maxRisk, lockupDays); err != nil {
		return nil, err
	}
	if !e.transferor.TransferIn(lender, e.treasury, amount) {
		return nil, ErrTransferFailed
	}

	release := e.locks.acquire(lenderKey(lender))
	defer release()

	id, err := e.state.NextCapitalProviderID()
	if err != nil {
		return nil, err
	}
	provider := &CapitalProvider{
		ID:               id,
		Lender:           lender,
		MinRiskLevel:     minRisk,
		MaxRiskLevel:     maxRisk,
		LockUpPeriodDays: lockupDays,
		AmountProvided:   new(big.Int).Set(amount),
		AmountAvailable:  new(big.Int).Set(amount),
	}
	if err := e.state.PutCapitalProvider(provider); err != nil {
		return nil, err
	}
	e.emit(NewCapitalProvidedEvent(provider))
	return provider.Clone(), nil
}

// RecoupAllCapital transfers out the combined available balance of every
// provider owned by the lender and zeroes them. Providers already at zero are
// included in the emitted id list but contribute nothing.
func (e *Engine) RecoupAllCapital(lender string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	release := e.locks.acquire(lenderKey(lender))
	defer release()

	ids, err := e.state.ProvidersByLender(lender)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoCapitalFound
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = providerKey(id)
	}
	releaseProviders := e.locks.acquire(keys...)
	defer releaseProviders()

	providers := make([]*CapitalProvider, 0, len(ids))
	total := big.NewInt(0)
	for _, id := range ids {
		provider, err := e.state.GetCapitalProvider(id)
		if err != nil {
			return nil, err
		}
		if provider == nil {
			continue
		}
		total.Add(total, provider.AmountAvailable)
		providers = append(providers, provider)
	}

	if total.Sign() > 0 && !e.transferor.TransferOut(lender, total) {
		return nil, ErrTransferFailed
	}

	for _, provider := range providers {
		provider.AmountAvailable = big.NewInt(0)
	}
	if err := e.state.PutAll(providers, nil); err != nil {
		return nil, err
	}
	e.emit(NewLenderCapitalRecoupedEvent(lender, total.String(), ids))
	return total, nil
}

// RecoupCapitalProvider transfers out a single provider's available balance
// and zeroes it, leaving every other provider untouched.
func (e *Engine) RecoupCapitalProvider(id uint64, caller string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	release := e.locks.acquire(providerKey(id))
	defer release()

	provider, err := e.state.GetCapitalProvider(id)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrNotFound
	}
	if provider.Lender != caller {
		return nil, ErrNotOwner
	}

	amount := new(big.Int).Set(provider.AmountAvailable)
	if amount.Sign() > 0 && !e.transferor.TransferOut(caller, amount) {
		return nil, ErrTransferFailed
	}

	provider.AmountAvailable = big.NewInt(0)
	if err := e.state.PutCapitalProvider(provider); err != nil {
		return nil, err
	}
	e.emit(NewCapitalProviderRecoupedEvent(id, amount.String()))
	return amount, nil
}

// RequestLoan registers a borrower request after validating the terms and
// fetching the borrower's credit score from the oracle. The created loan is
// returned in the Requested state.
func (e *Engine) RequestLoan(borrower string, amount *big.Int, durationInDays uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.oracle == nil {
		return nil, errNilOracle
	}
	if err := validateLoanTerms(e.params, amount, durationInDays); err != nil {
		return nil, err
	}
	score, ok := e.oracle.CreditScoreOf(borrower)
	if !ok {
		return nil, ErrNoCreditScore
	}
	// The oracle is an external collaborator, so an out-of-scale score is a
	// typed failure rather than an internal invariant violation.
	if score > riskScaleMax {
		return nil, ErrInvalidCreditScore
	}

	totalEpochs := durationInDays / e.params.EpochDays
	rateBps := BorrowerInterestRateBps(score, totalEpochs)

	amountToRepay := new(big.Int).Add(amount, bpsShare(amount, rateBps))
	perEpoch := new(big.Int).Quo(amount, new(big.Int).SetUint64(totalEpochs))

	release := e.locks.acquire(lenderKey(borrower))
	defer release()

	id, err := e.state.NextLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:                      id,
		Borrower:                borrower,
		CreditScore:             score,
		DurationInDays:          durationInDays,
		AmountRequested:         new(big.Int).Set(amount),
		AmountToRepay:           amountToRepay,
		AmountToRepayEveryEpoch: perEpoch,
		MatchMakerFee:           bpsShare(amount, e.params.MatchInitiatorFeeBps),
		ProtocolOwnerFee:        bpsShare(amount, e.params.ProtocolFeeBps),
		TotalEpochsToPay:        totalEpochs,
		State:                   LoanRequested,
		LastActionTimestamp:     e.now(),
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	e.emit(NewLoanRequestedEvent(loan))
	return loan.Clone(), nil
}

// WithdrawLoanFunds pays the principal of a funded loan out to its borrower
// and moves the loan to the Withdrawn state.
func (e *Engine) WithdrawLoanFunds(loanID uint64, caller string) error {
	if err := e.ready(); err != nil {
		return err
	}

	release := e.locks.acquire(loanKey(loanID))
	defer release()

	loan, err := e.state.GetLoan(loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return ErrLoanNotFound
	}
	if loan.Borrower != caller {
		return ErrNotBorrower
	}
	if loan.State != LoanFunded {
		return ErrNotFunded
	}

	if !e.transferor.TransferOut(loan.Borrower, loan.AmountRequested) {
		return ErrTransferFailed
	}

	loan.State = LoanWithdrawn
	loan.LastActionTimestamp = e.now()
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(NewLoanWithdrawnEvent(loan))
	return nil
}

// CapitalProvider returns a copy of the provider with the given id, or
// ErrNotFound.
func (e *Engine) CapitalProvider(id uint64) (*CapitalProvider, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	provider, err := e.state.GetCapitalProvider(id)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrNotFound
	}
	return provider.Clone(), nil
}

// LenderProviderIDs returns the ids of every provider owned by the lender, in
// creation order.
func (e *Engine) LenderProviderIDs(lender string) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ProvidersByLender(lender)
}

// Loan returns a copy of the loan with the given id, or ErrLoanNotFound.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, err := e.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

// LoanLenders returns a copy of the loan's lender rows in proposal order.
func (e *Engine) LoanLenders(id uint64) ([]LoanLender, error) {
	loan, err := e.Loan(id)
	if err != nil {
		return nil, err
	}
	return loan.Lenders, nil
}
