package lending

import "math/big"

// LoanState enumerates the linear loan lifecycle. Transitions never skip a
// state and never move backwards; Closed is terminal.
type LoanState uint8

const (
	LoanRequested LoanState = iota
	LoanFunded
	LoanWithdrawn
	LoanBeingPaidBack
	LoanPaidBack
	LoanClosed
)

// Valid reports whether the state value is within the supported range.
func (s LoanState) Valid() bool {
	return s <= LoanClosed
}

// String returns the canonical state name used in events and API responses.
func (s LoanState) String() string {
	switch s {
	case LoanRequested:
		return "Requested"
	case LoanFunded:
		return "Funded"
	case LoanWithdrawn:
		return "Withdrawn"
	case LoanBeingPaidBack:
		return "BeingPaidBack"
	case LoanPaidBack:
		return "PaidBack"
	case LoanClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CapitalProvider records a lender's deposited funds together with the risk
// and duration constraints under which they may be lent. Providers are never
// destroyed; a fully recouped provider remains as a zero-balance audit record.
type CapitalProvider struct {
	// ID is unique and assigned monotonically starting at 1.
	ID     uint64
	Lender string
	// MinRiskLevel and MaxRiskLevel bound the borrower risk this capital
	// accepts, with min <= max.
	MinRiskLevel uint64
	MaxRiskLevel uint64
	// LockUpPeriodDays is a positive multiple of the protocol epoch.
	LockUpPeriodDays uint64
	// AmountProvided is fixed at creation.
	AmountProvided *big.Int
	// AmountAvailable only ever decreases: matching commits debit it and
	// recoups zero it.
	AmountAvailable *big.Int
	// FundedLoanIDs lists, in commit order, the loans this capital backs.
	FundedLoanIDs []uint64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (p *CapitalProvider) Clone() *CapitalProvider {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AmountProvided = cloneBig(p.AmountProvided)
	clone.AmountAvailable = cloneBig(p.AmountAvailable)
	clone.FundedLoanIDs = append([]uint64(nil), p.FundedLoanIDs...)
	return &clone
}

// LoanLender tracks one capital provider's participation in a matched loan.
// Rows are created atomically at match time and only appended per loan.
type LoanLender struct {
	CapitalProviderID    uint64
	AmountContributed    *big.Int
	TotalAmountToGetBack *big.Int
	// AmountPaidBack never exceeds TotalAmountToGetBack.
	AmountPaidBack *big.Int
}

// Clone returns a deep copy of the lender row.
func (l LoanLender) Clone() LoanLender {
	l.AmountContributed = cloneBig(l.AmountContributed)
	l.TotalAmountToGetBack = cloneBig(l.TotalAmountToGetBack)
	l.AmountPaidBack = cloneBig(l.AmountPaidBack)
	return l
}

// Loan captures a borrower request through its full lifecycle. Loans are never
// destroyed; Closed is final.
type Loan struct {
	// ID is unique and assigned monotonically starting at 1.
	ID       uint64
	Borrower string
	// CreditScore is captured from the external oracle at request time.
	CreditScore uint64
	// DurationInDays is a multiple of the protocol epoch.
	DurationInDays  uint64
	AmountRequested *big.Int
	// AmountToRepay is the principal plus the borrower interest.
	AmountToRepay *big.Int
	// AmountToRepayEveryEpoch is the fixed per-epoch instalment; the final
	// epoch pulls whatever remains so the totals close exactly.
	AmountToRepayEveryEpoch *big.Int
	MatchMakerFee           *big.Int
	ProtocolOwnerFee        *big.Int
	TotalEpochsToPay        uint64
	EpochsPaid              uint64
	LastActionTimestamp     int64
	State                   LoanState
	// MatchMaker is the address that submitted the successful matching
	// proposal; it earns the match initiator fee.
	MatchMaker string
	// Lenders holds one row per participating capital provider, in proposal
	// order.
	Lenders []LoanLender
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.AmountRequested = cloneBig(l.AmountRequested)
	clone.AmountToRepay = cloneBig(l.AmountToRepay)
	clone.AmountToRepayEveryEpoch = cloneBig(l.AmountToRepayEveryEpoch)
	clone.MatchMakerFee = cloneBig(l.MatchMakerFee)
	clone.ProtocolOwnerFee = cloneBig(l.ProtocolOwnerFee)
	clone.Lenders = make([]LoanLender, len(l.Lenders))
	for i, lender := range l.Lenders {
		clone.Lenders[i] = lender.Clone()
	}
	return &clone
}

// RiskLevel derives the loan's position on the 0-100 risk scale from the
// borrower's credit score via the mirror mapping.
func (l *Loan) RiskLevel() uint64 {
	return CreditScoreToRiskLevel(l.CreditScore)
}

// LenderPool returns the slice of the repayment owed to lenders, i.e. the
// amount to repay net of both fees.
func (l *Loan) LenderPool() *big.Int {
	pool := new(big.Int).Sub(l.AmountToRepay, l.MatchMakerFee)
	return pool.Sub(pool, l.ProtocolOwnerFee)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
