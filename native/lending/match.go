package lending

import "math/big"

// CapitalProposal pairs a capital provider with the amount it should
// contribute to a loan.
type CapitalProposal struct {
	CapitalProviderID uint64
	Amount            *big.Int
}

// MatchLoanWithCapital validates a matching proposal against the loan and the
// proposed providers and, if every check passes, commits the allocation
// atomically: providers are debited, lender rows are created in proposal
// order and the loan moves to Funded. The operation is permissionless; the
// caller is recorded only to attribute the match initiator fee.
//
// Validation happens fully before any mutation, in a fixed order, and the
// first failure wins.
func (e *Engine) MatchLoanWithCapital(proposals []CapitalProposal, loanID uint64, caller string) error {
	if err := e.ready(); err != nil {
		return err
	}

	keys := make([]string, 0, len(proposals)+1)
	keys = append(keys, loanKey(loanID))
	for _, proposal := range proposals {
		keys = append(keys, providerKey(proposal.CapitalProviderID))
	}
	release := e.locks.acquire(keys...)
	defer release()

	loan, err := e.state.GetLoan(loanID)
	if err != nil {
		return err
	}
	if loan == nil {
		return ErrLoanNotFound
	}
	if loan.State != LoanRequested {
		return ErrLoanNotMatchable
	}
	if len(proposals) == 0 {
		return ErrEmptyProposal
	}

	// Amounts must be strictly positive before they take part in any sum: a
	// zero or negative entry could otherwise pass the mismatch check and credit
	// a provider at commit time.
	proposed := big.NewInt(0)
	for _, proposal := range proposals {
		if proposal.Amount == nil || proposal.Amount.Sign() <= 0 {
			return ErrInvalidProposalAmount
		}
		proposed.Add(proposed, proposal.Amount)
	}
	if proposed.Cmp(loan.AmountRequested) != 0 {
		return ErrAmountMismatch
	}

	// A provider may appear in several proposal entries, so each id is fetched
	// once and the entries share the instance.
	byID := make(map[uint64]*CapitalProvider)
	unique := make([]*CapitalProvider, 0, len(proposals))
	providers := make([]*CapitalProvider, len(proposals))
	for i, proposal := range proposals {
		provider, ok := byID[proposal.CapitalProviderID]
		if !ok {
			fetched, err := e.state.GetCapitalProvider(proposal.CapitalProviderID)
			if err != nil {
				return err
			}
			if fetched == nil {
				return ErrCapitalProviderNotFound
			}
			provider = fetched
			byID[proposal.CapitalProviderID] = provider
			unique = append(unique, provider)
		}
		providers[i] = provider
	}

	proposedPer := make(map[uint64]*big.Int, len(byID))
	for _, proposal := range proposals {
		sum, ok := proposedPer[proposal.CapitalProviderID]
		if !ok {
			sum = big.NewInt(0)
			proposedPer[proposal.CapitalProviderID] = sum
		}
		sum.Add(sum, proposal.Amount)
	}
	for id, sum := range proposedPer {
		if byID[id].AmountAvailable.Cmp(sum) < 0 {
			return ErrInsufficientCapital
		}
	}

	// Providers are checked in proposal order so the first constraint failure
	// wins regardless of which bound it violates.
	loanRisk := loan.RiskLevel()
	for _, provider := range providers {
		if loanRisk < provider.MinRiskLevel {
			return ErrRiskTooLowForLender
		}
		if loanRisk > provider.MaxRiskLevel {
			return ErrRiskTooHighForLender
		}
	}

	for _, provider := range providers {
		if loan.DurationInDays > provider.LockUpPeriodDays {
			return ErrLockupTooShortForLoan
		}
	}

	// Commit. The lender pool (repayment net of fees) is split pro rata by
	// contribution; the integer-division remainder goes to the last lender so
	// the accounting closes exactly.
	pool := loan.LenderPool()
	distributed := big.NewInt(0)
	lenders := make([]LoanLender, len(proposals))
	for i, proposal := range proposals {
		share := new(big.Int).Mul(pool, proposal.Amount)
		share.Quo(share, loan.AmountRequested)
		if i == len(proposals)-1 {
			share = new(big.Int).Sub(pool, distributed)
		} else {
			distributed.Add(distributed, share)
		}
		lenders[i] = LoanLender{
			CapitalProviderID:    proposal.CapitalProviderID,
			AmountContributed:    new(big.Int).Set(proposal.Amount),
			TotalAmountToGetBack: share,
			AmountPaidBack:       big.NewInt(0),
		}

		provider := providers[i]
		provider.AmountAvailable = new(big.Int).Sub(provider.AmountAvailable, proposal.Amount)
	}
	for _, provider := range unique {
		provider.FundedLoanIDs = append(provider.FundedLoanIDs, loan.ID)
	}

	loan.Lenders = lenders
	loan.State = LoanFunded
	loan.MatchMaker = caller
	loan.LastActionTimestamp = e.now()

	assertAccountingClosure(loan)

	if err := e.state.PutAll(unique, []*Loan{loan}); err != nil {
		return err
	}
	e.emit(NewLoanMatchedEvent(loan, caller))
	return nil
}

// assertAccountingClosure panics when the matched loan's repayment does not
// split exactly into lender returns plus fees. Reaching it indicates a logic
// defect, never bad user input.
func assertAccountingClosure(loan *Loan) {
	sum := new(big.Int).Add(loan.MatchMakerFee, loan.ProtocolOwnerFee)
	for _, lender := range loan.Lenders {
		sum.Add(sum, lender.TotalAmountToGetBack)
	}
	if sum.Cmp(loan.AmountToRepay) != 0 {
		panic("lending engine: accounting closure violated for loan " + loan.AmountToRepay.String() +
			" != " + sum.String())
	}
}
