package lending

import "math/big"

// PayLoanEpoch advances a withdrawn loan by one repayment epoch. The fixed
// instalment is pulled from the borrower (the final epoch pulls whatever
// remains so the totals close exactly), the payment is distributed pro rata
// across the lender rows in proportion to their total return, and each
// lender's share is paid out to their address. On the final epoch the loan
// moves through PaidBack, the match initiator and protocol owner fees are
// released, and the loan closes.
func (e *Engine) PayLoanEpoch(loanID uint64) error {
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
	switch loan.State {
	case LoanWithdrawn, LoanBeingPaidBack:
	case LoanClosed:
		return ErrLoanClosed
	default:
		return ErrLoanNotRepayable
	}

	payment := e.epochPayment(loan)
	if !e.transferor.TransferIn(loan.Borrower, e.treasury, payment) {
		return ErrTransferFailed
	}

	loan.EpochsPaid++
	final := loan.EpochsPaid == loan.TotalEpochsToPay
	if final {
		loan.State = LoanPaidBack
	} else {
		loan.State = LoanBeingPaidBack
	}
	loan.LastActionTimestamp = e.now()

	payouts := e.distributeToLenders(loan, payment, final)

	lenderIDs := make(map[uint64]string, len(loan.Lenders))
	for _, row := range loan.Lenders {
		if _, seen := lenderIDs[row.CapitalProviderID]; seen {
			continue
		}
		provider, err := e.state.GetCapitalProvider(row.CapitalProviderID)
		if err != nil {
			return err
		}
		if provider == nil {
			panic("lending engine: matched loan references unknown capital provider")
		}
		lenderIDs[row.CapitalProviderID] = provider.Lender
	}

	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(NewLoanRepaymentMadeEvent(loan, payment.String()))

	// The instalment was already pulled into the treasury, so a payout
	// failure past this point is an internal accounting defect rather than a
	// caller error.
	for i, row := range loan.Lenders {
		if payouts[i].Sign() == 0 {
			continue
		}
		if !e.transferor.TransferOut(lenderIDs[row.CapitalProviderID], payouts[i]) {
			panic("lending engine: treasury cannot cover a lender payout")
		}
	}

	if final {
		e.releaseFees(loan)
		loan.State = LoanClosed
		loan.LastActionTimestamp = e.now()
		if err := e.state.PutLoan(loan); err != nil {
			return err
		}
		e.emit(NewLoanPaidBackEvent(loan))
	}
	return nil
}

// epochPayment returns the amount pulled for the loan's next epoch: the fixed
// instalment, except for the final epoch which absorbs all remaining
// principal, interest and fee value.
func (e *Engine) epochPayment(loan *Loan) *big.Int {
	if loan.EpochsPaid+1 < loan.TotalEpochsToPay {
		return new(big.Int).Set(loan.AmountToRepayEveryEpoch)
	}
	paidSoFar := new(big.Int).Mul(loan.AmountToRepayEveryEpoch,
		new(big.Int).SetUint64(loan.EpochsPaid))
	return new(big.Int).Sub(loan.AmountToRepay, paidSoFar)
}

// distributeToLenders splits the epoch payment across the lender rows pro
// rata by TotalAmountToGetBack, assigning the integer-division remainder to
// the last row. On the final epoch each lender instead receives exactly what
// they are still owed, which leaves the fee total in the treasury for
// releaseFees. The per-row payout amounts are returned; loan.Lenders is
// updated in place.
func (e *Engine) distributeToLenders(loan *Loan, payment *big.Int, final bool) []*big.Int {
	payouts := make([]*big.Int, len(loan.Lenders))
	if final {
		for i := range loan.Lenders {
			row := &loan.Lenders[i]
			owed := new(big.Int).Sub(row.TotalAmountToGetBack, row.AmountPaidBack)
			row.AmountPaidBack = new(big.Int).Set(row.TotalAmountToGetBack)
			payouts[i] = owed
		}
		return payouts
	}

	pool := loan.LenderPool()
	distributed := big.NewInt(0)
	for i := range loan.Lenders {
		row := &loan.Lenders[i]
		share := new(big.Int).Mul(payment, row.TotalAmountToGetBack)
		share.Quo(share, pool)
		if i == len(loan.Lenders)-1 {
			share = new(big.Int).Sub(payment, distributed)
		}
		// Never credit a lender past what they are owed; any residue stays in
		// the treasury and is absorbed by the final epoch settlement.
		owed := new(big.Int).Sub(row.TotalAmountToGetBack, row.AmountPaidBack)
		if share.Cmp(owed) > 0 {
			share = owed
		}
		distributed.Add(distributed, share)
		row.AmountPaidBack = new(big.Int).Add(row.AmountPaidBack, share)
		payouts[i] = share
	}
	return payouts
}

// releaseFees pays the match initiator and protocol owner fees out of the
// treasury once the final epoch has cleared.
func (e *Engine) releaseFees(loan *Loan) {
	if loan.MatchMakerFee.Sign() > 0 {
		if !e.transferor.TransferOut(loan.MatchMaker, loan.MatchMakerFee) {
			panic("lending engine: treasury cannot cover the match initiator fee")
		}
	}
	if loan.ProtocolOwnerFee.Sign() > 0 {
		if !e.transferor.TransferOut(e.protocolOwner, loan.ProtocolOwnerFee) {
			panic("lending engine: treasury cannot cover the protocol fee")
		}
	}
}
