package lending

import (
	"strconv"
	"strings"

	"uloan/core/types"
)

const (
	EventTypeCapitalProvided         = "lending.capital.provided"
	EventTypeCapitalProviderRecouped = "lending.capital.recouped"
	EventTypeLenderCapitalRecouped   = "lending.lender.recouped"
	EventTypeLoanRequested           = "lending.loan.requested"
	EventTypeLoanMatched             = "lending.loan.matched"
	EventTypeLoanWithdrawn           = "lending.loan.withdrawn"
	EventTypeLoanRepaymentMade       = "lending.loan.repayment_made"
	EventTypeLoanPaidBack            = "lending.loan.paid_back"
)

// NewCapitalProvidedEvent returns the canonical fact emitted when a deposit
// creates a capital provider.
func NewCapitalProvidedEvent(p *CapitalProvider) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: EventTypeCapitalProvided, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(p.ID, 10)
	attrs["lender"] = p.Lender
	attrs["amount"] = p.AmountProvided.String()
	attrs["minRiskLevel"] = strconv.FormatUint(p.MinRiskLevel, 10)
	attrs["maxRiskLevel"] = strconv.FormatUint(p.MaxRiskLevel, 10)
	attrs["lockUpPeriodDays"] = strconv.FormatUint(p.LockUpPeriodDays, 10)
	return &types.Event{Type: EventTypeCapitalProvided, Attributes: attrs}
}

// NewCapitalProviderRecoupedEvent returns the fact emitted when a single
// provider's available balance is recouped.
func NewCapitalProviderRecoupedEvent(id uint64, amount string) *types.Event {
	return &types.Event{Type: EventTypeCapitalProviderRecouped, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"amount": amount,
	}}
}

// NewLenderCapitalRecoupedEvent returns the fact emitted when a lender recoups
// every provider they own; ids lists all affected providers, including those
// that were already at zero.
func NewLenderCapitalRecoupedEvent(lender, total string, ids []uint64) *types.Event {
	return &types.Event{Type: EventTypeLenderCapitalRecouped, Attributes: map[string]string{
		"lender": lender,
		"total":  total,
		"ids":    formatIDs(ids),
	}}
}

// NewLoanRequestedEvent returns the fact emitted for a freshly requested loan.
func NewLoanRequestedEvent(l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLoanRequested, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(l.ID, 10)
	attrs["borrower"] = l.Borrower
	attrs["creditScore"] = strconv.FormatUint(l.CreditScore, 10)
	attrs["durationInDays"] = strconv.FormatUint(l.DurationInDays, 10)
	attrs["amountRequested"] = l.AmountRequested.String()
	attrs["amountToRepay"] = l.AmountToRepay.String()
	attrs["amountToRepayEveryEpoch"] = l.AmountToRepayEveryEpoch.String()
	attrs["matchMakerFee"] = l.MatchMakerFee.String()
	attrs["protocolOwnerFee"] = l.ProtocolOwnerFee.String()
	attrs["totalEpochsToPay"] = strconv.FormatUint(l.TotalEpochsToPay, 10)
	attrs["state"] = l.State.String()
	return &types.Event{Type: EventTypeLoanRequested, Attributes: attrs}
}

// NewLoanMatchedEvent returns the fact emitted when a matching proposal is
// committed. Proposals are encoded in commit order as "providerId:amount"
// pairs so the indexer can rebuild the lender rows.
func NewLoanMatchedEvent(l *Loan, caller string) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLoanMatched, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(l.ID, 10)
	attrs["matchMaker"] = caller
	attrs["state"] = l.State.String()
	pairs := make([]string, 0, len(l.Lenders))
	for _, lender := range l.Lenders {
		pairs = append(pairs, strconv.FormatUint(lender.CapitalProviderID, 10)+
			":"+lender.AmountContributed.String()+
			":"+lender.TotalAmountToGetBack.String())
	}
	attrs["lenders"] = strings.Join(pairs, ",")
	return &types.Event{Type: EventTypeLoanMatched, Attributes: attrs}
}

// NewLoanWithdrawnEvent returns the fact emitted when the borrower withdraws a
// funded loan's principal.
func NewLoanWithdrawnEvent(l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLoanWithdrawn, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(l.ID, 10)
	attrs["borrower"] = l.Borrower
	attrs["amount"] = l.AmountRequested.String()
	attrs["state"] = l.State.String()
	return &types.Event{Type: EventTypeLoanWithdrawn, Attributes: attrs}
}

// NewLoanRepaymentMadeEvent returns the per-epoch repayment progress fact. The
// lenders attribute mirrors the updated amountPaidBack per provider.
func NewLoanRepaymentMadeEvent(l *Loan, payment string) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLoanRepaymentMade, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(l.ID, 10)
	attrs["amount"] = payment
	attrs["epochsPaid"] = strconv.FormatUint(l.EpochsPaid, 10)
	attrs["totalEpochsToPay"] = strconv.FormatUint(l.TotalEpochsToPay, 10)
	attrs["state"] = l.State.String()
	pairs := make([]string, 0, len(l.Lenders))
	for _, lender := range l.Lenders {
		pairs = append(pairs, strconv.FormatUint(lender.CapitalProviderID, 10)+
			":"+lender.AmountPaidBack.String())
	}
	attrs["lenders"] = strings.Join(pairs, ",")
	return &types.Event{Type: EventTypeLoanRepaymentMade, Attributes: attrs}
}

// NewLoanPaidBackEvent returns the fact emitted once the final epoch clears
// and fees are released.
func NewLoanPaidBackEvent(l *Loan) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeLoanPaidBack, Attributes: attrs}
	}
	attrs["loanId"] = strconv.FormatUint(l.ID, 10)
	attrs["matchMaker"] = l.MatchMaker
	attrs["matchMakerFee"] = l.MatchMakerFee.String()
	attrs["protocolOwnerFee"] = l.ProtocolOwnerFee.String()
	attrs["state"] = l.State.String()
	return &types.Event{Type: EventTypeLoanPaidBack, Attributes: attrs}
}

func formatIDs(ids []uint64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}
