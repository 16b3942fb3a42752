package indexer

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"uloan/core/types"
	"uloan/native/lending"
)

func setupIndexer(t *testing.T) *Indexer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	ix, err := New(db, slog.Default())
	require.NoError(t, err)
	return ix
}

func capitalProvidedEvent(id uint64, lender, amount string) *types.Event {
	return &types.Event{Type: lending.EventTypeCapitalProvided, Attributes: map[string]string{
		"id":               fmt.Sprintf("%d", id),
		"lender":           lender,
		"amount":           amount,
		"minRiskLevel":     "10",
		"maxRiskLevel":     "60",
		"lockUpPeriodDays": "28",
	}}
}

func loanRequestedEvent(id uint64, borrower string) *types.Event {
	return &types.Event{Type: lending.EventTypeLoanRequested, Attributes: map[string]string{
		"id":                      fmt.Sprintf("%d", id),
		"borrower":                borrower,
		"creditScore":             "50",
		"durationInDays":          "28",
		"amountRequested":         "2000",
		"amountToRepay":           "2161",
		"amountToRepayEveryEpoch": "500",
		"matchMakerFee":           "10",
		"protocolOwnerFee":        "5",
		"totalEpochsToPay":        "4",
		"state":                   "Requested",
	}}
}

func loanMatchedEvent(id uint64) *types.Event {
	return &types.Event{Type: lending.EventTypeLoanMatched, Attributes: map[string]string{
		"loanId":     fmt.Sprintf("%d", id),
		"matchMaker": "matcher",
		"state":      "Funded",
		"lenders":    "1:1000:1073,2:1000:1073",
	}}
}

func TestApplyCapitalProvided(t *testing.T) {
	ix := setupIndexer(t)
	require.NoError(t, ix.Apply(capitalProvidedEvent(1, "lender-1", "1000")))

	record, err := ix.Provider(1)
	require.NoError(t, err)
	require.Equal(t, "lender-1", record.Lender)
	require.Equal(t, "1000", record.AmountAvailable)
}

func TestApplyIsIdempotent(t *testing.T) {
	ix := setupIndexer(t)

	events := []*types.Event{
		capitalProvidedEvent(1, "lender-1", "1000"),
		capitalProvidedEvent(2, "lender-2", "1000"),
		loanRequestedEvent(1, "borrower-1"),
		loanMatchedEvent(1),
	}
	// Every event is delivered twice; the projection must match a single
	// delivery.
	for _, evt := range events {
		require.NoError(t, ix.Apply(evt), evt.Type)
		require.NoError(t, ix.Apply(evt), evt.Type)
	}

	for _, id := range []uint64{1, 2} {
		record, err := ix.Provider(id)
		require.NoError(t, err)
		require.Equal(t, "0", record.AmountAvailable, "provider %d must be debited exactly once", id)
	}

	lenders, err := ix.LoanLenders(1)
	require.NoError(t, err)
	require.Len(t, lenders, 2)

	loan, err := ix.Loan(1)
	require.NoError(t, err)
	require.Equal(t, "Funded", loan.State)
	require.Equal(t, "matcher", loan.MatchMaker)
}

func TestApplyRepaymentProgress(t *testing.T) {
	ix := setupIndexer(t)
	for _, evt := range []*types.Event{
		capitalProvidedEvent(1, "lender-1", "1000"),
		capitalProvidedEvent(2, "lender-2", "1000"),
		loanRequestedEvent(1, "borrower-1"),
		loanMatchedEvent(1),
	} {
		require.NoError(t, ix.Apply(evt), evt.Type)
	}

	repayment := &types.Event{Type: lending.EventTypeLoanRepaymentMade, Attributes: map[string]string{
		"loanId":           "1",
		"amount":           "500",
		"epochsPaid":       "1",
		"totalEpochsToPay": "4",
		"state":            "BeingPaidBack",
		"lenders":          "1:250,2:250",
	}}
	require.NoError(t, ix.Apply(repayment))
	// Replays of an already-counted epoch change nothing.
	require.NoError(t, ix.Apply(repayment))

	loan, err := ix.Loan(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), loan.EpochsPaid)
	require.Equal(t, "BeingPaidBack", loan.State)

	lenders, err := ix.LoanLenders(1)
	require.NoError(t, err)
	for _, row := range lenders {
		require.Equal(t, "250", row.AmountPaidBack, "lender %d", row.CapitalProviderID)
	}

	closed := &types.Event{Type: lending.EventTypeLoanPaidBack, Attributes: map[string]string{
		"loanId":           "1",
		"matchMaker":       "matcher",
		"matchMakerFee":    "10",
		"protocolOwnerFee": "5",
		"state":            "Closed",
	}}
	require.NoError(t, ix.Apply(closed))
	loan, err = ix.Loan(1)
	require.NoError(t, err)
	require.Equal(t, "Closed", loan.State)
}

func TestApplyRecoupEvents(t *testing.T) {
	ix := setupIndexer(t)
	for id, lender := range map[uint64]string{1: "lender-1", 2: "lender-1", 3: "lender-2"} {
		require.NoError(t, ix.Apply(capitalProvidedEvent(id, lender, "500")))
	}

	single := &types.Event{Type: lending.EventTypeCapitalProviderRecouped, Attributes: map[string]string{
		"id": "3", "amount": "500",
	}}
	require.NoError(t, ix.Apply(single))
	record, err := ix.Provider(3)
	require.NoError(t, err)
	require.Equal(t, "0", record.AmountAvailable)

	all := &types.Event{Type: lending.EventTypeLenderCapitalRecouped, Attributes: map[string]string{
		"lender": "lender-1", "total": "1000", "ids": "1,2",
	}}
	require.NoError(t, ix.Apply(all))
	records, err := ix.ProvidersByLender("lender-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, "0", record.AmountAvailable, "provider %d", record.ID)
	}
}

func TestLoansByBorrowerAndState(t *testing.T) {
	ix := setupIndexer(t)
	require.NoError(t, ix.Apply(loanRequestedEvent(1, "borrower-1")))
	require.NoError(t, ix.Apply(loanRequestedEvent(2, "borrower-1")))
	require.NoError(t, ix.Apply(loanRequestedEvent(3, "borrower-2")))

	loans, err := ix.LoansByBorrower("borrower-1")
	require.NoError(t, err)
	require.Len(t, loans, 2)

	requested, err := ix.LoansByState("Requested")
	require.NoError(t, err)
	require.Len(t, requested, 3)
}
