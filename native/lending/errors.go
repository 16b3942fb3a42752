package lending

import "errors"

var (
	errNilState          = errors.New("lending engine: state not configured")
	errNilTransferor     = errors.New("lending engine: transferor not configured")
	errNilOracle         = errors.New("lending engine: credit oracle not configured")
	errInvalidRiskMirror = errors.New("lending engine: value outside the 0-100 scale")
)

// Capital term validation failures shared by the lender return estimate and
// DepositCapital.
var (
	ErrInvalidRange          = errors.New("lending engine: max risk level below min risk level")
	ErrRiskOutOfBounds       = errors.New("lending engine: risk level outside protocol bounds")
	ErrLockupTooShort        = errors.New("lending engine: lock-up period below protocol minimum")
	ErrLockupNotEpochAligned = errors.New("lending engine: lock-up period not a multiple of the epoch")
	ErrAmountTooSmall        = errors.New("lending engine: amount below protocol minimum")
)

// Capital ledger failures.
var (
	ErrTransferFailed = errors.New("lending engine: external value transfer failed")
	ErrNoCapitalFound = errors.New("lending engine: no provided capital attached to this address")
	ErrNotFound       = errors.New("lending engine: capital provider not found")
	ErrNotOwner       = errors.New("lending engine: caller does not own this capital provider")
)

// Loan ledger failures.
var (
	ErrDurationTooShort        = errors.New("lending engine: loan duration below protocol minimum")
	ErrDurationTooLong         = errors.New("lending engine: loan duration above protocol maximum")
	ErrDurationNotEpochAligned = errors.New("lending engine: loan duration not a multiple of the epoch")
	ErrAmountTooLarge          = errors.New("lending engine: amount above protocol maximum")
	ErrNoCreditScore           = errors.New("lending engine: no credit score recorded for borrower")
	ErrInvalidCreditScore      = errors.New("lending engine: oracle reported a credit score outside the 0-100 scale")
	ErrNotBorrower             = errors.New("lending engine: caller is not the loan borrower")
	ErrNotFunded               = errors.New("lending engine: loan is not in the funded state")
)

// Matching failures, surfaced in validation order.
var (
	ErrLoanNotFound            = errors.New("lending engine: loan not found")
	ErrLoanNotMatchable        = errors.New("lending engine: loan is not in the requested state")
	ErrEmptyProposal           = errors.New("lending engine: matching proposal is empty")
	ErrInvalidProposalAmount   = errors.New("lending engine: proposal amounts must be positive")
	ErrAmountMismatch          = errors.New("lending engine: proposal amounts do not sum to the requested amount")
	ErrCapitalProviderNotFound = errors.New("lending engine: proposed capital provider not found")
	ErrInsufficientCapital     = errors.New("lending engine: proposed capital provider lacks available funds")
	ErrRiskTooLowForLender     = errors.New("lending engine: loan risk below the provider's minimum risk level")
	ErrRiskTooHighForLender    = errors.New("lending engine: loan risk above the provider's maximum risk level")
	ErrLockupTooShortForLoan   = errors.New("lending engine: loan duration exceeds the provider's lock-up period")
)

// Repayment failures.
var (
	ErrLoanNotRepayable = errors.New("lending engine: loan is not accepting repayments")
	ErrLoanClosed       = errors.New("lending engine: loan is closed")
)
