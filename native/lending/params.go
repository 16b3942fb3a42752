package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
)

// Params groups the protocol constants fixed at engine initialisation. All
// duration style values are denominated in days and must be positive multiples
// of EpochDays.
type Params struct {
	// EpochDays is the fixed repayment period unit.
	EpochDays uint64 `toml:"epoch_days"`
	// MinDepositAmount is the smallest capital deposit accepted.
	MinDepositAmount uint64 `toml:"min_deposit_amount"`
	// MinLockupDays bounds how short a lender's lock-up period may be.
	MinLockupDays uint64 `toml:"min_lockup_days"`
	// MinRiskLevel and MaxRiskLevel bound the 0-100 risk scale accepted from
	// lenders.
	MinRiskLevel uint64 `toml:"min_risk_level"`
	MaxRiskLevel uint64 `toml:"max_risk_level"`
	// MinLoanDurationDays and MaxLoanDurationDays bound borrower requests.
	MinLoanDurationDays uint64 `toml:"min_loan_duration_days"`
	MaxLoanDurationDays uint64 `toml:"max_loan_duration_days"`
	// MinLoanAmount and MaxLoanAmount bound the requested principal.
	MinLoanAmount uint64 `toml:"min_loan_amount"`
	MaxLoanAmount uint64 `toml:"max_loan_amount"`
	// MatchInitiatorFeeBps is the fee earned by whoever submits a successful
	// matching proposal, expressed in basis points of the principal.
	MatchInitiatorFeeBps uint64 `toml:"match_initiator_fee_bps"`
	// ProtocolFeeBps is the protocol owner's cut, expressed in basis points of
	// the principal.
	ProtocolFeeBps uint64 `toml:"protocol_fee_bps"`
}

// DefaultParams returns the protocol constants used when no override file is
// supplied. Amounts are denominated in whole stable units.
func DefaultParams() Params {
	return Params{
		EpochDays:            7,
		MinDepositAmount:     100,
		MinLockupDays:        7,
		MinRiskLevel:         0,
		MaxRiskLevel:         100,
		MinLoanDurationDays:  7,
		MaxLoanDurationDays:  420,
		MinLoanAmount:        100,
		MaxLoanAmount:        1_000_000_000,
		MatchInitiatorFeeBps: 50,
		ProtocolFeeBps:       25,
	}
}

// LoadParams reads a TOML params file from disk, applying defaults for any
// omitted key, and validates the result.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate reports whether the parameter set is internally consistent.
func (p Params) Validate() error {
	if p.EpochDays == 0 {
		return errors.New("lending params: epoch days must be positive")
	}
	if p.MinLockupDays%p.EpochDays != 0 {
		return errors.New("lending params: min lockup must be a multiple of the epoch")
	}
	if p.MinRiskLevel > p.MaxRiskLevel {
		return errors.New("lending params: min risk level above max risk level")
	}
	if p.MaxRiskLevel > 100 {
		return errors.New("lending params: max risk level above 100")
	}
	if p.MinLoanDurationDays > p.MaxLoanDurationDays {
		return errors.New("lending params: min loan duration above max loan duration")
	}
	if p.MinLoanDurationDays%p.EpochDays != 0 || p.MaxLoanDurationDays%p.EpochDays != 0 {
		return errors.New("lending params: loan duration bounds must be multiples of the epoch")
	}
	if p.MinLoanAmount > p.MaxLoanAmount {
		return errors.New("lending params: min loan amount above max loan amount")
	}
	feeBps := p.MatchInitiatorFeeBps + p.ProtocolFeeBps
	if feeBps == 0 {
		// A zero fee take would collapse the lender return estimate band.
		return errors.New("lending params: combined fee basis points must be positive")
	}
	if feeBps >= 10_000 {
		return errors.New("lending params: combined fee basis points must stay below 100%")
	}
	return nil
}

// MinDeposit returns the minimum deposit as a big integer.
func (p Params) MinDeposit() *big.Int {
	return new(big.Int).SetUint64(p.MinDepositAmount)
}
