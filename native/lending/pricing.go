package lending

import "math/big"

// Rate curve constants, expressed in basis points. The borrower rate is the
// protocol base plus a duration premium per epoch plus a risk premium per risk
// level point.
const (
	baseRateBps            = 300
	durationPremiumBps     = 2
	riskPremiumBpsPerLevel = 10
)

const bpsDenominator = 10_000

// riskScaleMax is the shared ceiling of the credit score and risk level
// scales; the two are mirror images of each other around 50.
const riskScaleMax = 100

// CreditScoreToRiskLevel maps a 0-100 credit score onto the 0-100 risk scale.
// The mapping is its own inverse: a high score means a low risk level.
func CreditScoreToRiskLevel(score uint64) uint64 {
	if score > riskScaleMax {
		panic(errInvalidRiskMirror)
	}
	return riskScaleMax - score
}

// RiskLevelToCreditScore maps a 0-100 risk level back onto the credit score
// scale. It is the inverse of CreditScoreToRiskLevel.
func RiskLevelToCreditScore(level uint64) uint64 {
	if level > riskScaleMax {
		panic(errInvalidRiskMirror)
	}
	return riskScaleMax - level
}

// BorrowerInterestRateBps computes the borrower's interest rate in basis
// points for a loan of the given duration. The rate decreases with a better
// credit score and increases with duration.
func BorrowerInterestRateBps(creditScore, durationInEpochs uint64) uint64 {
	return baseRateBps +
		durationPremiumBps*durationInEpochs +
		riskPremiumBpsPerLevel*CreditScoreToRiskLevel(creditScore)
}

// LenderReturnEstimateBps estimates the yearly-equivalent return band, in
// basis points, a lender can expect from capital deposited under the given
// constraints. The lower bound assumes the safest borrowers in the band net of
// both protocol fee takes; the upper bound assumes the riskiest borrowers at
// the gross rate, which a lender matching their own capital can approach.
// Validation failures here are exactly the ones gating DepositCapital.
func LenderReturnEstimateBps(p Params, amount *big.Int, minRisk, maxRisk, lockupDays uint64) (uint64, uint64, error) {
	if err := validateCapitalTerms(p, amount, minRisk, maxRisk, lockupDays); err != nil {
		return 0, 0, err
	}
	lockupEpochs := lockupDays / p.EpochDays
	minRate := BorrowerInterestRateBps(RiskLevelToCreditScore(minRisk), lockupEpochs)
	feeTake := p.MatchInitiatorFeeBps + p.ProtocolFeeBps
	if minRate > feeTake {
		minRate -= feeTake
	} else {
		minRate = 0
	}
	maxRate := BorrowerInterestRateBps(RiskLevelToCreditScore(maxRisk), lockupEpochs)
	return minRate, maxRate, nil
}

// validateCapitalTerms runs the shared deposit/estimate validation. The order
// matters: callers rely on the first failing check winning.
func validateCapitalTerms(p Params, amount *big.Int, minRisk, maxRisk, lockupDays uint64) error {
	if maxRisk < minRisk {
		return ErrInvalidRange
	}
	if minRisk < p.MinRiskLevel || maxRisk > p.MaxRiskLevel {
		return ErrRiskOutOfBounds
	}
	if lockupDays < p.MinLockupDays {
		return ErrLockupTooShort
	}
	if lockupDays%p.EpochDays != 0 {
		return ErrLockupNotEpochAligned
	}
	if amount == nil || amount.Cmp(p.MinDeposit()) < 0 {
		return ErrAmountTooSmall
	}
	return nil
}

// validateLoanTerms runs the bound checks shared by RequestLoan and the
// borrower rate estimate, so callers can dry-run pricing before committing.
func validateLoanTerms(p Params, amount *big.Int, durationInDays uint64) error {
	if durationInDays < p.MinLoanDurationDays {
		return ErrDurationTooShort
	}
	if durationInDays > p.MaxLoanDurationDays {
		return ErrDurationTooLong
	}
	if durationInDays%p.EpochDays != 0 {
		return ErrDurationNotEpochAligned
	}
	if amount == nil || amount.Cmp(new(big.Int).SetUint64(p.MinLoanAmount)) < 0 {
		return ErrAmountTooSmall
	}
	if amount.Cmp(new(big.Int).SetUint64(p.MaxLoanAmount)) > 0 {
		return ErrAmountTooLarge
	}
	return nil
}

// BorrowerRateForTerms validates the loan bounds and returns the borrower
// interest rate for the given terms.
func BorrowerRateForTerms(p Params, creditScore uint64, amount *big.Int, durationInDays uint64) (uint64, error) {
	if err := validateLoanTerms(p, amount, durationInDays); err != nil {
		return 0, err
	}
	return BorrowerInterestRateBps(creditScore, durationInDays/p.EpochDays), nil
}

// bpsShare computes floor(amount * bps / 10_000).
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, big.NewInt(bpsDenominator))
}
