package indexer

import "time"

// CapitalProviderRecord is the read-model row for one capital deposit.
// Monetary columns are decimal strings so arbitrary-precision amounts survive
// the round trip through the database.
type CapitalProviderRecord struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement:false"`
	Lender           string `gorm:"size:128;index"`
	MinRiskLevel     uint64
	MaxRiskLevel     uint64
	LockUpPeriodDays uint64
	AmountProvided   string `gorm:"size:80"`
	AmountAvailable  string `gorm:"size:80"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LoanRecord is the read-model row for one loan across its lifecycle.
type LoanRecord struct {
	ID                      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Borrower                string `gorm:"size:128;index"`
	CreditScore             uint64
	DurationInDays          uint64
	AmountRequested         string `gorm:"size:80"`
	AmountToRepay           string `gorm:"size:80"`
	AmountToRepayEveryEpoch string `gorm:"size:80"`
	MatchMakerFee           string `gorm:"size:80"`
	ProtocolOwnerFee        string `gorm:"size:80"`
	TotalEpochsToPay        uint64
	EpochsPaid              uint64
	State                   string `gorm:"size:32;index"`
	MatchMaker              string `gorm:"size:128"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// LoanLenderRecord links a funded loan to one contributing capital provider.
// Rows are keyed by allocation position because a provider may back the same
// loan through more than one proposal entry.
type LoanLenderRecord struct {
	LoanID               uint64 `gorm:"primaryKey;autoIncrement:false"`
	Position             int    `gorm:"primaryKey;autoIncrement:false"`
	CapitalProviderID    uint64 `gorm:"index"`
	AmountContributed    string `gorm:"size:80"`
	TotalAmountToGetBack string `gorm:"size:80"`
	AmountPaidBack       string `gorm:"size:80"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
