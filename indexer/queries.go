package indexer

import (
	"errors"

	"gorm.io/gorm"
)

// Provider returns the read-model row for a capital provider.
func (ix *Indexer) Provider(id uint64) (*CapitalProviderRecord, error) {
	var record CapitalProviderRecord
	if err := ix.db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ProvidersByLender returns every provider row owned by the lender, oldest
// first.
func (ix *Indexer) ProvidersByLender(lender string) ([]CapitalProviderRecord, error) {
	var records []CapitalProviderRecord
	err := ix.db.Where("lender = ?", lender).Order("id ASC").Find(&records).Error
	return records, err
}

// Loan returns the read-model row for a loan.
func (ix *Indexer) Loan(id uint64) (*LoanRecord, error) {
	var record LoanRecord
	if err := ix.db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// LoansByBorrower returns every loan requested by the borrower, oldest first.
func (ix *Indexer) LoansByBorrower(borrower string) ([]LoanRecord, error) {
	var records []LoanRecord
	err := ix.db.Where("borrower = ?", borrower).Order("id ASC").Find(&records).Error
	return records, err
}

// LoansByState returns every loan currently in the given lifecycle state.
func (ix *Indexer) LoansByState(state string) ([]LoanRecord, error) {
	var records []LoanRecord
	err := ix.db.Where("state = ?", state).Order("id ASC").Find(&records).Error
	return records, err
}

// LoanLenders returns the lender rows of a loan in allocation order.
func (ix *Indexer) LoanLenders(loanID uint64) ([]LoanLenderRecord, error) {
	var records []LoanLenderRecord
	err := ix.db.Where("loan_id = ?", loanID).Order("position ASC").Find(&records).Error
	return records, err
}

// IsNotFound reports whether the error is gorm's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
