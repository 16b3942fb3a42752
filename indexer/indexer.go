// Package indexer maintains the queryable read model of the marketplace. It
// consumes the engine's event stream and upserts denormalised rows, so replays
// and duplicate deliveries must never corrupt the projection.
package indexer

import (
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"uloan/core/events"
	"uloan/core/types"
	"uloan/native/lending"
	"uloan/observability"
)

// Indexer projects engine events into relational read-model tables.
type Indexer struct {
	db  *gorm.DB
	log *slog.Logger
}

// New migrates the read-model schema and returns an indexer bound to the
// database.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database handle required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&CapitalProviderRecord{}, &LoanRecord{}, &LoanLenderRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate schema: %w", err)
	}
	return &Indexer{db: db, log: log}, nil
}

// HandleEvent implements events.Subscriber. Apply failures are logged and
// counted rather than propagated, because the engine's commit has already
// happened by the time the event reaches us.
func (ix *Indexer) HandleEvent(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	start := time.Now()
	err := ix.Apply(payload)
	observability.Indexer().RecordApply(payload.Type, time.Since(start), err)
	if err != nil {
		ix.log.Error("apply event", "type", payload.Type, "err", err)
	}
}

// Apply projects a single event into the read model. Applying the same event
// twice leaves the tables unchanged.
func (ix *Indexer) Apply(evt *types.Event) error {
	if evt == nil {
		return nil
	}
	switch evt.Type {
	case lending.EventTypeCapitalProvided:
		return ix.applyCapitalProvided(evt.Attributes)
	case lending.EventTypeCapitalProviderRecouped:
		return ix.applyProviderRecouped(evt.Attributes)
	case lending.EventTypeLenderCapitalRecouped:
		return ix.applyLenderRecouped(evt.Attributes)
	case lending.EventTypeLoanRequested:
		return ix.applyLoanRequested(evt.Attributes)
	case lending.EventTypeLoanMatched:
		return ix.applyLoanMatched(evt.Attributes)
	case lending.EventTypeLoanWithdrawn:
		return ix.applyLoanState(evt.Attributes)
	case lending.EventTypeLoanRepaymentMade:
		return ix.applyRepaymentMade(evt.Attributes)
	case lending.EventTypeLoanPaidBack:
		return ix.applyLoanState(evt.Attributes)
	}
	return nil
}

func (ix *Indexer) applyCapitalProvided(attrs map[string]string) error {
	id, err := attrUint(attrs, "id")
	if err != nil {
		return err
	}
	minRisk, err := attrUint(attrs, "minRiskLevel")
	if err != nil {
		return err
	}
	maxRisk, err := attrUint(attrs, "maxRiskLevel")
	if err != nil {
		return err
	}
	lockup, err := attrUint(attrs, "lockUpPeriodDays")
	if err != nil {
		return err
	}
	record := CapitalProviderRecord{
		ID:               id,
		Lender:           attrs["lender"],
		MinRiskLevel:     minRisk,
		MaxRiskLevel:     maxRisk,
		LockUpPeriodDays: lockup,
		AmountProvided:   attrs["amount"],
		AmountAvailable:  attrs["amount"],
	}
	return ix.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

func (ix *Indexer) applyProviderRecouped(attrs map[string]string) error {
	id, err := attrUint(attrs, "id")
	if err != nil {
		return err
	}
	return ix.db.Model(&CapitalProviderRecord{}).
		Where("id = ?", id).
		Update("amount_available", "0").Error
}

func (ix *Indexer) applyLenderRecouped(attrs map[string]string) error {
	raw := strings.TrimSpace(attrs["ids"])
	if raw == "" {
		return nil
	}
	ids := make([]uint64, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return fmt.Errorf("indexer: parse provider id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ix.db.Model(&CapitalProviderRecord{}).
		Where("id IN ?", ids).
		Update("amount_available", "0").Error
}

func (ix *Indexer) applyLoanRequested(attrs map[string]string) error {
	id, err := attrUint(attrs, "id")
	if err != nil {
		return err
	}
	score, err := attrUint(attrs, "creditScore")
	if err != nil {
		return err
	}
	duration, err := attrUint(attrs, "durationInDays")
	if err != nil {
		return err
	}
	epochs, err := attrUint(attrs, "totalEpochsToPay")
	if err != nil {
		return err
	}
	record := LoanRecord{
		ID:                      id,
		Borrower:                attrs["borrower"],
		CreditScore:             score,
		DurationInDays:          duration,
		AmountRequested:         attrs["amountRequested"],
		AmountToRepay:           attrs["amountToRepay"],
		AmountToRepayEveryEpoch: attrs["amountToRepayEveryEpoch"],
		MatchMakerFee:           attrs["matchMakerFee"],
		ProtocolOwnerFee:        attrs["protocolOwnerFee"],
		TotalEpochsToPay:        epochs,
		State:                   attrs["state"],
	}
	return ix.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

// applyLoanMatched creates the lender rows and debits the contributing
// providers inside one transaction. An existing lender row for the loan means
// the event was already applied and the whole transaction is a no-op, which is
// what keeps the provider debit replay-safe.
func (ix *Indexer) applyLoanMatched(attrs map[string]string) error {
	loanID, err := attrUint(attrs, "loanId")
	if err != nil {
		return err
	}
	rows, err := parseLenderRows(attrs["lenders"])
	if err != nil {
		return err
	}
	return ix.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&LoanLenderRecord{}).Where("loan_id = ?", loanID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		for i, row := range rows {
			record := LoanLenderRecord{
				LoanID:               loanID,
				CapitalProviderID:    row.providerID,
				Position:             i,
				AmountContributed:    row.contributed,
				TotalAmountToGetBack: row.totalToGetBack,
				AmountPaidBack:       "0",
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			if err := debitProvider(tx, row.providerID, row.contributed); err != nil {
				return err
			}
		}
		return tx.Model(&LoanRecord{}).Where("id = ?", loanID).Updates(map[string]any{
			"state":       attrs["state"],
			"match_maker": attrs["matchMaker"],
		}).Error
	})
}

func (ix *Indexer) applyLoanState(attrs map[string]string) error {
	loanID, err := attrUint(attrs, "loanId")
	if err != nil {
		return err
	}
	return ix.db.Model(&LoanRecord{}).
		Where("id = ?", loanID).
		Update("state", attrs["state"]).Error
}

// applyRepaymentMade carries absolute paid-back totals, so rows are simply
// overwritten; an epochsPaid at or below the stored value means a replay.
func (ix *Indexer) applyRepaymentMade(attrs map[string]string) error {
	loanID, err := attrUint(attrs, "loanId")
	if err != nil {
		return err
	}
	epochsPaid, err := attrUint(attrs, "epochsPaid")
	if err != nil {
		return err
	}
	rows, err := parsePaidBackRows(attrs["lenders"])
	if err != nil {
		return err
	}
	return ix.db.Transaction(func(tx *gorm.DB) error {
		var loan LoanRecord
		if err := tx.First(&loan, "id = ?", loanID).Error; err != nil {
			return err
		}
		if loan.EpochsPaid >= epochsPaid {
			return nil
		}
		if err := tx.Model(&LoanRecord{}).Where("id = ?", loanID).Updates(map[string]any{
			"epochs_paid": epochsPaid,
			"state":       attrs["state"],
		}).Error; err != nil {
			return err
		}
		for i, row := range rows {
			if err := tx.Model(&LoanLenderRecord{}).
				Where("loan_id = ? AND position = ?", loanID, i).
				Update("amount_paid_back", row.paidBack).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func debitProvider(tx *gorm.DB, id uint64, amount string) error {
	var provider CapitalProviderRecord
	if err := tx.First(&provider, "id = ?", id).Error; err != nil {
		return err
	}
	available, ok := new(big.Int).SetString(provider.AmountAvailable, 10)
	if !ok {
		return fmt.Errorf("indexer: provider %d has malformed balance %q", id, provider.AmountAvailable)
	}
	debit, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("indexer: malformed contribution %q for provider %d", amount, id)
	}
	return tx.Model(&CapitalProviderRecord{}).
		Where("id = ?", id).
		Update("amount_available", new(big.Int).Sub(available, debit).String()).Error
}

type lenderRow struct {
	providerID     uint64
	contributed    string
	totalToGetBack string
}

type paidBackRow struct {
	providerID uint64
	paidBack   string
}

func parseLenderRows(raw string) ([]lenderRow, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	rows := make([]lenderRow, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("indexer: malformed lender entry %q", part)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer: parse provider id %q: %w", fields[0], err)
		}
		rows = append(rows, lenderRow{providerID: id, contributed: fields[1], totalToGetBack: fields[2]})
	}
	return rows, nil
}

func parsePaidBackRows(raw string) ([]paidBackRow, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	rows := make([]paidBackRow, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("indexer: malformed repayment entry %q", part)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer: parse provider id %q: %w", fields[0], err)
		}
		rows = append(rows, paidBackRow{providerID: id, paidBack: fields[1]})
	}
	return rows, nil
}

func attrUint(attrs map[string]string, key string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(attrs[key]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("indexer: parse %s %q: %w", key, attrs[key], err)
	}
	return value, nil
}
