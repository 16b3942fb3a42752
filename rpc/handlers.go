package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"uloan/indexer"
	"uloan/native/lending"
)

type providerPayload struct {
	ID               uint64   `json:"id"`
	Lender           string   `json:"lender"`
	MinRiskLevel     uint64   `json:"minRiskLevel"`
	MaxRiskLevel     uint64   `json:"maxRiskLevel"`
	LockUpPeriodDays uint64   `json:"lockUpPeriodDays"`
	AmountProvided   string   `json:"amountProvided"`
	AmountAvailable  string   `json:"amountAvailable"`
	FundedLoanIDs    []uint64 `json:"fundedLoanIds"`
}

type loanLenderPayload struct {
	CapitalProviderID    uint64 `json:"capitalProviderId"`
	AmountContributed    string `json:"amountContributed"`
	TotalAmountToGetBack string `json:"totalAmountToGetBack"`
	AmountPaidBack       string `json:"amountPaidBack"`
}

type loanPayload struct {
	ID                      uint64              `json:"id"`
	Borrower                string              `json:"borrower"`
	CreditScore             uint64              `json:"creditScore"`
	RiskLevel               uint64              `json:"riskLevel"`
	DurationInDays          uint64              `json:"durationInDays"`
	AmountRequested         string              `json:"amountRequested"`
	AmountToRepay           string              `json:"amountToRepay"`
	AmountToRepayEveryEpoch string              `json:"amountToRepayEveryEpoch"`
	MatchMakerFee           string              `json:"matchMakerFee"`
	ProtocolOwnerFee        string              `json:"protocolOwnerFee"`
	TotalEpochsToPay        uint64              `json:"totalEpochsToPay"`
	EpochsPaid              uint64              `json:"epochsPaid"`
	State                   string              `json:"state"`
	MatchMaker              string              `json:"matchMaker,omitempty"`
	Lenders                 []loanLenderPayload `json:"lenders,omitempty"`
}

func providerToPayload(p *lending.CapitalProvider) providerPayload {
	return providerPayload{
		ID:               p.ID,
		Lender:           p.Lender,
		MinRiskLevel:     p.MinRiskLevel,
		MaxRiskLevel:     p.MaxRiskLevel,
		LockUpPeriodDays: p.LockUpPeriodDays,
		AmountProvided:   p.AmountProvided.String(),
		AmountAvailable:  p.AmountAvailable.String(),
		FundedLoanIDs:    p.FundedLoanIDs,
	}
}

func loanToPayload(l *lending.Loan) loanPayload {
	payload := loanPayload{
		ID:                      l.ID,
		Borrower:                l.Borrower,
		CreditScore:             l.CreditScore,
		RiskLevel:               l.RiskLevel(),
		DurationInDays:          l.DurationInDays,
		AmountRequested:         l.AmountRequested.String(),
		AmountToRepay:           l.AmountToRepay.String(),
		AmountToRepayEveryEpoch: l.AmountToRepayEveryEpoch.String(),
		MatchMakerFee:           l.MatchMakerFee.String(),
		ProtocolOwnerFee:        l.ProtocolOwnerFee.String(),
		TotalEpochsToPay:        l.TotalEpochsToPay,
		EpochsPaid:              l.EpochsPaid,
		State:                   l.State.String(),
		MatchMaker:              l.MatchMaker,
	}
	for _, row := range l.Lenders {
		payload.Lenders = append(payload.Lenders, loanLenderPayload{
			CapitalProviderID:    row.CapitalProviderID,
			AmountContributed:    row.AmountContributed.String(),
			TotalAmountToGetBack: row.TotalAmountToGetBack.String(),
			AmountPaidBack:       row.AmountPaidBack.String(),
		})
	}
	return payload
}

func decode(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return amount, nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed id %q", raw)
	}
	return id, nil
}

func (s *Server) depositCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lender           string `json:"lender"`
		Amount           string `json:"amount"`
		MinRiskLevel     uint64 `json:"minRiskLevel"`
		MaxRiskLevel     uint64 `json:"maxRiskLevel"`
		LockUpPeriodDays uint64 `json:"lockUpPeriodDays"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := s.engine.DepositCapital(req.Lender, amount, req.MinRiskLevel, req.MaxRiskLevel, req.LockUpPeriodDays)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, providerToPayload(provider))
}

func (s *Server) recoupAllCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lender string `json:"lender"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, err := s.engine.RecoupAllCapital(req.Lender)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

func (s *Server) recoupCapitalProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.engine.RecoupCapitalProvider(id, req.Caller)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) getCapitalProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := s.engine.CapitalProvider(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providerToPayload(provider))
}

func (s *Server) getLenderCapital(w http.ResponseWriter, r *http.Request) {
	lender := chi.URLParam(r, "address")
	ids, err := s.engine.LenderProviderIDs(lender)
	if err != nil {
		s.respondError(w, err)
		return
	}
	providers := make([]providerPayload, 0, len(ids))
	for _, id := range ids {
		provider, err := s.engine.CapitalProvider(id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		providers = append(providers, providerToPayload(provider))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) requestLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Borrower       string `json:"borrower"`
		Amount         string `json:"amount"`
		DurationInDays uint64 `json:"durationInDays"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := s.engine.RequestLoan(req.Borrower, amount, req.DurationInDays)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanToPayload(loan))
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (s *Server) getLoanLenders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.engine.LoanLenders(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	payload := make([]loanLenderPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, loanLenderPayload{
			CapitalProviderID:    row.CapitalProviderID,
			AmountContributed:    row.AmountContributed.String(),
			TotalAmountToGetBack: row.TotalAmountToGetBack.String(),
			AmountPaidBack:       row.AmountPaidBack.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"lenders": payload})
}

func (s *Server) matchLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		Proposals []struct {
			CapitalProviderID uint64 `json:"capitalProviderId"`
			Amount            string `json:"amount"`
		} `json:"proposals"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proposals := make([]lending.CapitalProposal, 0, len(req.Proposals))
	for _, proposal := range req.Proposals {
		amount, err := parseAmount(proposal.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		proposals = append(proposals, lending.CapitalProposal{
			CapitalProviderID: proposal.CapitalProviderID,
			Amount:            amount,
		})
	}
	if err := s.engine.MatchLoanWithCapital(proposals, id, req.Caller); err != nil {
		s.respondError(w, err)
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (s *Server) withdrawLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.WithdrawLoanFunds(id, req.Caller); err != nil {
		s.respondError(w, err)
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (s *Server) repayLoanEpoch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.PayLoanEpoch(id); err != nil {
		s.respondError(w, err)
		return
	}
	loan, err := s.engine.Loan(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(loan))
}

func (s *Server) estimateLenderReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount           string `json:"amount"`
		MinRiskLevel     uint64 `json:"minRiskLevel"`
		MaxRiskLevel     uint64 `json:"maxRiskLevel"`
		LockUpPeriodDays uint64 `json:"lockUpPeriodDays"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minBps, maxBps, err := s.engine.EstimateLenderReturn(amount, req.MinRiskLevel, req.MaxRiskLevel, req.LockUpPeriodDays)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"minReturnBps": minBps, "maxReturnBps": maxBps})
}

func (s *Server) estimateLoanRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Borrower       string `json:"borrower"`
		Amount         string `json:"amount"`
		DurationInDays uint64 `json:"durationInDays"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rateBps, err := s.engine.EstimateLoanRate(req.Borrower, amount, req.DurationInDays)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"interestRateBps": rateBps})
}

// getBorrowerLoans serves from the indexed read model; a deployment without an
// indexer does not expose borrower history.
func (s *Server) getBorrowerLoans(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "read model not configured")
		return
	}
	borrower := chi.URLParam(r, "address")
	records, err := s.index.LoansByBorrower(borrower)
	if err != nil && !indexer.IsNotFound(err) {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": records})
}
