package rpc

import (
	"errors"
	"net/http"

	"uloan/native/lending"
)

// statusForError maps engine sentinel errors to HTTP status codes. Unknown
// errors surface as 500 so operational failures are never mistaken for caller
// mistakes.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lending.ErrNotFound),
		errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrCapitalProviderNotFound),
		errors.Is(err, lending.ErrNoCapitalFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrNotOwner),
		errors.Is(err, lending.ErrNotBorrower):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrTransferFailed),
		errors.Is(err, lending.ErrNotFunded),
		errors.Is(err, lending.ErrLoanNotMatchable),
		errors.Is(err, lending.ErrLoanNotRepayable),
		errors.Is(err, lending.ErrLoanClosed),
		errors.Is(err, lending.ErrInsufficientCapital):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInvalidRange),
		errors.Is(err, lending.ErrRiskOutOfBounds),
		errors.Is(err, lending.ErrLockupTooShort),
		errors.Is(err, lending.ErrLockupNotEpochAligned),
		errors.Is(err, lending.ErrAmountTooSmall),
		errors.Is(err, lending.ErrAmountTooLarge),
		errors.Is(err, lending.ErrDurationTooShort),
		errors.Is(err, lending.ErrDurationTooLong),
		errors.Is(err, lending.ErrDurationNotEpochAligned),
		errors.Is(err, lending.ErrNoCreditScore),
		errors.Is(err, lending.ErrEmptyProposal),
		errors.Is(err, lending.ErrInvalidProposalAmount),
		errors.Is(err, lending.ErrAmountMismatch),
		errors.Is(err, lending.ErrRiskTooLowForLender),
		errors.Is(err, lending.ErrRiskTooHighForLender),
		errors.Is(err, lending.ErrLockupTooShortForLoan):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInvalidCreditScore):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
		message := "internal error"
		if status == http.StatusBadGateway {
			message = "upstream collaborator fault"
		}
		writeError(w, status, message)
		return
	}
	writeError(w, status, err.Error())
}
