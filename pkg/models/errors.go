package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoHistory     = fmt.Errorf("%w: no transaction history", ErrNotFound)
	ErrInvalidTerms  = errors.New("invalid amortization terms")
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrValidation    = errors.New("validation failed")
)

// DataIntegrityError reports a stored balance that disagrees with the replayed ledger.
type DataIntegrityError struct {
	LoanID        uuid.UUID
	TransactionID int64 // Zero when the mismatch is on the loan row itself
	Expected      decimal.Decimal
	Stored        decimal.Decimal
	Reason        string
}

func (e *DataIntegrityError) Error() string {
	if e.TransactionID == 0 {
		return fmt.Sprintf("%v: loan %s: %s (expected %s, stored %s)",
			ErrDataIntegrity, e.LoanID, e.Reason, e.Expected.StringFixed(2), e.Stored.StringFixed(2))
	}
	return fmt.Sprintf("%v: loan %s transaction %d: %s (expected %s, stored %s)",
		ErrDataIntegrity, e.LoanID, e.TransactionID, e.Reason, e.Expected.StringFixed(2), e.Stored.StringFixed(2))
}

func (e *DataIntegrityError) Unwrap() error {
	return ErrDataIntegrity
}
