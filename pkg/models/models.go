package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanType is the product label of a loan.
type LoanType string

const (
	LoanTypeAccion   LoanType = "ACCION"
	LoanTypeAgil     LoanType = "AGIL"
	LoanTypeNew      LoanType = "NEW_LOAN"
	LoanTypeOld      LoanType = "OLD_LOAN"
	LoanTypeOrdinary LoanType = "ORDINARY"
)

var loanTypes = map[LoanType]struct{}{
	LoanTypeAccion:   {},
	LoanTypeAgil:     {},
	LoanTypeNew:      {},
	LoanTypeOld:      {},
	LoanTypeOrdinary: {},
}

// ParseLoanType resolves a label into one of the known loan types.
func ParseLoanType(s string) (LoanType, error) {
	t := LoanType(s)
	if _, ok := loanTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown loan type %q", ErrValidation, s)
	}
	return t, nil
}

type Loan struct {
	ID                   uuid.UUID       `json:"id"`
	MemberID             uuid.UUID       `json:"member_id"`
	OriginalAmount       decimal.Decimal `json:"original_amount"`
	UpdatedAmount        decimal.Decimal `json:"updated_amount"` // Outstanding balance
	MonthlyPaymentAmount decimal.Decimal `json:"monthly_payment_amount"`
	InterestRate         decimal.Decimal `json:"interest_rate"` // Fraction per period
	LoanDate             time.Time       `json:"loan_date"`
	PaymentDate          time.Time       `json:"payment_date"` // First due date
	LoanType             LoanType        `json:"loan_type"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Closed reports whether the loan has been paid off.
func (l *Loan) Closed() bool {
	return l.UpdatedAmount.IsZero()
}

// LoanTransaction is one entry of a loan's append-only ledger.
type LoanTransaction struct {
	ID                 int64           `json:"id"`
	LoanID             uuid.UUID       `json:"loan_id"`
	Date               time.Time       `json:"date"`
	PaymentAmount      decimal.Decimal `json:"payment_amount"`
	InterestAmount     decimal.Decimal `json:"interest_amount"`
	DisbursementAmount decimal.Decimal `json:"disbursement_amount"`
	LastBalance        decimal.Decimal `json:"last_balance"` // Balance after this entry
}

// IsDisbursement reports whether the entry releases funds to the borrower.
func (t *LoanTransaction) IsDisbursement() bool {
	return t.DisbursementAmount.GreaterThan(decimal.Zero)
}

// IsInterestOnly reports whether the entry records interest without applying capital.
func (t *LoanTransaction) IsInterestOnly() bool {
	return !t.IsDisbursement() && t.PaymentAmount.IsZero() && t.InterestAmount.GreaterThan(decimal.Zero)
}

// EntryState tells recorded ledger events apart from projected installments.
type EntryState string

const (
	StatePaid    EntryState = "PAID"
	StatePending EntryState = "PENDING"
)

// LedgerEntry is a reconciled, balance-annotated view of a LoanTransaction.
type LedgerEntry struct {
	ID           int64            `json:"id"`
	Date         time.Time        `json:"date"`
	Capital      decimal.Decimal  `json:"capital"`
	Interest     decimal.Decimal  `json:"interest"`
	Balance      decimal.Decimal  `json:"balance"`
	Disbursement *decimal.Decimal `json:"disbursement,omitempty"`
	State        EntryState       `json:"state"`
}

// DisbursedAmount returns the disbursement of the entry, zero for payments.
func (e LedgerEntry) DisbursedAmount() decimal.Decimal {
	if e.Disbursement == nil {
		return decimal.Zero
	}
	return *e.Disbursement
}

// ScheduleEntry is one projected installment of an amortization schedule.
type ScheduleEntry struct {
	Number   int             `json:"number"`
	Date     time.Time       `json:"date"`
	Capital  decimal.Decimal `json:"capital"`
	Interest decimal.Decimal `json:"interest"`
	Payment  decimal.Decimal `json:"payment"`
	Balance  decimal.Decimal `json:"balance"`
	State    EntryState      `json:"state"`
}
