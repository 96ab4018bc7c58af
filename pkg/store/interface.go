package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/query"
	"github.com/shopspring/decimal"
)

// LedgerHead summarizes a loan's stored ledger as seen inside the write transaction.
type LedgerHead struct {
	LastDate  time.Time // Date of the newest entry, zero when there is none
	Disbursed decimal.Decimal
}

// BuildFunc derives the next ledger entry from the current state of a loan.
// It runs while the loan is locked for writing and may update fields of loan,
// which are saved together with the entry.
type BuildFunc func(loan *models.Loan, head LedgerHead) (*models.LoanTransaction, error)

// Storage defines the persistence operations the ledger and query services need.
type Storage interface {
	// CreateLoan stores a loan together with its opening transaction, if any.
	CreateLoan(ctx context.Context, loan *models.Loan, opening *models.LoanTransaction) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// ListLoans returns one page of loans matching q and the total match count.
	ListLoans(ctx context.Context, q query.ListQuery) ([]*models.Loan, int, error)

	// LoadTransactions returns the loan's ledger ordered by date, then id.
	LoadTransactions(ctx context.Context, loanID uuid.UUID, ascending bool) ([]*models.LoanTransaction, error)
	// AppendTransaction atomically appends the entry produced by build and sets
	// the loan's updated amount to the entry's last balance.
	AppendTransaction(ctx context.Context, loanID uuid.UUID, build BuildFunc) (*models.LoanTransaction, error)

	Close() error
}
