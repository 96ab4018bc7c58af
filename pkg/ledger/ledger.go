package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/money"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger handles the write side of loans: disbursal and the append-only transaction log.
type Ledger struct {
	storage store.Storage
	log     *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		storage: s,
		log:     log,
		now:     time.Now,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// lock serializes writers of one loan inside this process; the store's
// transaction covers other processes.
func (l *Ledger) lock(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// NewLoan holds the terms of a loan at disbursal.
type NewLoan struct {
	MemberID             uuid.UUID
	OriginalAmount       decimal.Decimal
	MonthlyPaymentAmount decimal.Decimal
	InterestRate         decimal.Decimal
	LoanDate             time.Time
	PaymentDate          time.Time // Defaults to one month after LoanDate
	LoanType             models.LoanType
	// Disbursed is the first tranche released. Zero means the whole original amount.
	Disbursed decimal.Decimal
}

// validate checks the terms after rounding them to money precision, so a
// value that rounds to zero is rejected.
func (n *NewLoan) validate() error {
	n.OriginalAmount = money.Amount(n.OriginalAmount)
	n.MonthlyPaymentAmount = money.Amount(n.MonthlyPaymentAmount)
	n.InterestRate = money.Rate(n.InterestRate)
	n.Disbursed = money.Amount(n.Disbursed)

	switch {
	case n.MemberID == uuid.Nil:
		return fmt.Errorf("%w: member id is required", models.ErrValidation)
	case !money.IsPositive(n.OriginalAmount):
		return fmt.Errorf("%w: original amount must be greater than zero", models.ErrValidation)
	case !money.IsPositive(n.MonthlyPaymentAmount):
		return fmt.Errorf("%w: monthly payment amount must be greater than zero", models.ErrValidation)
	case n.InterestRate.IsNegative() || n.InterestRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: interest rate must be in [0, 1)", models.ErrValidation)
	case n.Disbursed.IsNegative() || n.Disbursed.GreaterThan(n.OriginalAmount):
		return fmt.Errorf("%w: disbursed amount must be between zero and the original amount", models.ErrValidation)
	case n.LoanDate.IsZero():
		return fmt.Errorf("%w: loan date is required", models.ErrValidation)
	}
	if _, err := models.ParseLoanType(string(n.LoanType)); err != nil {
		return err
	}
	return nil
}

// CreateLoan stores a new loan and records its opening disbursement.
func (l *Ledger) CreateLoan(ctx context.Context, req NewLoan) (*models.Loan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	disbursed := money.Amount(req.Disbursed)
	if disbursed.IsZero() {
		disbursed = money.Amount(req.OriginalAmount)
	}
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = req.LoanDate.AddDate(0, 1, 0)
	}

	now := l.now().UTC()
	loan := &models.Loan{
		ID:                   uuid.New(),
		MemberID:             req.MemberID,
		OriginalAmount:       money.Amount(req.OriginalAmount),
		UpdatedAmount:        disbursed,
		MonthlyPaymentAmount: money.Amount(req.MonthlyPaymentAmount),
		InterestRate:         money.Rate(req.InterestRate),
		LoanDate:             req.LoanDate.UTC(),
		PaymentDate:          paymentDate.UTC(),
		LoanType:             req.LoanType,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	opening := &models.LoanTransaction{
		LoanID:             loan.ID,
		Date:               loan.LoanDate,
		DisbursementAmount: disbursed,
		LastBalance:        disbursed,
	}
	if err := l.storage.CreateLoan(ctx, loan, opening); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.String("member_id", loan.MemberID.String()),
		zap.String("disbursed", disbursed.StringFixed(2)))
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// Disburse releases a further tranche of the loan. The total disbursed may
// not exceed the original amount.
func (l *Ledger) Disburse(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date time.Time) (*models.LoanTransaction, error) {
	amount = money.Amount(amount)
	if !money.IsPositive(amount) {
		return nil, fmt.Errorf("%w: disbursement amount must be greater than zero", models.ErrValidation)
	}

	unlock := l.lock(loanID)
	defer unlock()

	return l.append(ctx, loanID, "disbursement", date, func(loan *models.Loan, head store.LedgerHead) (*models.LoanTransaction, error) {
		if head.Disbursed.Add(amount).GreaterThan(loan.OriginalAmount) {
			return nil, fmt.Errorf("%w: disbursing %s would exceed the original amount %s",
				models.ErrValidation, amount.StringFixed(2), loan.OriginalAmount.StringFixed(2))
		}
		return &models.LoanTransaction{
			DisbursementAmount: amount,
			LastBalance:        loan.UpdatedAmount.Add(amount),
		}, nil
	})
}

// RecordPayment applies capital to the outstanding balance and records the
// interest collected with it.
func (l *Ledger) RecordPayment(ctx context.Context, loanID uuid.UUID, capital, interest decimal.Decimal, date time.Time) (*models.LoanTransaction, error) {
	capital, interest = money.Amount(capital), money.Amount(interest)
	if capital.IsNegative() || interest.IsNegative() {
		return nil, fmt.Errorf("%w: payment amounts must not be negative", models.ErrValidation)
	}
	if capital.IsZero() && interest.IsZero() {
		return nil, fmt.Errorf("%w: payment must apply capital or interest", models.ErrValidation)
	}

	unlock := l.lock(loanID)
	defer unlock()

	return l.append(ctx, loanID, "payment", date, func(loan *models.Loan, _ store.LedgerHead) (*models.LoanTransaction, error) {
		if loan.Closed() {
			return nil, fmt.Errorf("%w: loan %s is closed", models.ErrValidation, loan.ID)
		}
		if capital.GreaterThan(loan.UpdatedAmount) {
			return nil, fmt.Errorf("%w: payment %s exceeds outstanding balance %s",
				models.ErrValidation, capital.StringFixed(2), loan.UpdatedAmount.StringFixed(2))
		}
		return &models.LoanTransaction{
			PaymentAmount:  capital,
			InterestAmount: interest,
			LastBalance:    loan.UpdatedAmount.Sub(capital),
		}, nil
	})
}

// AccrueInterest records interest collected without applying capital.
func (l *Ledger) AccrueInterest(ctx context.Context, loanID uuid.UUID, interest decimal.Decimal, date time.Time) (*models.LoanTransaction, error) {
	if !money.IsPositive(money.Amount(interest)) {
		return nil, fmt.Errorf("%w: interest amount must be greater than zero", models.ErrValidation)
	}
	return l.RecordPayment(ctx, loanID, decimal.Zero, interest, date)
}

// append stores the entry built for loanID dated at date. A new entry is
// always the newest in replay order, so it may not predate the loan or the
// last stored entry.
func (l *Ledger) append(ctx context.Context, loanID uuid.UUID, kind string, date time.Time, build store.BuildFunc) (*models.LoanTransaction, error) {
	date = l.dateOr(date)
	entry, err := l.storage.AppendTransaction(ctx, loanID, func(loan *models.Loan, head store.LedgerHead) (*models.LoanTransaction, error) {
		if date.Before(loan.LoanDate) {
			return nil, fmt.Errorf("%w: %s date %s is before the loan date %s",
				models.ErrValidation, kind, date.Format(time.DateOnly), loan.LoanDate.Format(time.DateOnly))
		}
		if date.Before(head.LastDate) {
			return nil, fmt.Errorf("%w: %s date %s is before the last recorded transaction on %s",
				models.ErrValidation, kind, date.Format(time.DateOnly), head.LastDate.Format(time.DateOnly))
		}
		entry, err := build(loan, head)
		if err != nil {
			return nil, err
		}
		entry.Date = date
		loan.UpdatedAmount = entry.LastBalance
		loan.UpdatedAt = l.now().UTC()
		return entry, nil
	})
	if err != nil {
		l.log.Warn("transaction rejected",
			zap.String("loan_id", loanID.String()), zap.String("kind", kind), zap.Error(err))
		return nil, err
	}
	l.log.Info("transaction recorded",
		zap.String("loan_id", loanID.String()),
		zap.String("kind", kind),
		zap.Int64("transaction_id", entry.ID),
		zap.String("last_balance", entry.LastBalance.StringFixed(2)))
	return entry, nil
}

func (l *Ledger) dateOr(date time.Time) time.Time {
	if date.IsZero() {
		return l.now().UTC()
	}
	return date.UTC()
}
